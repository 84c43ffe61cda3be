package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archive_Put(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archive(putter, "failed")
	a.newID = func() string { return "fixed" }

	r := Record{
		Envelope:  json.RawMessage(`{"operation":"update","table":"accounts","id":"u1","data":{},"timestamp":1}`),
		Table:     "accounts",
		Operation: "update",
		ID:        "u1",
		Outcome:   "not_found",
		Error:     "not found",
		FailedAt:  time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}
	key, err := a.Put(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, "failed-jobs/2026/03/09/accounts/u1-fixed.json", key)
	assert.Equal(t, "failed", aws.ToString(putter.in.Bucket))
	assert.Equal(t, key, aws.ToString(putter.in.Key))
	assert.Equal(t, "application/json", aws.ToString(putter.in.ContentType))

	var got Record
	require.NoError(t, json.Unmarshal(putter.body, &got))
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "not_found", got.Outcome)
	assert.JSONEq(t, string(r.Envelope), string(got.Envelope))
}

func TestS3Archive_KeyForUnparsableJob(t *testing.T) {
	a := NewS3Archive(&fakePutter{}, "failed")
	a.newID = func() string { return "x" }

	key := a.Key(Record{FailedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, "failed-jobs/2026/01/02/unknown/noid-x.json", key)
}

func TestS3Archive_PutError(t *testing.T) {
	a := NewS3Archive(&fakePutter{err: errors.New("denied")}, "failed")
	_, err := a.Put(context.Background(), Record{Table: "accounts", ID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNew_NoBucketIsNop(t *testing.T) {
	a, err := New(context.Background(), &sc.Config{})
	require.NoError(t, err)
	assert.IsType(t, NopArchive{}, a)

	key, err := a.Put(context.Background(), Record{})
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestNew_ConfiguresClient(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}

	a, err := New(context.Background(), &sc.Config{
		S3Bucket:       "failed",
		S3Region:       "eu-central-1",
		S3BaseEndpoint: "http://minio:9000",
		S3RootUser:     "u",
		S3RootPassword: "p",
	})
	require.NoError(t, err)
	assert.IsType(t, &S3Archive{}, a)
	assert.Equal(t, "http://minio:9000", aws.ToString(opts.BaseEndpoint))
	assert.True(t, opts.UsePathStyle)
}

func TestNew_ConfigError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}

	_, err := New(context.Background(), &sc.Config{S3Bucket: "failed"})
	assert.Error(t, err)
}
