// Package archive stores write jobs the sync engine could not apply so an
// operator can inspect and replay them by hand.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Record is one failed job.
type Record struct {
	Envelope  json.RawMessage `json:"envelope,omitempty"`
	Table     string          `json:"table"`
	Operation string          `json:"operation"`
	ID        string          `json:"id"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error"`
	FailedAt  time.Time       `json:"failedAt"`
}

// Archive persists failed jobs.
type Archive interface {
	Put(ctx context.Context, r Record) (string, error)
}

// NopArchive drops records. Used when no bucket is configured.
type NopArchive struct{}

func (NopArchive) Put(context.Context, Record) (string, error) { return "", nil }

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes each record as a JSON object to an S3-compatible bucket.
type S3Archive struct {
	client objectPutter
	bucket string
	newID  func() string
}

// New returns an S3Archive for cfg, or NopArchive when cfg.S3Bucket is empty.
func New(ctx context.Context, cfg *sc.Config) (Archive, error) {
	if cfg.S3Bucket == "" {
		return NopArchive{}, nil
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Archive(client, cfg.S3Bucket), nil
}

func NewS3Archive(client objectPutter, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, newID: uuid.NewString}
}

// Key returns the object key for r:
// failed-jobs/YYYY/MM/DD/<table>/<id>-<unique>.json
func (a *S3Archive) Key(r Record) string {
	d := r.FailedAt.UTC()
	table := r.Table
	if table == "" {
		table = "unknown"
	}
	id := r.ID
	if id == "" {
		id = "noid"
	}
	return fmt.Sprintf("failed-jobs/%04d/%02d/%02d/%s/%s-%s.json",
		d.Year(), d.Month(), d.Day(), table, id, a.newID())
}

// Put uploads r and returns its object key.
func (a *S3Archive) Put(ctx context.Context, r Record) (string, error) {
	if r.FailedAt.IsZero() {
		r.FailedAt = time.Now().UTC()
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	key := a.Key(r)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	return key, nil
}
