package delivery

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/dispatch"
	"github.com/dmitrijs2005/chatkeeper/internal/server/signature"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startJetStream(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

type natsFixture struct {
	pub       *dispatch.NATSPublisher
	processor *fakeProcessor
	consumer  *NATSConsumer
}

func newNATSFixture(t *testing.T, p *fakeProcessor, opts ...ConsumerOption) *natsFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pub, err := dispatch.NewNATSPublisher(ctx, startJetStream(t), signature.NewSigner("current"))
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })

	r := NewReceiver(signature.NewVerifier("current", "next"), p, logging.NewNopLogger())
	c, err := NewNATSConsumer(ctx, pub.JetStream(), r, logging.NewNopLogger(), opts...)
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()

	return &natsFixture{pub: pub, processor: p, consumer: c}
}

func (f *natsFixture) publish(t *testing.T, body []byte, delay time.Duration) {
	t.Helper()
	_, err := f.pub.Publish(context.Background(), dispatch.PublishRequest{
		Target:  "http://127.0.0.1:8080" + common.SyncPath,
		Subject: dispatch.SubjectPrefix + "accounts",
		Body:    body,
		Delay:   delay,
	})
	require.NoError(t, err)
}

func (f *natsFixture) drained(t *testing.T) {
	t.Helper()
	stream, err := f.pub.JetStream().Stream(context.Background(), dispatch.StreamName)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := stream.Info(context.Background())
		return err == nil && info.State.Msgs == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNATSConsumer_DeliversAndAcks(t *testing.T) {
	p := &fakeProcessor{seen: make(chan []byte, 1)}
	f := newNATSFixture(t, p)
	body := []byte(`{"operation":"delete","table":"accounts","id":"a1","timestamp":1}`)

	f.publish(t, body, 0)

	select {
	case got := <-p.seen:
		assert.Equal(t, body, got)
	case <-time.After(5 * time.Second):
		t.Fatal("job not delivered")
	}
	f.drained(t)
}

func TestNATSConsumer_HoldsBackUntilDue(t *testing.T) {
	p := &fakeProcessor{seen: make(chan []byte, 1)}
	f := newNATSFixture(t, p)

	start := time.Now()
	f.publish(t, []byte(`{"id":"a1"}`), 500*time.Millisecond)

	select {
	case <-p.seen:
		assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("job not delivered")
	}
}

func TestNATSConsumer_TerminatesUnsigned(t *testing.T) {
	p := &fakeProcessor{}
	f := newNATSFixture(t, p)

	msg := nats.NewMsg(dispatch.SubjectPrefix + "accounts")
	msg.Data = []byte(`{"id":"a1"}`)
	msg.Header.Set(common.SignatureHeaderName, "not-a-token")
	msg.Header.Set(dispatch.HeaderNotBefore, strconv.FormatInt(time.Now().UnixMilli(), 10))
	_, err := f.pub.JetStream().PublishMsg(context.Background(), msg)
	require.NoError(t, err)

	f.drained(t)
	assert.Equal(t, 0, p.calls())
}

func TestNATSConsumer_RedeliversTransientFailure(t *testing.T) {
	p := &fakeProcessor{outcome: syncengine.OutcomeFailed, err: errors.New("db down"), seen: make(chan []byte, 4)}
	f := newNATSFixture(t, p)

	f.publish(t, []byte(`{"id":"a1"}`), 0)

	select {
	case <-p.seen:
	case <-time.After(5 * time.Second):
		t.Fatal("job not delivered")
	}

	info, err := f.consumer.consumer.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.AckFloor.Consumer)
}

func TestNATSConsumer_ArchivesAfterFinalDelivery(t *testing.T) {
	p := &fakeProcessor{outcome: syncengine.OutcomeFailed, err: errors.New("db down"), seen: make(chan []byte, 8)}
	f := newNATSFixture(t, p, WithMaxDeliver(2), WithRetryDelay(50*time.Millisecond))

	f.publish(t, []byte(`{"id":"a1"}`), 0)

	f.drained(t)
	require.Eventually(t, func() bool {
		return len(p.archivedOutcomes()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []syncengine.Outcome{syncengine.OutcomeFailed}, p.archivedOutcomes())
	assert.Equal(t, 2, p.calls())
}

func TestNATSConsumer_Defaults(t *testing.T) {
	f := newNATSFixture(t, &fakeProcessor{})
	assert.Equal(t, defaultMaxDeliver, f.consumer.maxDeliver)
	assert.Equal(t, defaultRetryDelay, f.consumer.retryDelay)

	info, err := f.consumer.consumer.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultMaxDeliver, info.Config.MaxDeliver)
}

func TestNotBefore(t *testing.T) {
	h := nats.Header{}
	assert.True(t, notBefore(h).IsZero())

	h.Set(dispatch.HeaderNotBefore, "bogus")
	assert.True(t, notBefore(h).IsZero())

	h.Set(dispatch.HeaderNotBefore, "1700000000000")
	assert.Equal(t, int64(1700000000000), notBefore(h).UnixMilli())
}
