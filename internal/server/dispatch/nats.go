package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/signature"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding pending write jobs.
	StreamName = "WRITEJOBS"
	// HeaderNotBefore carries the earliest delivery time in epoch ms.
	HeaderNotBefore = "Deliver-Not-Before"
	// HeaderTarget carries the callback URL the token was issued for.
	HeaderTarget = "Deliver-Target"
)

// NATSPublisher publishes write jobs to JetStream. JetStream has no
// delayed delivery, so the due time travels in a header and the consumer
// holds the job back until then. Messages are signed like QStash deliveries
// so the consumer goes through the same verification.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	signer *signature.Signer
}

// NewNATSPublisher connects to url and makes sure the stream exists.
func NewNATSPublisher(ctx context.Context, url string, signer *signature.Signer, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("chatkeeper-dispatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := EnsureStream(ctx, js); err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSPublisher{conn: nc, js: js, signer: signer}, nil
}

// EnsureStream creates or updates the write-job stream. Jobs are removed
// once acknowledged.
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return stream, nil
}

// Publish signs and publishes req; the delivery id is the stream sequence.
func (p *NATSPublisher) Publish(ctx context.Context, req PublishRequest) (string, error) {
	sig, err := p.signer.Sign(req.Target, req.Body)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	msg := nats.NewMsg(req.Subject)
	msg.Data = req.Body
	for k, v := range req.Headers {
		msg.Header.Set(k, v)
	}
	msg.Header.Set(common.SignatureHeaderName, sig)
	msg.Header.Set(HeaderTarget, req.Target)
	msg.Header.Set(HeaderNotBefore, strconv.FormatInt(time.Now().Add(req.Delay).UnixMilli(), 10))

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("jetstream publish %s: %w", req.Subject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// JetStream exposes the context so a consumer can share the connection.
func (p *NATSPublisher) JetStream() jetstream.JetStream { return p.js }

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
