package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/dispatch"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// ConsumerName is the durable consumer shared by every server instance.
	ConsumerName = "sync-engine"

	defaultRetryDelay = 5 * time.Second
	defaultMaxDeliver = 20
)

// NATSConsumer pulls write jobs from JetStream and feeds them to a
// Receiver. Jobs not yet due are put back with a delay and bad signatures
// are terminated. Transient failures are redelivered until the last allowed
// delivery, after which the job is archived and terminated.
type NATSConsumer struct {
	consumer   jetstream.Consumer
	receiver   *Receiver
	retryDelay time.Duration
	maxDeliver int
	log        logging.Logger
}

type ConsumerOption func(*NATSConsumer)

// WithRetryDelay sets how long a transiently failed job waits before
// redelivery.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *NATSConsumer) { c.retryDelay = d }
}

// WithMaxDeliver caps deliveries per job, not-yet-due redeliveries included.
func WithMaxDeliver(n int) ConsumerOption {
	return func(c *NATSConsumer) { c.maxDeliver = n }
}

func NewNATSConsumer(ctx context.Context, js jetstream.JetStream, r *Receiver, log logging.Logger, opts ...ConsumerOption) (*NATSConsumer, error) {
	c := &NATSConsumer{
		receiver:   r,
		retryDelay: defaultRetryDelay,
		maxDeliver: defaultMaxDeliver,
		log:        log.With("module", "natsconsumer"),
	}
	for _, opt := range opts {
		opt(c)
	}

	stream, err := dispatch.EnsureStream(ctx, js)
	if err != nil {
		return nil, err
	}
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: dispatch.SubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    c.maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", ConsumerName, err)
	}
	c.consumer = cons
	return c, nil
}

// Run consumes until ctx is cancelled.
func (c *NATSConsumer) Run(ctx context.Context) error {
	cc, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info(ctx, "consuming write jobs", "consumer", ConsumerName)

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (c *NATSConsumer) handle(ctx context.Context, msg jetstream.Msg) {
	h := msg.Headers()

	if wait := time.Until(notBefore(h)); wait > 0 {
		if err := msg.NakWithDelay(wait); err != nil {
			c.log.Error(ctx, "nak not yet due job", "subject", msg.Subject(), "error", err)
		}
		return
	}

	job, outcome, err := c.receiver.Deliver(ctx, h.Get(common.SignatureHeaderName), msg.Data())
	switch {
	case errors.Is(err, common.ErrorUnauthorized):
		c.log.Warn(ctx, "terminating unsigned write job", "subject", msg.Subject())
		err = msg.Term()
	case err != nil && !syncengine.IsPermanent(err) && c.lastDelivery(msg):
		c.receiver.Abandon(ctx, msg.Data(), job, outcome, err)
		err = msg.Term()
	case err != nil && !syncengine.IsPermanent(err):
		c.log.Warn(ctx, "write job will be redelivered", "id", job.ID, "outcome", outcome, "error", err)
		err = msg.NakWithDelay(c.retryDelay)
	default:
		err = msg.Ack()
	}
	if err != nil {
		c.log.Error(ctx, "acknowledge write job", "subject", msg.Subject(), "error", err)
	}
}

// lastDelivery reports whether JetStream will not redeliver msg again.
func (c *NATSConsumer) lastDelivery(msg jetstream.Msg) bool {
	md, err := msg.Metadata()
	if err != nil {
		return false
	}
	return c.maxDeliver > 0 && md.NumDelivered >= uint64(c.maxDeliver)
}

// notBefore parses the due header; a missing or bad header means due now.
func notBefore(h nats.Header) time.Time {
	v := h.Get(dispatch.HeaderNotBefore)
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
