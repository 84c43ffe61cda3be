// Package dispatch hands encoded write jobs to an asynchronous delivery
// channel (QStash over HTTP, or NATS JetStream) that calls back into the
// sync endpoint after a delay.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
)

// SubjectPrefix prefixes the per-table NATS subject of a write job.
const SubjectPrefix = "writejobs."

// PublishRequest is one delivery to schedule.
type PublishRequest struct {
	// Target is the callback URL the channel delivers to.
	Target string
	// Subject routes the job on channels with a subject model.
	Subject string
	Body    []byte
	Headers map[string]string
	Delay   time.Duration
}

// Publisher is the asynchronous delivery primitive. Delivery is
// at-least-once with no ordering guarantee across calls.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

// Dispatcher encodes jobs and publishes them to the fixed sync callback.
type Dispatcher struct {
	pub    Publisher
	target string
	log    logging.Logger
}

func NewDispatcher(pub Publisher, callbackBaseURL string, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		pub:    pub,
		target: strings.TrimRight(callbackBaseURL, "/") + common.SyncPath,
		log:    log.With("module", "dispatch"),
	}
}

// Target returns the callback URL jobs are delivered to.
func (d *Dispatcher) Target() string { return d.target }

// Dispatch publishes job with the given delay and returns the channel's
// delivery id. Failures are returned as-is; nothing is retried here.
func (d *Dispatcher) Dispatch(ctx context.Context, job jobs.Job, delay time.Duration) (string, error) {
	body, err := jobs.Encode(job)
	if err != nil {
		return "", err
	}

	id, err := d.pub.Publish(ctx, PublishRequest{
		Target:  d.target,
		Subject: SubjectPrefix + string(job.Table),
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
		Delay:   delay,
	})
	if err != nil {
		d.log.Error(ctx, "write job dispatch failed",
			"table", job.Table, "operation", job.Operation, "id", job.ID, "error", err)
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}
