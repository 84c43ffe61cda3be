// Package delivery is the receiving end of the write-behind channel. It
// verifies the signature of each delivery before anything reaches the sync
// engine, for both HTTP callbacks and JetStream messages.
package delivery

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
)

type Verifier interface {
	Verify(header string, body []byte) bool
}

// Processor applies verified payloads. Implemented by *syncengine.Engine.
type Processor interface {
	ProcessEnvelope(ctx context.Context, raw []byte) (jobs.Job, syncengine.Outcome, error)
	BatchProcess(ctx context.Context, raw []byte) (syncengine.BatchResult, error)
	ArchiveFailure(ctx context.Context, raw []byte, job jobs.Job, outcome syncengine.Outcome, cause error)
}

type Receiver struct {
	verifier  Verifier
	processor Processor
	log       logging.Logger
}

func NewReceiver(v Verifier, p Processor, log logging.Logger) *Receiver {
	return &Receiver{verifier: v, processor: p, log: log.With("module", "delivery")}
}

func (r *Receiver) verify(ctx context.Context, sig string, body []byte) error {
	if sig == "" {
		r.log.Debug(ctx, "delivery without signature")
		return fmt.Errorf("%w: missing signature", common.ErrorUnauthorized)
	}
	if !r.verifier.Verify(sig, body) {
		r.log.Debug(ctx, "delivery signature rejected")
		return fmt.Errorf("%w: invalid signature", common.ErrorUnauthorized)
	}
	return nil
}

// Deliver verifies sig against body and applies the single job it carries.
// A bad signature yields common.ErrorUnauthorized and nothing is applied.
func (r *Receiver) Deliver(ctx context.Context, sig string, body []byte) (jobs.Job, syncengine.Outcome, error) {
	if err := r.verify(ctx, sig, body); err != nil {
		return jobs.Job{}, "", err
	}
	return r.processor.ProcessEnvelope(ctx, body)
}

// DeliverBatch verifies sig against body and applies the array of jobs.
func (r *Receiver) DeliverBatch(ctx context.Context, sig string, body []byte) (syncengine.BatchResult, error) {
	if err := r.verify(ctx, sig, body); err != nil {
		return syncengine.BatchResult{}, err
	}
	return r.processor.BatchProcess(ctx, body)
}

// Abandon archives a job the channel has given up redelivering.
func (r *Receiver) Abandon(ctx context.Context, body []byte, job jobs.Job, outcome syncengine.Outcome, cause error) {
	r.log.Error(ctx, "write job abandoned after final delivery",
		"table", job.Table, "operation", job.Operation, "id", job.ID, "outcome", outcome, "error", cause)
	r.processor.ArchiveFailure(ctx, body, job, outcome, cause)
}
