package syncengine

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"golang.org/x/sync/errgroup"
)

// Failure describes one job of a batch that did not succeed.
type Failure struct {
	Index     int            `json:"index"`
	Table     jobs.Table     `json:"table"`
	Operation jobs.Operation `json:"operation"`
	ID        string         `json:"id"`
	Outcome   Outcome        `json:"outcome"`
	Error     string         `json:"error"`
}

// BatchResult aggregates the outcome of every job in a batch.
type BatchResult struct {
	Count     int       `json:"count"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

type jobResult struct {
	job     jobs.Job
	outcome Outcome
	err     error
}

// BatchProcess applies every envelope of a JSON array concurrently. One
// job's failure never affects another. The returned error is non-nil only
// when raw is not a JSON array; raw is then archived whole. Failed jobs are
// logged and archived, including transient ones, since a batch is not
// redelivered.
func (e *Engine) BatchProcess(ctx context.Context, raw []byte) (BatchResult, error) {
	items, err := jobs.SplitBatch(raw)
	if err != nil {
		e.log.Warn(ctx, "write batch rejected", "error", err)
		e.ArchiveFailure(ctx, raw, jobs.Job{}, OutcomeRejected, err)
		return BatchResult{}, err
	}

	results := make([]jobResult, len(items))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, item := range items {
		g.Go(func() error {
			job, err := jobs.Decode(item)
			if err != nil {
				results[i] = jobResult{job: job, outcome: OutcomeRejected, err: err}
				return nil
			}
			outcome, err := e.ProcessJob(ctx, job)
			results[i] = jobResult{job: job, outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Count: len(items)}
	for i, r := range results {
		if r.err == nil && r.outcome.Succeeded() {
			res.Succeeded++
			continue
		}
		res.Failed++
		f := Failure{
			Index:     i,
			Table:     r.job.Table,
			Operation: r.job.Operation,
			ID:        r.job.ID,
			Outcome:   r.outcome,
		}
		if r.err != nil {
			f.Error = r.err.Error()
		}
		res.Failures = append(res.Failures, f)
		e.log.Warn(ctx, "batch job failed",
			"index", i, "table", f.Table, "operation", f.Operation, "id", f.ID, "outcome", f.Outcome, "error", f.Error)
		e.ArchiveFailure(ctx, items[i], r.job, r.outcome, r.err)
	}

	e.log.Info(ctx, "batch processed", "count", res.Count, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}
