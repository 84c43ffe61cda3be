package syncengine

import (
	"errors"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
)

// Outcome is the terminal state of one applied job.
type Outcome string

const (
	// OutcomeApplied: the mutation was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate: create for a row that already exists.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoOp: delete for a row that is already soft-deleted.
	OutcomeNoOp Outcome = "noop"
	// OutcomeNotFound: update or delete for a row that does not exist.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeRejected: the job can never be applied.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed: a transient store error; redelivery may succeed.
	OutcomeFailed Outcome = "failed"
)

// Succeeded reports whether the outcome counts as success in a batch.
func (o Outcome) Succeeded() bool {
	return o == OutcomeApplied || o == OutcomeDuplicate || o == OutcomeNoOp
}

// IsPermanent reports whether err should drop the job rather than ask the
// delivery channel to redeliver it.
func IsPermanent(err error) bool {
	return errors.Is(err, common.ErrorNotFound) ||
		errors.Is(err, common.ErrorConflict) ||
		errors.Is(err, jobs.ErrInvalidJob) ||
		errors.Is(err, jobs.ErrMalformed)
}
