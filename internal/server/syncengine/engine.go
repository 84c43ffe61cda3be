// Package syncengine applies verified write jobs to PostgreSQL. Creates are
// idempotent on the primary key, deletes are idempotent soft deletes, and
// updates touch only the supplied columns. The engine never retries; that
// is left to the delivery channel.
package syncengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/archive"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

type Engine struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	archive     archive.Archive
	concurrency int
	now         func() time.Time
	log         logging.Logger
}

func NewEngine(db *sql.DB, rm repomanager.RepositoryManager, arc archive.Archive, concurrency int, log logging.Logger) *Engine {
	if arc == nil {
		arc = archive.NopArchive{}
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		db:          db,
		repomanager: rm,
		archive:     arc,
		concurrency: concurrency,
		now:         time.Now,
		log:         log.With("module", "syncengine"),
	}
}

// ProcessJob applies one decoded job and reports its outcome. Duplicate
// creates and repeated deletes are successes with a nil error.
func (e *Engine) ProcessJob(ctx context.Context, job jobs.Job) (Outcome, error) {
	log := e.log.With("table", job.Table, "operation", job.Operation, "id", job.ID)

	if err := job.Validate(); err != nil {
		log.Warn(ctx, "write job rejected", "error", err)
		return OutcomeRejected, err
	}

	outcome, err := e.apply(ctx, job)
	switch {
	case err == nil:
		log.Info(ctx, "write job processed", "outcome", outcome)
	case IsPermanent(err):
		log.Warn(ctx, "write job dropped", "outcome", outcome, "error", err)
	default:
		log.Error(ctx, "write job failed", "error", err)
	}
	return outcome, err
}

func (e *Engine) apply(ctx context.Context, job jobs.Job) (Outcome, error) {
	switch job.Operation {
	case jobs.OpCreate:
		err := e.insert(ctx, job.Data)
		if errors.Is(err, common.ErrorAlreadyExists) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return failure(err), err
		}
		return OutcomeApplied, nil

	case jobs.OpUpdate:
		if err := e.update(ctx, job.ID, job.Data); err != nil {
			return failure(err), err
		}
		return OutcomeApplied, nil

	case jobs.OpDelete:
		var deleted bool
		err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			deleted, err = e.softDelete(ctx, tx, job.Table, job.ID)
			return err
		})
		if err != nil {
			return failure(err), err
		}
		if !deleted {
			return OutcomeNoOp, nil
		}
		return OutcomeApplied, nil
	}

	return OutcomeRejected, fmt.Errorf("%w: unknown operation %q", jobs.ErrInvalidJob, job.Operation)
}

func failure(err error) Outcome {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return OutcomeNotFound
	case IsPermanent(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

func (e *Engine) insert(ctx context.Context, data any) error {
	switch row := data.(type) {
	case *models.Account:
		return e.repomanager.Accounts(e.db).Insert(ctx, row)
	case *models.Persona:
		return e.repomanager.Personas(e.db).Insert(ctx, row)
	case *models.Conversation:
		return e.repomanager.Conversations(e.db).Insert(ctx, row)
	case *models.Message:
		return e.repomanager.Messages(e.db).Insert(ctx, row)
	}
	return fmt.Errorf("%w: create data %T", jobs.ErrInvalidJob, data)
}

func (e *Engine) update(ctx context.Context, id string, data any) error {
	if v, ok := data.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", jobs.ErrInvalidJob, err)
		}
	}
	at := e.now().UTC().Truncate(models.Precision)
	switch patch := data.(type) {
	case *models.AccountPatch:
		return e.repomanager.Accounts(e.db).Update(ctx, id, patch, at)
	case *models.PersonaPatch:
		return e.repomanager.Personas(e.db).Update(ctx, id, patch, at)
	case *models.ConversationPatch:
		return e.repomanager.Conversations(e.db).Update(ctx, id, patch, at)
	case *models.MessagePatch:
		return e.repomanager.Messages(e.db).Update(ctx, id, patch, at)
	}
	return fmt.Errorf("%w: update data %T", jobs.ErrInvalidJob, data)
}

func (e *Engine) softDelete(ctx context.Context, tx dbx.DBTX, table jobs.Table, id string) (bool, error) {
	at := e.now().UTC().Truncate(models.Precision)
	switch table {
	case jobs.TableAccounts:
		return e.repomanager.Accounts(tx).SoftDelete(ctx, id, at)
	case jobs.TablePersonas:
		return e.repomanager.Personas(tx).SoftDelete(ctx, id, at)
	case jobs.TableConversations:
		return e.repomanager.Conversations(tx).SoftDelete(ctx, id, at)
	case jobs.TableMessages:
		return e.repomanager.Messages(tx).SoftDelete(ctx, id, at)
	}
	return false, fmt.Errorf("%w: unknown table %q", jobs.ErrInvalidJob, table)
}

// ProcessEnvelope decodes raw and applies it. Undecodable input is
// rejected. Permanent failures are archived; transient ones are left for
// redelivery.
func (e *Engine) ProcessEnvelope(ctx context.Context, raw []byte) (jobs.Job, Outcome, error) {
	job, err := jobs.Decode(raw)
	var outcome Outcome
	if err != nil {
		e.log.Warn(ctx, "write job rejected",
			"table", job.Table, "operation", job.Operation, "id", job.ID, "error", err)
		outcome = OutcomeRejected
	} else {
		outcome, err = e.ProcessJob(ctx, job)
	}

	if err != nil && IsPermanent(err) {
		e.ArchiveFailure(ctx, raw, job, outcome, err)
	}
	return job, outcome, err
}

// ArchiveFailure records a job that will not be retried. Archive errors are
// logged only.
func (e *Engine) ArchiveFailure(ctx context.Context, raw []byte, job jobs.Job, outcome Outcome, cause error) {
	rec := archive.Record{
		Table:     string(job.Table),
		Operation: string(job.Operation),
		ID:        job.ID,
		Outcome:   string(outcome),
		FailedAt:  e.now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if json.Valid(raw) {
		rec.Envelope = json.RawMessage(raw)
	}
	key, err := e.archive.Put(ctx, rec)
	if err != nil {
		e.log.Error(ctx, "archive failed job", "table", job.Table, "operation", job.Operation, "id", job.ID, "error", err)
		return
	}
	if key != "" {
		e.log.Info(ctx, "failed job archived", "table", job.Table, "operation", job.Operation, "id", job.ID, "key", key)
	}
}
