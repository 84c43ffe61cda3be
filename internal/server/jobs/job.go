// Package jobs defines the write-job envelope exchanged between the
// dispatcher and the sync engine, and its strict decoding into a typed Job.
package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Table string

const (
	TableAccounts      Table = "accounts"
	TablePersonas      Table = "personas"
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
)

var (
	// ErrInvalidJob marks a job that can never be applied: unknown table or
	// operation, missing or mistyped data. Such jobs are dropped.
	ErrInvalidJob = errors.New("invalid job")
	// ErrMalformed marks input that is not valid JSON of the expected shape.
	ErrMalformed = errors.New("malformed envelope")
)

// Job is a decoded envelope. Data holds the full row for create
// (*models.Account, ...), the patch for update (*models.AccountPatch, ...)
// and nil for delete.
type Job struct {
	Operation Operation
	Table     Table
	ID        string
	Timestamp time.Time
	Data      any
}

type identified interface{ GetID() string }

type dataTypes struct {
	row   func() any
	patch func() any
}

var tables = map[Table]dataTypes{
	TableAccounts: {
		row:   func() any { return &models.Account{} },
		patch: func() any { return &models.AccountPatch{} },
	},
	TablePersonas: {
		row:   func() any { return &models.Persona{} },
		patch: func() any { return &models.PersonaPatch{} },
	},
	TableConversations: {
		row:   func() any { return &models.Conversation{} },
		patch: func() any { return &models.ConversationPatch{} },
	},
	TableMessages: {
		row:   func() any { return &models.Message{} },
		patch: func() any { return &models.MessagePatch{} },
	},
}

// KnownTable reports whether t is one of the four entity tables.
func KnownTable(t Table) bool {
	_, ok := tables[t]
	return ok
}

func NewCreate(table Table, row identified, at time.Time) Job {
	return Job{Operation: OpCreate, Table: table, ID: row.GetID(), Timestamp: at, Data: row}
}

func NewUpdate(table Table, id string, patch any, at time.Time) Job {
	return Job{Operation: OpUpdate, Table: table, ID: id, Timestamp: at, Data: patch}
}

func NewDelete(table Table, id string, at time.Time) Job {
	return Job{Operation: OpDelete, Table: table, ID: id, Timestamp: at}
}

// Validate checks that the job is well-formed for its (table, operation).
func (j Job) Validate() error {
	types, ok := tables[j.Table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", ErrInvalidJob, j.Table)
	}
	if j.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidJob)
	}

	switch j.Operation {
	case OpCreate:
		if !sameType(j.Data, types.row()) {
			return fmt.Errorf("%w: create %s carries %T", ErrInvalidJob, j.Table, j.Data)
		}
		if id := j.Data.(identified).GetID(); id != j.ID {
			return fmt.Errorf("%w: row id %q does not match job id %q", ErrInvalidJob, id, j.ID)
		}
	case OpUpdate:
		if !sameType(j.Data, types.patch()) {
			return fmt.Errorf("%w: update %s carries %T", ErrInvalidJob, j.Table, j.Data)
		}
	case OpDelete:
		if j.Data != nil {
			return fmt.Errorf("%w: delete carries data", ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidJob, j.Operation)
	}
	return nil
}

// sameType reports whether data is a non-nil value of want's type.
func sameType(data, want any) bool {
	if data == nil || reflect.TypeOf(data) != reflect.TypeOf(want) {
		return false
	}
	return !reflect.ValueOf(data).IsNil()
}

// String renders table/operation/id for logs.
func (j Job) String() string {
	return fmt.Sprintf("%s %s %s", j.Table, j.Operation, j.ID)
}
