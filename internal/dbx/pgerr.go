package dbx

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// InsertError maps a failed INSERT into table onto the common sentinels.
// A unique violation on the primary key becomes ErrorAlreadyExists, any
// other unique violation ErrorConflict. Everything else is wrapped as a db error.
func InsertError(table string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == table+"_pkey" {
			return fmt.Errorf("%s: %w", table, common.ErrorAlreadyExists)
		}
		return fmt.Errorf("%s %s: %w", table, pgErr.ConstraintName, common.ErrorConflict)
	}
	return fmt.Errorf("db error: %w", err)
}
