package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// ExecUpdate runs the partial UPDATE built by a. Zero affected rows means
// the row is missing or soft-deleted and yields common.ErrorNotFound.
// Unique violations are mapped as in InsertError.
func ExecUpdate(ctx context.Context, db DBTX, a *Assignments, table, id string) error {
	query, args := a.Update(table, id)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return InsertError(table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// SoftDelete sets deleted_at on a live row. It reports false with no error
// when the row was already deleted, and common.ErrorNotFound when there is
// no row with that id at all.
func SoftDelete(ctx context.Context, db DBTX, table, id string, at time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, table),
		at, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, table), id).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return false, nil
}
