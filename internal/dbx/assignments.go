package dbx

import (
	"fmt"
	"strings"
)

// Assignments collects "column = $n" pairs for a partial UPDATE. Columns
// that are never added are left untouched by the generated statement.
type Assignments struct {
	cols []string
	args []any
}

// Set adds a column assignment.
func (a *Assignments) Set(col string, v any) {
	a.cols = append(a.cols, col)
	a.args = append(a.args, v)
}

// SetIf adds the assignment only when v is non-nil. Patch fields are
// pointers, so a nil pointer means "not supplied".
func SetIf[T any](a *Assignments, col string, v *T) {
	if v != nil {
		a.Set(col, *v)
	}
}

// SetOrNull adds the assignment when v is non-nil and sets col to NULL
// when clear is true. Otherwise col is left untouched.
func SetOrNull[T any](a *Assignments, col string, v *T, clear bool) {
	switch {
	case v != nil:
		a.Set(col, *v)
	case clear:
		a.Set(col, nil)
	}
}

// Len reports the number of assignments collected so far.
func (a *Assignments) Len() int { return len(a.cols) }

// Update renders "UPDATE <table> SET ... WHERE id = $n AND deleted_at IS NULL"
// with positional arguments. Soft-deleted rows are never updated.
func (a *Assignments) Update(table, id string) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET ", table)
	for i, c := range a.cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = $%d", c, i+1)
	}
	fmt.Fprintf(&sb, " WHERE id = $%d AND deleted_at IS NULL", len(a.cols)+1)

	args := make([]any, 0, len(a.args)+1)
	args = append(args, a.args...)
	args = append(args, id)
	return sb.String(), args
}
