package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/luxaar/luxaar/core"
)

// uniqueViolation is the postgres error code for unique constraint violations.
const uniqueViolation = "23505"

type repo struct {
	db *sqlx.DB
}

// getExec returns the transaction passed down by a service, or the pool.
func (r repo) getExec(svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 {
		if exec, ok := svcExec[0].(sqlx.ExtContext); ok {
			return exec
		}
	}
	return r.db
}

// trapNoRowsErr maps "no rows" to the domain's not found error.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error, constraint ...string) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	if !ok || pqErr.Code != uniqueViolation {
		return false
	}
	return len(constraint) == 0 || pqErr.Constraint == constraint[0]
}

// where accumulates AND-ed conditions written with "?" placeholders.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// orderBy renders orderings restricted to the allowed columns.
func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	cols := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		cols = append(cols, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(cols) == 0 {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + strings.Join(cols, ", ")
}

func nullUUID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}
