// Package sqlxrepos implements the repositories on PostgreSQL with sqlx and squirrel.
package sqlxrepos

import (
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/smarthomecloud/backend/core"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

// validIDs keeps the well-formed UUIDs: anything else cannot match a row and would fail the query.
func validIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	return valid
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// orderBy renders the allowed orderings for an ORDER BY clause. columns maps API fields to SQL expressions.
func orderBy(ordering []core.DBOrdering, columns map[string]string) []string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	return clauses
}

// trapNoRowsErr maps psql "no rows" err to notFound, and a server going
// away to a shutdown error.
func trapNoRowsErr(err, notFound error, msg string) error {
	switch {
	case errors.Cause(err) == sql.ErrNoRows:
		return notFound
	case isServerShutdown(err):
		return errors.Wrap(core.NewShutdownError("database is shutting down: "+err.Error()), msg)
	}
	return errors.Wrap(err, msg)
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// class 57P: admin_shutdown, crash_shutdown, cannot_connect_now
func isServerShutdown(err error) bool { return strings.HasPrefix(pqCode(err), "57P") }

func isUniqueViolation(err error) bool { return pqCode(err) == pqUniqueViolation }

func isForeignKeyViolation(err error) bool { return pqCode(err) == pqForeignKeyViolation }

// checkAffected returns notFound when a write touched no row.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func ilike(val string, columns ...string) sq.Or {
	pattern := "%" + val + "%"
	or := make(sq.Or, 0, len(columns))
	for _, c := range columns {
		or = append(or, sq.ILike{c: pattern})
	}
	return or
}
