package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/device"
)

var configLogOrderings = map[string]string{"field": "field", "created_at": "created_at"}

type configLogRow struct {
	ID        int64       `db:"id"`
	DeviceID  string      `db:"device_id"`
	ChangedBy null.String `db:"changed_by"`
	Field     string      `db:"field"`
	OldValue  string      `db:"old_value"`
	NewValue  string      `db:"new_value"`
	CreatedAt time.Time   `db:"created_at"`
}

type configLogRepository struct {
	db *sqlx.DB
}

var _ configlog.Repository = (*configLogRepository)(nil)

func NewConfigLogRepository(db *sqlx.DB) configlog.Repository {
	return &configLogRepository{db: db}
}

// CreateEntries inserts all entries in one statement.
func (repo *configLogRepository) CreateEntries(ctx context.Context, entries ...configlog.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	q := psql.Insert("config_change_logs").Columns("device_id", "changed_by", "field", "old_value", "new_value", "created_at")
	for _, e := range entries {
		q = q.Values(e.DeviceID, nullString(e.ChangedBy), e.Field, e.OldValue, e.NewValue, e.CreatedAt.UTC())
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return device.ErrNotFound
		}
		return errors.Wrap(err, "inserting config change logs")
	}
	return nil
}

func (repo *configLogRepository) QueryEntries(ctx context.Context, filter *configlog.QueryFilter, ordering []core.DBOrdering) ([]configlog.Entry, error) {
	q := psql.Select("id", "device_id", "changed_by", "field", "old_value", "new_value", "created_at").From("config_change_logs")
	if filter != nil {
		if filter.DeviceID != "" {
			if !validID(filter.DeviceID) {
				return []configlog.Entry{}, nil
			}
			q = q.Where(sq.Eq{"device_id": filter.DeviceID})
		}
		if filter.Field != "" {
			q = q.Where(sq.Eq{"field": filter.Field})
		}
		if filter.ChangedBy != "" {
			if !validID(filter.ChangedBy) {
				return []configlog.Entry{}, nil
			}
			q = q.Where(sq.Eq{"changed_by": filter.ChangedBy})
		}
		if !filter.CreatedFrom.IsZero() {
			q = q.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			q = q.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, configLogOrderings), "id ASC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []configLogRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying config change logs")
	}
	entries := make([]configlog.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, configlog.Entry{
			ID:        r.ID,
			DeviceID:  r.DeviceID,
			ChangedBy: r.ChangedBy.String,
			Field:     r.Field,
			OldValue:  r.OldValue,
			NewValue:  r.NewValue,
			CreatedAt: r.CreatedAt,
		})
	}
	return entries, nil
}
