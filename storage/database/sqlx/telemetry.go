package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/telemetry"
)

type readingRow struct {
	ID         int64     `db:"id"`
	DeviceID   string    `db:"device_id"`
	Metric     string    `db:"metric"`
	Value      float64   `db:"value"`
	Unit       string    `db:"unit"`
	RecordedAt time.Time `db:"recorded_at"`
}

type readingRepository struct {
	db *sqlx.DB
}

var _ telemetry.Repository = (*readingRepository)(nil)

func NewReadingRepository(db *sqlx.DB) telemetry.Repository {
	return &readingRepository{db: db}
}

// CreateReadings inserts the batch and fills in the generated ids.
func (repo *readingRepository) CreateReadings(ctx context.Context, readings ...telemetry.SensorReading) ([]telemetry.SensorReading, error) {
	if len(readings) == 0 {
		return readings, nil
	}
	q := psql.Insert("sensor_readings").Columns("device_id", "metric", "value", "unit", "recorded_at")
	for _, r := range readings {
		q = q.Values(r.DeviceID, r.Metric, r.Value, r.Unit, r.RecordedAt.UTC())
	}
	query, args, err := q.Suffix("RETURNING id").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var ids []int64
	if err = sqlx.SelectContext(ctx, repo.db, &ids, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return nil, device.ErrNotFound
		}
		return nil, errors.Wrap(err, "inserting sensor readings")
	}
	stored := make([]telemetry.SensorReading, len(readings))
	copy(stored, readings)
	for i := range stored {
		if i < len(ids) {
			stored[i].ID = ids[i]
		}
	}
	return stored, nil
}

// QueryReadings returns the newest readings first.
func (repo *readingRepository) QueryReadings(ctx context.Context, filter *telemetry.QueryFilter) ([]telemetry.SensorReading, error) {
	q := psql.Select("id", "device_id", "metric", "value", "unit", "recorded_at").
		From("sensor_readings").
		OrderBy("recorded_at DESC", "id DESC")
	if filter != nil {
		if filter.DeviceID != "" {
			if !validID(filter.DeviceID) {
				return []telemetry.SensorReading{}, nil
			}
			q = q.Where(sq.Eq{"device_id": filter.DeviceID})
		}
		if filter.Metric != "" {
			q = q.Where(sq.Eq{"metric": filter.Metric})
		}
		if !filter.From.IsZero() {
			q = q.Where(sq.GtOrEq{"recorded_at": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			q = q.Where(sq.LtOrEq{"recorded_at": filter.To.UTC()})
		}
		if filter.Limit > 0 {
			q = q.Limit(uint64(filter.Limit))
		}
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []readingRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying sensor readings")
	}
	readings := make([]telemetry.SensorReading, 0, len(rows))
	for _, r := range rows {
		readings = append(readings, telemetry.SensorReading(r))
	}
	return readings, nil
}
