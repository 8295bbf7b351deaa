package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	alertColumns = []string{
		"id", "house_id", "device_id", "type", "severity", "status", "title", "message", "confidence",
		"source", "created_at", "acknowledged_at", "acknowledged_by", "resolved_at", "resolved_by",
	}
	alertOrderings = map[string]string{
		"type":       "type",
		"severity":   severityRankExpr,
		"status":     "status",
		"confidence": "confidence",
		"created_at": "created_at",
	}
)

// severityRankExpr orders severities by gravity rather than alphabetically.
const severityRankExpr = "CASE severity WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 ELSE 0 END"

type alertRow struct {
	ID             string      `db:"id"`
	HouseID        string      `db:"house_id"`
	DeviceID       null.String `db:"device_id"`
	Type           string      `db:"type"`
	Severity       string      `db:"severity"`
	Status         string      `db:"status"`
	Title          string      `db:"title"`
	Message        string      `db:"message"`
	Confidence     float64     `db:"confidence"`
	Source         string      `db:"source"`
	CreatedAt      time.Time   `db:"created_at"`
	AcknowledgedAt null.Time   `db:"acknowledged_at"`
	AcknowledgedBy null.String `db:"acknowledged_by"`
	ResolvedAt     null.Time   `db:"resolved_at"`
	ResolvedBy     null.String `db:"resolved_by"`
}

func (r alertRow) alert() alert.Alert {
	return alert.Alert{
		ID:             r.ID,
		HouseID:        r.HouseID,
		DeviceID:       r.DeviceID.String,
		Type:           r.Type,
		Severity:       r.Severity,
		Status:         r.Status,
		Title:          r.Title,
		Message:        r.Message,
		Confidence:     r.Confidence,
		Source:         r.Source,
		CreatedAt:      r.CreatedAt,
		AcknowledgedAt: r.AcknowledgedAt.Time,
		AcknowledgedBy: r.AcknowledgedBy.String,
		ResolvedAt:     r.ResolvedAt.Time,
		ResolvedBy:     r.ResolvedBy.String,
	}
}

type alertRepository struct {
	db *sqlx.DB
}

var _ alert.Repository = (*alertRepository)(nil)

func NewAlertRepository(db *sqlx.DB) alert.Repository {
	return &alertRepository{db: db}
}

func (repo *alertRepository) CreateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	a.ID = uuid.New().String()
	query, args, err := psql.Insert("alerts").
		Columns(alertColumns...).
		Values(
			a.ID, a.HouseID, nullString(a.DeviceID), a.Type, a.Severity, a.Status, a.Title, a.Message, a.Confidence,
			a.Source, a.CreatedAt.UTC(), nullTime(a.AcknowledgedAt), nullString(a.AcknowledgedBy),
			nullTime(a.ResolvedAt), nullString(a.ResolvedBy),
		).
		ToSql()
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return alert.Alert{}, house.ErrNotFound
		}
		return alert.Alert{}, errors.Wrap(err, "inserting alert")
	}
	return a, nil
}

func (repo *alertRepository) QueryAlerts(ctx context.Context, filter *alert.QueryFilter, ordering []core.DBOrdering) ([]alert.Alert, error) {
	q := psql.Select(alertColumns...).From("alerts")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "title", "message"))
		}
		if len(filter.HouseIDs) > 0 {
			q = q.Where(sq.Eq{"house_id": validIDs(filter.HouseIDs)})
		}
		if len(filter.DeviceIDs) > 0 {
			q = q.Where(sq.Eq{"device_id": validIDs(filter.DeviceIDs)})
		}
		if len(filter.Types) > 0 {
			q = q.Where(sq.Eq{"type": filter.Types})
		}
		if len(filter.Severities) > 0 {
			q = q.Where(sq.Eq{"severity": filter.Severities})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"status": filter.Statuses})
		}
		if len(filter.Sources) > 0 {
			q = q.Where(sq.Eq{"source": filter.Sources})
		}
		if !filter.CreatedFrom.IsZero() {
			q = q.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			q = q.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
		if filter.Limit > 0 {
			q = q.Limit(uint64(filter.Limit))
		}
	}
	q = q.OrderBy(append(orderBy(ordering, alertOrderings), "created_at DESC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []alertRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying alerts")
	}
	alerts := make([]alert.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.alert())
	}
	return alerts, nil
}

func (repo *alertRepository) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	if !validID(id) {
		return alert.Alert{}, alert.ErrNotFound
	}
	query, args, err := psql.Select(alertColumns...).From("alerts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "building query")
	}
	var row alertRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return alert.Alert{}, trapNoRowsErr(err, alert.ErrNotFound, "finding alert")
	}
	return row.alert(), nil
}

func (repo *alertRepository) UpdateAlertStatus(ctx context.Context, a alert.Alert, from string) (alert.Alert, error) {
	if !validID(a.ID) {
		return alert.Alert{}, alert.ErrNotFound
	}
	query, args, err := psql.Update("alerts").
		SetMap(map[string]interface{}{
			"severity":        a.Severity,
			"status":          a.Status,
			"title":           a.Title,
			"message":         a.Message,
			"acknowledged_at": nullTime(a.AcknowledgedAt),
			"acknowledged_by": nullString(a.AcknowledgedBy),
			"resolved_at":     nullTime(a.ResolvedAt),
			"resolved_by":     nullString(a.ResolvedBy),
		}).
		Where(sq.Eq{"id": a.ID, "status": from}).
		ToSql()
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "updating alert")
	}
	if err = checkAffected(res, alert.ErrInvalidTransition); err != nil {
		// gone, or its status moved on
		if _, getErr := repo.GetAlert(ctx, a.ID); getErr == alert.ErrNotFound {
			return alert.Alert{}, alert.ErrNotFound
		}
		return alert.Alert{}, err
	}
	return a, nil
}

func (repo *alertRepository) DeleteAlert(ctx context.Context, id string) error {
	if !validID(id) {
		return alert.ErrNotFound
	}
	query, args, err := psql.Delete("alerts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting alert")
	}
	return checkAffected(res, alert.ErrNotFound)
}
