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
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/maintenance"
)

var (
	maintenanceColumns = []string{
		"m.id", "m.device_id", "d.house_id", "m.technician_id", "m.type", "m.status", "m.description",
		"m.scheduled_at", "m.completed_at", "m.created_at", "m.updated_at",
	}
	maintenanceOrderings = map[string]string{
		"type":         "m.type",
		"status":       "m.status",
		"scheduled_at": "m.scheduled_at",
		"completed_at": "m.completed_at",
		"created_at":   "m.created_at",
	}
)

type maintenanceRow struct {
	ID           string      `db:"id"`
	DeviceID     string      `db:"device_id"`
	HouseID      string      `db:"house_id"`
	TechnicianID null.String `db:"technician_id"`
	Type         string      `db:"type"`
	Status       string      `db:"status"`
	Description  string      `db:"description"`
	ScheduledAt  time.Time   `db:"scheduled_at"`
	CompletedAt  null.Time   `db:"completed_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r maintenanceRow) record() maintenance.Record {
	return maintenance.Record{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		HouseID:      r.HouseID,
		TechnicianID: r.TechnicianID.String,
		Type:         r.Type,
		Status:       r.Status,
		Description:  r.Description,
		ScheduledAt:  r.ScheduledAt,
		CompletedAt:  r.CompletedAt.Time,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type maintenanceRepository struct {
	db *sqlx.DB
}

var _ maintenance.Repository = (*maintenanceRepository)(nil)

func NewMaintenanceRepository(db *sqlx.DB) maintenance.Repository {
	return &maintenanceRepository{db: db}
}

// selectRecords joins devices: a record belongs to the house of its device.
func selectRecords() sq.SelectBuilder {
	return psql.Select(maintenanceColumns...).
		From("maintenance_records m").
		Join("devices d ON d.id = m.device_id")
}

func (repo *maintenanceRepository) CreateRecord(ctx context.Context, m maintenance.Record) (maintenance.Record, error) {
	m.ID = uuid.New().String()
	query, args, err := psql.Insert("maintenance_records").
		Columns(
			"id", "device_id", "technician_id", "type", "status", "description",
			"scheduled_at", "completed_at", "created_at", "updated_at",
		).
		Values(
			m.ID, m.DeviceID, nullString(m.TechnicianID), m.Type, m.Status, m.Description,
			m.ScheduledAt.UTC(), nullTime(m.CompletedAt), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
		).
		Suffix("RETURNING (SELECT devices.house_id FROM devices WHERE devices.id = maintenance_records.device_id)").
		ToSql()
	if err != nil {
		return maintenance.Record{}, errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, repo.db, &m.HouseID, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return maintenance.Record{}, device.ErrNotFound
		}
		return maintenance.Record{}, errors.Wrap(err, "inserting maintenance record")
	}
	return m, nil
}

func (repo *maintenanceRepository) QueryRecords(ctx context.Context, filter *maintenance.QueryFilter, ordering []core.DBOrdering) ([]maintenance.Record, error) {
	q := selectRecords()
	if filter != nil {
		if len(filter.DeviceIDs) > 0 {
			q = q.Where(sq.Eq{"m.device_id": validIDs(filter.DeviceIDs)})
		}
		if len(filter.HouseIDs) > 0 {
			q = q.Where(sq.Eq{"d.house_id": validIDs(filter.HouseIDs)})
		}
		if len(filter.TechnicianIDs) > 0 {
			q = q.Where(sq.Eq{"m.technician_id": validIDs(filter.TechnicianIDs)})
		}
		if len(filter.Types) > 0 {
			q = q.Where(sq.Eq{"m.type": filter.Types})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"m.status": filter.Statuses})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, maintenanceOrderings), "m.created_at ASC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []maintenanceRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying maintenance records")
	}
	records := make([]maintenance.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

func (repo *maintenanceRepository) GetRecord(ctx context.Context, id string) (maintenance.Record, error) {
	if !validID(id) {
		return maintenance.Record{}, maintenance.ErrNotFound
	}
	query, args, err := selectRecords().Where(sq.Eq{"m.id": id}).ToSql()
	if err != nil {
		return maintenance.Record{}, errors.Wrap(err, "building query")
	}
	var row maintenanceRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return maintenance.Record{}, trapNoRowsErr(err, maintenance.ErrNotFound, "finding maintenance record")
	}
	return row.record(), nil
}

func (repo *maintenanceRepository) UpdateRecord(ctx context.Context, m maintenance.Record, from string) (maintenance.Record, error) {
	if !validID(m.ID) {
		return maintenance.Record{}, maintenance.ErrNotFound
	}
	query, args, err := psql.Update("maintenance_records").
		SetMap(map[string]interface{}{
			"technician_id": nullString(m.TechnicianID),
			"type":          m.Type,
			"status":        m.Status,
			"description":   m.Description,
			"scheduled_at":  m.ScheduledAt.UTC(),
			"completed_at":  nullTime(m.CompletedAt),
			"updated_at":    m.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": m.ID, "status": from}).
		ToSql()
	if err != nil {
		return maintenance.Record{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return maintenance.Record{}, errors.Wrap(err, "updating maintenance record")
	}
	if err = checkAffected(res, maintenance.ErrStatusChanged); err != nil {
		if _, getErr := repo.GetRecord(ctx, m.ID); getErr == maintenance.ErrNotFound {
			return maintenance.Record{}, maintenance.ErrNotFound
		}
		return maintenance.Record{}, err
	}
	return m, nil
}

func (repo *maintenanceRepository) DeleteRecord(ctx context.Context, id string) error {
	if !validID(id) {
		return maintenance.ErrNotFound
	}
	query, args, err := psql.Delete("maintenance_records").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting maintenance record")
	}
	return checkAffected(res, maintenance.ErrNotFound)
}
