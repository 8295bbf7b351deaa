package sqlxrepos

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	deviceColumns = []string{
		"id", "house_id", "name", "type", "model", "serial_number", "firmware_version",
		"location", "status", "config", "last_seen", "created_at", "updated_at",
	}
	deviceOrderings = map[string]string{
		"name":          "name",
		"type":          "type",
		"status":        "status",
		"serial_number": "serial_number",
		"location":      "location",
		"last_seen":     "last_seen",
		"created_at":    "created_at",
		"updated_at":    "updated_at",
	}
)

type deviceRow struct {
	ID              string         `db:"id"`
	HouseID         string         `db:"house_id"`
	Name            string         `db:"name"`
	Type            string         `db:"type"`
	Model           string         `db:"model"`
	SerialNumber    string         `db:"serial_number"`
	FirmwareVersion string         `db:"firmware_version"`
	Location        string         `db:"location"`
	Status          string         `db:"status"`
	Config          types.JSONText `db:"config"`
	LastSeen        null.Time      `db:"last_seen"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r deviceRow) device() (device.Device, error) {
	d := device.Device{
		ID:              r.ID,
		HouseID:         r.HouseID,
		Name:            r.Name,
		Type:            r.Type,
		Model:           r.Model,
		SerialNumber:    r.SerialNumber,
		FirmwareVersion: r.FirmwareVersion,
		Location:        r.Location,
		Status:          r.Status,
		LastSeen:        r.LastSeen.Time,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if len(r.Config) > 0 {
		if err := r.Config.Unmarshal(&d.Config); err != nil {
			return device.Device{}, errors.Wrap(err, "decoding device config")
		}
	}
	return d, nil
}

func marshalConfig(cfg device.Config) (types.JSONText, error) {
	if cfg == nil {
		cfg = device.Config{}
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encoding device config")
	}
	return types.JSONText(b), nil
}

type deviceRepository struct {
	db *sqlx.DB
}

var _ device.Repository = (*deviceRepository)(nil)

func NewDeviceRepository(db *sqlx.DB) device.Repository {
	return &deviceRepository{db: db}
}

func (repo *deviceRepository) CheckSerialUniqueness(ctx context.Context, serial string, excludedIDs ...string) error {
	q := psql.Select("COUNT(*)").From("devices").Where("LOWER(serial_number) = LOWER(?)", serial)
	if len(excludedIDs) > 0 {
		q = q.Where(sq.NotEq{"id": validIDs(excludedIDs)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	var count int
	if err = sqlx.GetContext(ctx, repo.db, &count, query, args...); err != nil {
		return errors.Wrap(err, "checking serial uniqueness")
	}
	if count > 0 {
		return device.ErrSerialExists
	}
	return nil
}

func (repo *deviceRepository) CreateDevice(ctx context.Context, d device.Device) (device.Device, error) {
	cfg, err := marshalConfig(d.Config)
	if err != nil {
		return device.Device{}, err
	}
	d.ID = uuid.New().String()
	query, args, err := psql.Insert("devices").
		Columns(deviceColumns...).
		Values(
			d.ID, d.HouseID, d.Name, d.Type, d.Model, d.SerialNumber, d.FirmwareVersion,
			d.Location, d.Status, cfg, nullTime(d.LastSeen), d.CreatedAt.UTC(), d.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return device.Device{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case isUniqueViolation(err):
			return device.Device{}, device.ErrSerialExists
		case isForeignKeyViolation(err):
			return device.Device{}, house.ErrNotFound
		}
		return device.Device{}, errors.Wrap(err, "inserting device")
	}
	return d, nil
}

func (repo *deviceRepository) selectDevices(ctx context.Context, q sq.SelectBuilder) ([]device.Device, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []deviceRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying devices")
	}
	devices := make([]device.Device, 0, len(rows))
	for _, r := range rows {
		d, err := r.device()
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (repo *deviceRepository) QueryDevices(ctx context.Context, filter *device.QueryFilter, ordering []core.DBOrdering) ([]device.Device, error) {
	q := psql.Select(deviceColumns...).From("devices")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name", "serial_number", "location"))
		}
		if len(filter.HouseIDs) > 0 {
			q = q.Where(sq.Eq{"house_id": validIDs(filter.HouseIDs)})
		}
		if len(filter.Types) > 0 {
			q = q.Where(sq.Eq{"type": filter.Types})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"status": filter.Statuses})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, deviceOrderings), "created_at ASC")...)
	return repo.selectDevices(ctx, q)
}

func (repo *deviceRepository) GetDevice(ctx context.Context, id string) (device.Device, error) {
	if !validID(id) {
		return device.Device{}, device.ErrNotFound
	}
	query, args, err := psql.Select(deviceColumns...).From("devices").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return device.Device{}, errors.Wrap(err, "building query")
	}
	var row deviceRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return device.Device{}, trapNoRowsErr(err, device.ErrNotFound, "finding device")
	}
	return row.device()
}

func (repo *deviceRepository) UpdateDevice(ctx context.Context, d device.Device) (device.Device, error) {
	if !validID(d.ID) {
		return device.Device{}, device.ErrNotFound
	}
	cfg, err := marshalConfig(d.Config)
	if err != nil {
		return device.Device{}, err
	}
	query, args, err := psql.Update("devices").
		SetMap(map[string]interface{}{
			"house_id":         d.HouseID,
			"name":             d.Name,
			"model":            d.Model,
			"firmware_version": d.FirmwareVersion,
			"location":         d.Location,
			"status":           d.Status,
			"config":           cfg,
			"last_seen":        nullTime(d.LastSeen),
			"updated_at":       d.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": d.ID}).
		ToSql()
	if err != nil {
		return device.Device{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return device.Device{}, house.ErrNotFound
		}
		return device.Device{}, errors.Wrap(err, "updating device")
	}
	if err = checkAffected(res, device.ErrNotFound); err != nil {
		return device.Device{}, err
	}
	return d, nil
}

func (repo *deviceRepository) DeleteDevice(ctx context.Context, id string) error {
	if !validID(id) {
		return device.ErrNotFound
	}
	query, args, err := psql.Delete("devices").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting device")
	}
	return checkAffected(res, device.ErrNotFound)
}

// QueryStaleDevices returns online devices not seen since before, oldest first.
func (repo *deviceRepository) QueryStaleDevices(ctx context.Context, before time.Time) ([]device.Device, error) {
	q := psql.Select(deviceColumns...).From("devices").
		Where(sq.Eq{"status": device.StatusOnline}).
		Where(sq.Or{sq.Eq{"last_seen": nil}, sq.Lt{"last_seen": before.UTC()}}).
		OrderBy("last_seen ASC NULLS FIRST")
	return repo.selectDevices(ctx, q)
}
