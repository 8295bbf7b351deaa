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
	"github.com/smarthomecloud/backend/core/surveillance"
)

var (
	feedColumns = []string{
		"id", "house_id", "device_id", "name", "stream_url", "resolution", "is_recording",
		"status", "last_motion_at", "created_at", "updated_at",
	}
	feedOrderings = map[string]string{
		"name":           "name",
		"status":         "status",
		"last_motion_at": "last_motion_at",
		"created_at":     "created_at",
	}
)

type feedRow struct {
	ID           string    `db:"id"`
	HouseID      string    `db:"house_id"`
	DeviceID     string    `db:"device_id"`
	Name         string    `db:"name"`
	StreamURL    string    `db:"stream_url"`
	Resolution   string    `db:"resolution"`
	IsRecording  bool      `db:"is_recording"`
	Status       string    `db:"status"`
	LastMotionAt null.Time `db:"last_motion_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r feedRow) feed() surveillance.Feed {
	return surveillance.Feed{
		ID:           r.ID,
		HouseID:      r.HouseID,
		DeviceID:     r.DeviceID,
		Name:         r.Name,
		StreamURL:    r.StreamURL,
		Resolution:   r.Resolution,
		IsRecording:  r.IsRecording,
		Status:       r.Status,
		LastMotionAt: r.LastMotionAt.Time,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type feedRepository struct {
	db *sqlx.DB
}

var _ surveillance.Repository = (*feedRepository)(nil)

func NewFeedRepository(db *sqlx.DB) surveillance.Repository {
	return &feedRepository{db: db}
}

func (repo *feedRepository) CreateFeed(ctx context.Context, f surveillance.Feed) (surveillance.Feed, error) {
	f.ID = uuid.New().String()
	query, args, err := psql.Insert("surveillance_feeds").
		Columns(feedColumns...).
		Values(
			f.ID, f.HouseID, f.DeviceID, f.Name, f.StreamURL, f.Resolution, f.IsRecording,
			f.Status, nullTime(f.LastMotionAt), f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return surveillance.Feed{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return surveillance.Feed{}, device.ErrNotFound
		}
		return surveillance.Feed{}, errors.Wrap(err, "inserting feed")
	}
	return f, nil
}

func (repo *feedRepository) QueryFeeds(ctx context.Context, filter *surveillance.QueryFilter, ordering []core.DBOrdering) ([]surveillance.Feed, error) {
	q := psql.Select(feedColumns...).From("surveillance_feeds")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name"))
		}
		if len(filter.HouseIDs) > 0 {
			q = q.Where(sq.Eq{"house_id": validIDs(filter.HouseIDs)})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"status": filter.Statuses})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, feedOrderings), "created_at ASC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []feedRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying feeds")
	}
	feeds := make([]surveillance.Feed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, r.feed())
	}
	return feeds, nil
}

func (repo *feedRepository) GetFeed(ctx context.Context, id string) (surveillance.Feed, error) {
	if !validID(id) {
		return surveillance.Feed{}, surveillance.ErrNotFound
	}
	query, args, err := psql.Select(feedColumns...).From("surveillance_feeds").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return surveillance.Feed{}, errors.Wrap(err, "building query")
	}
	var row feedRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return surveillance.Feed{}, trapNoRowsErr(err, surveillance.ErrNotFound, "finding feed")
	}
	return row.feed(), nil
}

func (repo *feedRepository) UpdateFeed(ctx context.Context, f surveillance.Feed) (surveillance.Feed, error) {
	if !validID(f.ID) {
		return surveillance.Feed{}, surveillance.ErrNotFound
	}
	query, args, err := psql.Update("surveillance_feeds").
		SetMap(map[string]interface{}{
			"name":           f.Name,
			"stream_url":     f.StreamURL,
			"resolution":     f.Resolution,
			"is_recording":   f.IsRecording,
			"status":         f.Status,
			"last_motion_at": nullTime(f.LastMotionAt),
			"updated_at":     f.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": f.ID}).
		ToSql()
	if err != nil {
		return surveillance.Feed{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return surveillance.Feed{}, errors.Wrap(err, "updating feed")
	}
	if err = checkAffected(res, surveillance.ErrNotFound); err != nil {
		return surveillance.Feed{}, err
	}
	return f, nil
}

func (repo *feedRepository) DeleteFeed(ctx context.Context, id string) error {
	if !validID(id) {
		return surveillance.ErrNotFound
	}
	query, args, err := psql.Delete("surveillance_feeds").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting feed")
	}
	return checkAffected(res, surveillance.ErrNotFound)
}
