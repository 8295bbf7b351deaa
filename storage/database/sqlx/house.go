package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	houseColumns   = []string{"id", "owner_id", "name", "address", "timezone", "created_at", "updated_at"}
	houseOrderings = map[string]string{"name": "name", "created_at": "created_at", "updated_at": "updated_at"}

	errHouseOwnerNotFound = core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "owner not found"})
)

type houseRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Name      string    `db:"name"`
	Address   string    `db:"address"`
	Timezone  string    `db:"timezone"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r houseRow) house() house.House {
	return house.House(r)
}

type houseRepository struct {
	db *sqlx.DB
}

var _ house.Repository = (*houseRepository)(nil)

func NewHouseRepository(db *sqlx.DB) house.Repository {
	return &houseRepository{db: db}
}

func (repo *houseRepository) CreateHouse(ctx context.Context, h house.House) (house.House, error) {
	h.ID = uuid.New().String()
	query, args, err := psql.Insert("houses").
		Columns(houseColumns...).
		Values(h.ID, h.OwnerID, h.Name, h.Address, h.Timezone, h.CreatedAt.UTC(), h.UpdatedAt.UTC()).
		ToSql()
	if err != nil {
		return house.House{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return house.House{}, errHouseOwnerNotFound
		}
		return house.House{}, errors.Wrap(err, "inserting house")
	}
	return h, nil
}

func (repo *houseRepository) QueryHouses(ctx context.Context, filter *house.QueryFilter, ordering []core.DBOrdering) ([]house.House, error) {
	q := psql.Select(houseColumns...).From("houses")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name", "address"))
		}
		if len(filter.OwnerIDs) > 0 {
			q = q.Where(sq.Eq{"owner_id": validIDs(filter.OwnerIDs)})
		}
		if len(filter.IDs) > 0 {
			q = q.Where(sq.Eq{"id": validIDs(filter.IDs)})
		}
	}
	q = q.OrderBy(append(orderBy(ordering, houseOrderings), "created_at ASC")...)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []houseRow
	if err = sqlx.SelectContext(ctx, repo.db, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying houses")
	}
	houses := make([]house.House, 0, len(rows))
	for _, r := range rows {
		houses = append(houses, r.house())
	}
	return houses, nil
}

func (repo *houseRepository) GetHouse(ctx context.Context, id string) (house.House, error) {
	if !validID(id) {
		return house.House{}, house.ErrNotFound
	}
	query, args, err := psql.Select(houseColumns...).From("houses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return house.House{}, errors.Wrap(err, "building query")
	}
	var row houseRow
	if err = sqlx.GetContext(ctx, repo.db, &row, query, args...); err != nil {
		return house.House{}, trapNoRowsErr(err, house.ErrNotFound, "finding house")
	}
	return row.house(), nil
}

func (repo *houseRepository) UpdateHouse(ctx context.Context, h house.House) (house.House, error) {
	if !validID(h.ID) {
		return house.House{}, house.ErrNotFound
	}
	query, args, err := psql.Update("houses").
		SetMap(map[string]interface{}{
			"owner_id":   h.OwnerID,
			"name":       h.Name,
			"address":    h.Address,
			"timezone":   h.Timezone,
			"updated_at": h.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": h.ID}).
		ToSql()
	if err != nil {
		return house.House{}, errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return house.House{}, errHouseOwnerNotFound
		}
		return house.House{}, errors.Wrap(err, "updating house")
	}
	if err = checkAffected(res, house.ErrNotFound); err != nil {
		return house.House{}, err
	}
	return h, nil
}

// DeleteHouse relies on ON DELETE CASCADE for devices, alerts, rules and feeds.
func (repo *houseRepository) DeleteHouse(ctx context.Context, id string) error {
	if !validID(id) {
		return house.ErrNotFound
	}
	query, args, err := psql.Delete("houses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "deleting house")
	}
	return checkAffected(res, house.ErrNotFound)
}
