package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/house"
)

type houseRepository struct {
	db *DB
}

var _ house.Repository = (*houseRepository)(nil)

func NewHouseRepository(db *DB) house.Repository {
	return &houseRepository{db: db}
}

var houseFields = fieldGetters[house.House]{
	"name":       func(h house.House) interface{} { return h.Name },
	"created_at": func(h house.House) interface{} { return h.CreatedAt },
	"updated_at": func(h house.House) interface{} { return h.UpdatedAt },
}

func (repo *houseRepository) CreateHouse(ctx context.Context, h house.House) (house.House, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[h.OwnerID]; !ok {
		return house.House{}, core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "owner not found"})
	}
	h.ID = newID()
	repo.db.houses[h.ID] = h
	return h, nil
}

func (repo *houseRepository) QueryHouses(ctx context.Context, filter *house.QueryFilter, ordering []core.DBOrdering) ([]house.House, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	houses := make([]house.House, 0, len(repo.db.houses))
	for _, h := range repo.db.houses {
		if filter != nil {
			if filter.Search != "" && !containsFold(h.Name, filter.Search) && !containsFold(h.Address, filter.Search) {
				continue
			}
			if !inFilter(h.OwnerID, filter.OwnerIDs) || !inFilter(h.ID, filter.IDs) {
				continue
			}
		}
		houses = append(houses, h)
	}
	orderBy(houses, ordering, houseFields, func(a, b house.House) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return houses, nil
}

func (repo *houseRepository) GetHouse(ctx context.Context, id string) (house.House, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if h, ok := repo.db.houses[id]; ok {
		return h, nil
	}
	return house.House{}, house.ErrNotFound
}

func (repo *houseRepository) UpdateHouse(ctx context.Context, h house.House) (house.House, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.houses[h.ID]; !ok {
		return house.House{}, house.ErrNotFound
	}
	repo.db.houses[h.ID] = h
	return h, nil
}

func (repo *houseRepository) DeleteHouse(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.houses[id]; !ok {
		return house.ErrNotFound
	}
	repo.db.deleteHouseCascade(id)
	return nil
}
