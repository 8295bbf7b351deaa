package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/maintenance"
)

type maintenanceRepository struct {
	db *DB
}

var _ maintenance.Repository = (*maintenanceRepository)(nil)

func NewMaintenanceRepository(db *DB) maintenance.Repository {
	return &maintenanceRepository{db: db}
}

var maintenanceFields = fieldGetters[maintenance.Record]{
	"type":         func(m maintenance.Record) interface{} { return m.Type },
	"status":       func(m maintenance.Record) interface{} { return m.Status },
	"scheduled_at": func(m maintenance.Record) interface{} { return m.ScheduledAt },
	"completed_at": func(m maintenance.Record) interface{} { return m.CompletedAt },
	"created_at":   func(m maintenance.Record) interface{} { return m.CreatedAt },
}

// withHouse fills the house of a record from its device, like the SQL join does.
func (repo *maintenanceRepository) withHouse(m maintenance.Record) maintenance.Record {
	if d, ok := repo.db.devices[m.DeviceID]; ok {
		m.HouseID = d.HouseID
	}
	return m
}

func (repo *maintenanceRepository) CreateRecord(ctx context.Context, m maintenance.Record) (maintenance.Record, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.devices[m.DeviceID]; !ok {
		return maintenance.Record{}, device.ErrNotFound
	}
	m.ID = newID()
	repo.db.maintenance[m.ID] = m
	return repo.withHouse(m), nil
}

func (repo *maintenanceRepository) QueryRecords(ctx context.Context, filter *maintenance.QueryFilter, ordering []core.DBOrdering) ([]maintenance.Record, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	records := make([]maintenance.Record, 0, len(repo.db.maintenance))
	for _, m := range repo.db.maintenance {
		m = repo.withHouse(m)
		if filter != nil {
			if !inFilter(m.DeviceID, filter.DeviceIDs) ||
				!inFilter(m.HouseID, filter.HouseIDs) ||
				!inFilter(m.TechnicianID, filter.TechnicianIDs) ||
				!inFilter(m.Type, filter.Types) ||
				!inFilter(m.Status, filter.Statuses) {
				continue
			}
		}
		records = append(records, m)
	}
	orderBy(records, ordering, maintenanceFields, func(a, b maintenance.Record) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return records, nil
}

func (repo *maintenanceRepository) GetRecord(ctx context.Context, id string) (maintenance.Record, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if m, ok := repo.db.maintenance[id]; ok {
		return repo.withHouse(m), nil
	}
	return maintenance.Record{}, maintenance.ErrNotFound
}

func (repo *maintenanceRepository) UpdateRecord(ctx context.Context, m maintenance.Record, from string) (maintenance.Record, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, ok := repo.db.maintenance[m.ID]
	if !ok {
		return maintenance.Record{}, maintenance.ErrNotFound
	}
	if stored.Status != from {
		return maintenance.Record{}, maintenance.ErrStatusChanged
	}
	repo.db.maintenance[m.ID] = m
	return repo.withHouse(m), nil
}

func (repo *maintenanceRepository) DeleteRecord(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.maintenance[id]; !ok {
		return maintenance.ErrNotFound
	}
	delete(repo.db.maintenance, id)
	return nil
}
