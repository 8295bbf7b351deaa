package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/device"
)

type configLogRepository struct {
	db *DB
}

var _ configlog.Repository = (*configLogRepository)(nil)

func NewConfigLogRepository(db *DB) configlog.Repository {
	return &configLogRepository{db: db}
}

var configLogFields = fieldGetters[configlog.Entry]{
	"field":      func(e configlog.Entry) interface{} { return e.Field },
	"created_at": func(e configlog.Entry) interface{} { return e.CreatedAt },
}

func (repo *configLogRepository) CreateEntries(ctx context.Context, entries ...configlog.Entry) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, e := range entries {
		if _, ok := repo.db.devices[e.DeviceID]; !ok {
			return device.ErrNotFound
		}
	}
	for _, e := range entries {
		repo.db.logSeq++
		e.ID = repo.db.logSeq
		repo.db.configLogs = append(repo.db.configLogs, e)
	}
	return nil
}

func (repo *configLogRepository) QueryEntries(ctx context.Context, filter *configlog.QueryFilter, ordering []core.DBOrdering) ([]configlog.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := make([]configlog.Entry, 0)
	for _, e := range repo.db.configLogs {
		if filter != nil {
			if filter.DeviceID != "" && e.DeviceID != filter.DeviceID {
				continue
			}
			if filter.Field != "" && e.Field != filter.Field {
				continue
			}
			if filter.ChangedBy != "" && e.ChangedBy != filter.ChangedBy {
				continue
			}
			if !inRange(e.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
				continue
			}
		}
		entries = append(entries, e)
	}
	orderBy(entries, ordering, configLogFields, func(a, b configlog.Entry) bool { return a.ID < b.ID })
	return entries, nil
}
