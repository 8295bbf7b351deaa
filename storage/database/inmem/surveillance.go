package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/surveillance"
)

type feedRepository struct {
	db *DB
}

var _ surveillance.Repository = (*feedRepository)(nil)

func NewFeedRepository(db *DB) surveillance.Repository {
	return &feedRepository{db: db}
}

var feedFields = fieldGetters[surveillance.Feed]{
	"name":           func(f surveillance.Feed) interface{} { return f.Name },
	"status":         func(f surveillance.Feed) interface{} { return f.Status },
	"last_motion_at": func(f surveillance.Feed) interface{} { return f.LastMotionAt },
	"created_at":     func(f surveillance.Feed) interface{} { return f.CreatedAt },
}

func (repo *feedRepository) CreateFeed(ctx context.Context, f surveillance.Feed) (surveillance.Feed, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.devices[f.DeviceID]; !ok {
		return surveillance.Feed{}, device.ErrNotFound
	}
	f.ID = newID()
	repo.db.feeds[f.ID] = f
	return f, nil
}

func (repo *feedRepository) QueryFeeds(ctx context.Context, filter *surveillance.QueryFilter, ordering []core.DBOrdering) ([]surveillance.Feed, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	feeds := make([]surveillance.Feed, 0, len(repo.db.feeds))
	for _, f := range repo.db.feeds {
		if filter != nil {
			if filter.Search != "" && !containsFold(f.Name, filter.Search) {
				continue
			}
			if !inFilter(f.HouseID, filter.HouseIDs) || !inFilter(f.Status, filter.Statuses) {
				continue
			}
		}
		feeds = append(feeds, f)
	}
	orderBy(feeds, ordering, feedFields, func(a, b surveillance.Feed) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return feeds, nil
}

func (repo *feedRepository) GetFeed(ctx context.Context, id string) (surveillance.Feed, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if f, ok := repo.db.feeds[id]; ok {
		return f, nil
	}
	return surveillance.Feed{}, surveillance.ErrNotFound
}

func (repo *feedRepository) UpdateFeed(ctx context.Context, f surveillance.Feed) (surveillance.Feed, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.feeds[f.ID]; !ok {
		return surveillance.Feed{}, surveillance.ErrNotFound
	}
	repo.db.feeds[f.ID] = f
	return f, nil
}

func (repo *feedRepository) DeleteFeed(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.feeds[id]; !ok {
		return surveillance.ErrNotFound
	}
	delete(repo.db.feeds, id)
	return nil
}
