package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/house"
)

type alertRepository struct {
	db *DB
}

var _ alert.Repository = (*alertRepository)(nil)

func NewAlertRepository(db *DB) alert.Repository {
	return &alertRepository{db: db}
}

var alertFields = fieldGetters[alert.Alert]{
	"type":       func(a alert.Alert) interface{} { return a.Type },
	"severity":   func(a alert.Alert) interface{} { return alert.SeverityRank(a.Severity) },
	"status":     func(a alert.Alert) interface{} { return a.Status },
	"confidence": func(a alert.Alert) interface{} { return a.Confidence },
	"created_at": func(a alert.Alert) interface{} { return a.CreatedAt },
}

func (repo *alertRepository) CreateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.houses[a.HouseID]; !ok {
		return alert.Alert{}, house.ErrNotFound
	}
	a.ID = newID()
	repo.db.alerts[a.ID] = a
	return a, nil
}

func (repo *alertRepository) QueryAlerts(ctx context.Context, filter *alert.QueryFilter, ordering []core.DBOrdering) ([]alert.Alert, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	alerts := make([]alert.Alert, 0, len(repo.db.alerts))
	for _, a := range repo.db.alerts {
		if filter != nil {
			if filter.Search != "" && !containsFold(a.Title, filter.Search) && !containsFold(a.Message, filter.Search) {
				continue
			}
			if !inFilter(a.HouseID, filter.HouseIDs) ||
				!inFilter(a.DeviceID, filter.DeviceIDs) ||
				!inFilter(a.Type, filter.Types) ||
				!inFilter(a.Severity, filter.Severities) ||
				!inFilter(a.Status, filter.Statuses) ||
				!inFilter(a.Source, filter.Sources) {
				continue
			}
			if !inRange(a.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
				continue
			}
		}
		alerts = append(alerts, a)
	}
	orderBy(alerts, ordering, alertFields, func(a, b alert.Alert) bool { return a.CreatedAt.After(b.CreatedAt) })
	if filter != nil && filter.Limit > 0 && len(alerts) > filter.Limit {
		alerts = alerts[:filter.Limit]
	}
	return alerts, nil
}

func (repo *alertRepository) GetAlert(ctx context.Context, id string) (alert.Alert, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if a, ok := repo.db.alerts[id]; ok {
		return a, nil
	}
	return alert.Alert{}, alert.ErrNotFound
}

func (repo *alertRepository) UpdateAlertStatus(ctx context.Context, a alert.Alert, from string) (alert.Alert, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, ok := repo.db.alerts[a.ID]
	if !ok {
		return alert.Alert{}, alert.ErrNotFound
	}
	if stored.Status != from {
		return alert.Alert{}, alert.ErrInvalidTransition
	}
	repo.db.alerts[a.ID] = a
	return a, nil
}

func (repo *alertRepository) DeleteAlert(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.alerts[id]; !ok {
		return alert.ErrNotFound
	}
	delete(repo.db.alerts, id)
	return nil
}
