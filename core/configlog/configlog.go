// Package configlog keeps an audit trail of device configuration changes.
package configlog

import (
	"context"
	"time"

	"github.com/smarthomecloud/backend/core"
)

type Entry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	ChangedBy string    `json:"changed_by"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	CreatedAt time.Time `json:"created_at"`
}

type QueryFilter struct {
	DeviceID    string    `query:"-"`
	Field       string    `query:"field"`
	ChangedBy   string    `query:"changed_by"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

type (
	Repository interface {
		CreateEntries(ctx context.Context, entries ...Entry) error
		QueryEntries(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error)
	}

	Service interface {
		Record(ctx context.Context, entries ...Entry) error
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error)
	}

	service struct {
		repo Repository
	}
)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Record(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := core.Now()
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}
	return svc.repo.CreateEntries(ctx, entries...)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Entry, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	return svc.repo.QueryEntries(ctx, filter, ordering)
}
