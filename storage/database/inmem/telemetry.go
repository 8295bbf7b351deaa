package inmemdb

import (
	"context"

	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/telemetry"
)

type readingRepository struct {
	db *DB
}

var _ telemetry.Repository = (*readingRepository)(nil)

func NewReadingRepository(db *DB) telemetry.Repository {
	return &readingRepository{db: db}
}

func (repo *readingRepository) CreateReadings(ctx context.Context, readings ...telemetry.SensorReading) ([]telemetry.SensorReading, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	created := make([]telemetry.SensorReading, 0, len(readings))
	for _, r := range readings {
		if _, ok := repo.db.devices[r.DeviceID]; !ok {
			return nil, device.ErrNotFound
		}
		repo.db.readingSeq++
		r.ID = repo.db.readingSeq
		repo.db.readings = append(repo.db.readings, r)
		created = append(created, r)
	}
	return created, nil
}

// QueryReadings returns the most recent readings first.
func (repo *readingRepository) QueryReadings(ctx context.Context, filter *telemetry.QueryFilter) ([]telemetry.SensorReading, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	readings := make([]telemetry.SensorReading, 0)
	for i := len(repo.db.readings) - 1; i >= 0; i-- {
		r := repo.db.readings[i]
		if filter != nil {
			if filter.DeviceID != "" && r.DeviceID != filter.DeviceID {
				continue
			}
			if filter.Metric != "" && r.Metric != filter.Metric {
				continue
			}
			if !inRange(r.RecordedAt, filter.From, filter.To) {
				continue
			}
		}
		readings = append(readings, r)
	}
	orderBy(readings, nil, nil, func(a, b telemetry.SensorReading) bool {
		if a.RecordedAt.Equal(b.RecordedAt) {
			return a.ID > b.ID
		}
		return a.RecordedAt.After(b.RecordedAt)
	})
	if filter != nil && filter.Limit > 0 && len(readings) > filter.Limit {
		readings = readings[:filter.Limit]
	}
	return readings, nil
}
