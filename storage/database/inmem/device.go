package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
)

type deviceRepository struct {
	db *DB
}

var _ device.Repository = (*deviceRepository)(nil)

func NewDeviceRepository(db *DB) device.Repository {
	return &deviceRepository{db: db}
}

var deviceFields = fieldGetters[device.Device]{
	"name":          func(d device.Device) interface{} { return d.Name },
	"type":          func(d device.Device) interface{} { return d.Type },
	"status":        func(d device.Device) interface{} { return d.Status },
	"serial_number": func(d device.Device) interface{} { return d.SerialNumber },
	"location":      func(d device.Device) interface{} { return d.Location },
	"last_seen":     func(d device.Device) interface{} { return d.LastSeen },
	"created_at":    func(d device.Device) interface{} { return d.CreatedAt },
	"updated_at":    func(d device.Device) interface{} { return d.UpdatedAt },
}

// copyDevice detaches the config map from the stored row.
func copyDevice(d device.Device) device.Device {
	if d.Config != nil {
		cfg := make(device.Config, len(d.Config))
		for k, v := range d.Config {
			cfg[k] = v
		}
		d.Config = cfg
	}
	return d
}

func (repo *deviceRepository) CheckSerialUniqueness(ctx context.Context, serial string, excludedIDs ...string) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, d := range repo.db.devices {
		if strings.EqualFold(d.SerialNumber, serial) && !core.StringInSlice(d.ID, excludedIDs) {
			return device.ErrSerialExists
		}
	}
	return nil
}

func (repo *deviceRepository) CreateDevice(ctx context.Context, d device.Device) (device.Device, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.houses[d.HouseID]; !ok {
		return device.Device{}, house.ErrNotFound
	}
	d.ID = newID()
	repo.db.devices[d.ID] = copyDevice(d)
	return d, nil
}

func (repo *deviceRepository) QueryDevices(ctx context.Context, filter *device.QueryFilter, ordering []core.DBOrdering) ([]device.Device, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	devices := make([]device.Device, 0, len(repo.db.devices))
	for _, d := range repo.db.devices {
		if filter != nil {
			if filter.Search != "" &&
				!containsFold(d.Name, filter.Search) &&
				!containsFold(d.SerialNumber, filter.Search) &&
				!containsFold(d.Location, filter.Search) {
				continue
			}
			if !inFilter(d.HouseID, filter.HouseIDs) || !inFilter(d.Type, filter.Types) || !inFilter(d.Status, filter.Statuses) {
				continue
			}
		}
		devices = append(devices, copyDevice(d))
	}
	orderBy(devices, ordering, deviceFields, func(a, b device.Device) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return devices, nil
}

func (repo *deviceRepository) GetDevice(ctx context.Context, id string) (device.Device, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if d, ok := repo.db.devices[id]; ok {
		return copyDevice(d), nil
	}
	return device.Device{}, device.ErrNotFound
}

func (repo *deviceRepository) UpdateDevice(ctx context.Context, d device.Device) (device.Device, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.devices[d.ID]; !ok {
		return device.Device{}, device.ErrNotFound
	}
	repo.db.devices[d.ID] = copyDevice(d)
	return d, nil
}

func (repo *deviceRepository) DeleteDevice(ctx context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.devices[id]; !ok {
		return device.ErrNotFound
	}
	repo.db.deleteDeviceCascade(id)
	return nil
}

func (repo *deviceRepository) QueryStaleDevices(ctx context.Context, before time.Time) ([]device.Device, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var stale []device.Device
	for _, d := range repo.db.devices {
		if d.Status == device.StatusOnline && d.LastSeen.Before(before) {
			stale = append(stale, copyDevice(d))
		}
	}
	orderBy(stale, nil, deviceFields, func(a, b device.Device) bool { return a.LastSeen.Before(b.LastSeen) })
	return stale, nil
}
