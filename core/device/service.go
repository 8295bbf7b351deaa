// Package device manages the IoT devices installed in houses: inventory, configuration and liveness.
package device

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	ErrNotFound     = core.NewNotFoundError("device")
	ErrSerialExists = errors.New("a device with this serial number already exists")
)

type (
	Repository interface {
		CheckSerialUniqueness(ctx context.Context, serial string, excludedIDs ...string) error
		CreateDevice(ctx context.Context, d Device) (Device, error)
		QueryDevices(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Device, error)
		GetDevice(ctx context.Context, id string) (Device, error)
		UpdateDevice(ctx context.Context, d Device) (Device, error)
		DeleteDevice(ctx context.Context, id string) error
		// QueryStaleDevices lists online devices not seen since before.
		QueryStaleDevices(ctx context.Context, before time.Time) ([]Device, error)
	}

	Service interface {
		Create(ctx context.Context, nd NewDevice) (Device, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Device, error)
		GetByID(ctx context.Context, id string) (Device, error)
		Update(ctx context.Context, d Device, ud UpdateDevice) (Device, error)
		UpdateConfig(ctx context.Context, d Device, uc UpdateConfig, actorID string) (Device, error)
		SetStatus(ctx context.Context, id, status string) (Device, error)
		Delete(ctx context.Context, id string) error
		RecordHeartbeat(ctx context.Context, id string, at time.Time) (Device, error)
		MarkStale(ctx context.Context, threshold time.Duration, now time.Time) ([]Device, error)
	}

	service struct {
		repo     Repository
		houseSvc house.Service
		logSvc   configlog.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, houseSvc house.Service, logSvc configlog.Service) Service {
	return &service{repo: repo, houseSvc: houseSvc, logSvc: logSvc}
}

func (svc *service) checkHouse(ctx context.Context, houseID string) error {
	if _, err := svc.houseSvc.GetByID(ctx, houseID); err != nil {
		if errors.Cause(err) == house.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "house not found"})
		}
		return errors.Wrap(err, "finding house")
	}
	return nil
}

func (svc *service) checkSerial(ctx context.Context, serial string, excludedIDs ...string) error {
	if err := svc.repo.CheckSerialUniqueness(ctx, serial, excludedIDs...); err != nil {
		if errors.Cause(err) == ErrSerialExists {
			return core.NewValidationError(ErrSerialExists, core.FieldError{Field: "serial_number", Error: ErrSerialExists.Error()})
		}
		return errors.Wrap(err, "checking serial number uniqueness")
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nd NewDevice) (Device, error) {
	if err := svc.checkHouse(ctx, nd.HouseID); err != nil {
		return Device{}, err
	}
	if err := svc.checkSerial(ctx, nd.SerialNumber); err != nil {
		return Device{}, err
	}

	now := core.Now()
	d := Device{
		HouseID:         nd.HouseID,
		Name:            nd.Name,
		Type:            nd.Type,
		Model:           nd.Model,
		SerialNumber:    nd.SerialNumber,
		FirmwareVersion: nd.FirmwareVersion,
		Location:        nd.Location,
		Status:          StatusOffline,
		Config:          nd.Config,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if d.Config == nil {
		d.Config = Config{}
	}
	return svc.repo.CreateDevice(ctx, d)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Device, error) {
	return svc.repo.QueryDevices(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Device, error) {
	return svc.repo.GetDevice(ctx, id)
}

func (svc *service) Update(ctx context.Context, d Device, ud UpdateDevice) (Device, error) {
	if ud.HouseID != "" && ud.HouseID != d.HouseID {
		if err := svc.checkHouse(ctx, ud.HouseID); err != nil {
			return Device{}, err
		}
		d.HouseID = ud.HouseID
	}
	if ud.Name != "" {
		d.Name = ud.Name
	}
	if ud.Model != "" {
		d.Model = ud.Model
	}
	if ud.FirmwareVersion != "" {
		d.FirmwareVersion = ud.FirmwareVersion
	}
	if ud.Location != "" {
		d.Location = ud.Location
	}
	if ud.Status != "" {
		d.Status = ud.Status
	}
	d.UpdatedAt = core.Now()
	return svc.repo.UpdateDevice(ctx, d)
}

// UpdateConfig merges uc into the device config and logs one entry per changed key.
func (svc *service) UpdateConfig(ctx context.Context, d Device, uc UpdateConfig, actorID string) (Device, error) {
	if d.Config == nil {
		d.Config = Config{}
	}

	keys := make([]string, 0, len(uc.Config))
	for k := range uc.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]configlog.Entry, 0, len(keys))
	for _, key := range keys {
		newVal := uc.Config[key]
		oldVal, existed := d.Config[key]
		oldStr, newStr := configValueString(oldVal, existed), configValueString(newVal, newVal != nil)
		if oldStr == newStr {
			continue
		}
		if newVal == nil {
			delete(d.Config, key)
		} else {
			d.Config[key] = newVal
		}
		entries = append(entries, configlog.Entry{
			DeviceID:  d.ID,
			ChangedBy: actorID,
			Field:     key,
			OldValue:  oldStr,
			NewValue:  newStr,
		})
	}
	if len(entries) == 0 {
		return d, nil
	}

	d.UpdatedAt = core.Now()
	d, err := svc.repo.UpdateDevice(ctx, d)
	if err != nil {
		return Device{}, errors.Wrap(err, "updating device")
	}
	if err = svc.logSvc.Record(ctx, entries...); err != nil {
		return Device{}, errors.Wrap(err, "recording config changes")
	}
	return d, nil
}

func (svc *service) SetStatus(ctx context.Context, id, status string) (Device, error) {
	d, err := svc.repo.GetDevice(ctx, id)
	if err != nil {
		return Device{}, err
	}
	if d.Status == status {
		return d, nil
	}
	d.Status = status
	d.UpdatedAt = core.Now()
	return svc.repo.UpdateDevice(ctx, d)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteDevice(ctx, id)
}

// RecordHeartbeat marks the device as seen at `at`. Offline or failing devices come back online;
// devices under maintenance keep their status.
func (svc *service) RecordHeartbeat(ctx context.Context, id string, at time.Time) (Device, error) {
	d, err := svc.repo.GetDevice(ctx, id)
	if err != nil {
		return Device{}, err
	}
	at = at.UTC().Truncate(time.Microsecond)
	if at.After(d.LastSeen) {
		d.LastSeen = at
	}
	if d.Status == StatusOffline || d.Status == StatusError {
		d.Status = StatusOnline
	}
	d.UpdatedAt = core.Now()
	return svc.repo.UpdateDevice(ctx, d)
}

// MarkStale switches online devices not seen for longer than threshold to offline and returns them.
func (svc *service) MarkStale(ctx context.Context, threshold time.Duration, now time.Time) ([]Device, error) {
	stale, err := svc.repo.QueryStaleDevices(ctx, now.Add(-threshold))
	if err != nil {
		return nil, errors.Wrap(err, "querying stale devices")
	}
	marked := make([]Device, 0, len(stale))
	for _, d := range stale {
		d.Status = StatusOffline
		d.UpdatedAt = core.Now()
		d, err = svc.repo.UpdateDevice(ctx, d)
		if err != nil {
			return marked, errors.Wrap(err, "marking device offline")
		}
		marked = append(marked, d)
	}
	return marked, nil
}

func configValueString(v interface{}, set bool) string {
	if !set {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
