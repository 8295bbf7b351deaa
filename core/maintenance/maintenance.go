// Package maintenance tracks the technician interventions on devices.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
)

var (
	ErrNotFound = core.NewNotFoundError("maintenance record")

	// ErrStatusChanged is returned by Repository.UpdateRecord when the stored
	// status is no longer the one the update was based on.
	ErrStatusChanged = errors.New("maintenance record status changed")
)

// Types
const (
	TypeInspection     = "inspection"
	TypeRepair         = "repair"
	TypeFirmwareUpdate = "firmware_update"
	TypeReplacement    = "replacement"
	TypeCalibration    = "calibration"
)

// Statuses
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var (
	AllTypes    = []string{TypeInspection, TypeRepair, TypeFirmwareUpdate, TypeReplacement, TypeCalibration}
	AllStatuses = []string{StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled}

	transitions = map[string][]string{
		StatusScheduled:  {StatusInProgress, StatusCancelled},
		StatusInProgress: {StatusCompleted, StatusCancelled},
	}
)

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to string) bool {
	return core.StringInSlice(to, transitions[from])
}

type Record struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"device_id"`
	HouseID      string    `json:"house_id"`
	TechnicianID string    `json:"technician_id"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Description  string    `json:"description"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	CompletedAt  time.Time `json:"completed_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type NewRecord struct {
	DeviceID     string    `json:"device_id" validate:"required,uuid"`
	TechnicianID string    `json:"technician_id" validate:"omitempty,uuid"`
	Type         string    `json:"type" validate:"required,oneof=inspection repair firmware_update replacement calibration"`
	Description  string    `json:"description" validate:"max=2000"`
	ScheduledAt  time.Time `json:"scheduled_at" validate:"required"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.Type = core.CleanString(nr.Type, true /* lower */)
	nr.Description = core.CleanString(nr.Description)
	return validate.Struct(nr)
}

type UpdateRecord struct {
	TechnicianID string    `json:"technician_id" validate:"omitempty,uuid"`
	Type         string    `json:"type" validate:"omitempty,oneof=inspection repair firmware_update replacement calibration"`
	Status       string    `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	Description  string    `json:"description" validate:"max=2000"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	ur.Type = core.CleanString(ur.Type, true /* lower */)
	ur.Status = core.CleanString(ur.Status, true /* lower */)
	ur.Description = core.CleanString(ur.Description)
	return validate.Struct(ur)
}

type QueryFilter struct {
	DeviceIDs     []string `query:"device_id"`
	HouseIDs      []string `query:"house_id"`
	TechnicianIDs []string `query:"technician_id"`
	Types         []string `query:"type"`
	Statuses      []string `query:"status"`
}

type (
	Repository interface {
		CreateRecord(ctx context.Context, r Record) (Record, error)
		QueryRecords(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Record, error)
		GetRecord(ctx context.Context, id string) (Record, error)
		// UpdateRecord stores r only if the stored status is still from.
		UpdateRecord(ctx context.Context, r Record, from string) (Record, error)
		DeleteRecord(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nr NewRecord) (Record, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Record, error)
		GetByID(ctx context.Context, id string) (Record, error)
		Update(ctx context.Context, r Record, ur UpdateRecord) (Record, error)
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo      Repository
		deviceSvc device.Service
		usrSvc    user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, deviceSvc device.Service, usrSvc user.Service) Service {
	return &service{repo: repo, deviceSvc: deviceSvc, usrSvc: usrSvc}
}

// checkTechnician only lets IoT team members and cloud staff be assigned to an intervention.
func (svc *service) checkTechnician(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	tech, err := svc.usrSvc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "technician_id", Error: "technician not found"})
		}
		return errors.Wrap(err, "finding technician")
	}
	if !tech.IsStaff() {
		return core.NewValidationError(nil, core.FieldError{Field: "technician_id", Error: "technician must be a staff member"})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nr NewRecord) (Record, error) {
	d, err := svc.deviceSvc.GetByID(ctx, nr.DeviceID)
	if err != nil {
		if errors.Cause(err) == device.ErrNotFound {
			return Record{}, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
		}
		return Record{}, errors.Wrap(err, "finding device")
	}
	if err := svc.checkTechnician(ctx, nr.TechnicianID); err != nil {
		return Record{}, err
	}

	now := core.Now()
	return svc.repo.CreateRecord(ctx, Record{
		DeviceID:     d.ID,
		HouseID:      d.HouseID,
		TechnicianID: nr.TechnicianID,
		Type:         nr.Type,
		Status:       StatusScheduled,
		Description:  nr.Description,
		ScheduledAt:  nr.ScheduledAt.UTC().Truncate(time.Microsecond),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Record, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "scheduled_at", Ascending: false}}
	}
	return svc.repo.QueryRecords(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Record, error) {
	return svc.repo.GetRecord(ctx, id)
}

func statusError(from, to string) error {
	return core.NewValidationError(nil, core.FieldError{
		Field: "status",
		Error: fmt.Sprintf("cannot change status from %q to %q", from, to),
	})
}

// Update applies ur. A status change must follow scheduled -> in_progress -> completed,
// with cancellation allowed before completion; the device status follows the record.
// r may be stale: nothing is written if the stored status is no longer r.Status.
func (svc *service) Update(ctx context.Context, r Record, ur UpdateRecord) (Record, error) {
	from := r.Status
	if ur.TechnicianID != "" && ur.TechnicianID != r.TechnicianID {
		if err := svc.checkTechnician(ctx, ur.TechnicianID); err != nil {
			return Record{}, err
		}
		r.TechnicianID = ur.TechnicianID
	}
	if ur.Type != "" {
		r.Type = ur.Type
	}
	if ur.Description != "" {
		r.Description = ur.Description
	}
	if !ur.ScheduledAt.IsZero() {
		r.ScheduledAt = ur.ScheduledAt.UTC().Truncate(time.Microsecond)
	}

	now := core.Now()
	var deviceStatus string
	if ur.Status != "" && ur.Status != r.Status {
		if !CanTransition(r.Status, ur.Status) {
			return Record{}, statusError(r.Status, ur.Status)
		}
		wasStarted := r.Status == StatusInProgress
		r.Status = ur.Status
		switch r.Status {
		case StatusInProgress:
			deviceStatus = device.StatusMaintenance
		case StatusCompleted:
			r.CompletedAt = now
			deviceStatus = device.StatusOnline
		case StatusCancelled:
			if wasStarted {
				deviceStatus = device.StatusOnline
			}
		}
	}
	r.UpdatedAt = now

	updated, err := svc.repo.UpdateRecord(ctx, r, from)
	if errors.Cause(err) == ErrStatusChanged {
		current, getErr := svc.repo.GetRecord(ctx, r.ID)
		if getErr != nil {
			return Record{}, errors.Wrap(getErr, "reloading record")
		}
		if ur.Status != "" && ur.Status != current.Status {
			return Record{}, statusError(current.Status, ur.Status)
		}
		return Record{}, core.NewValidationError(err, core.FieldError{
			Field: "status",
			Error: fmt.Sprintf("record is now %q, reload it and retry", current.Status),
		})
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "updating record")
	}
	r = updated
	if deviceStatus != "" {
		if _, err := svc.deviceSvc.SetStatus(ctx, r.DeviceID, deviceStatus); err != nil {
			return r, errors.Wrap(err, "updating device status")
		}
	}
	return r, nil
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteRecord(ctx, id)
}
