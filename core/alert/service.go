// Package alert implements safety alerts and their lifecycle:
// new -> acknowledged -> resolved | dismissed.
package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
)

var (
	ErrNotFound          = core.NewNotFoundError("alert")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// IsInvalidTransition reports whether err was caused by a forbidden status change.
func IsInvalidTransition(err error) bool {
	if vErr, ok := errors.Cause(err).(*core.ValidationError); ok {
		return vErr.Err == ErrInvalidTransition
	}
	return false
}

// Listener is notified of every created alert.
type Listener func(ctx context.Context, a Alert) error

type (
	Repository interface {
		CreateAlert(ctx context.Context, a Alert) (Alert, error)
		QueryAlerts(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Alert, error)
		GetAlert(ctx context.Context, id string) (Alert, error)
		// UpdateAlertStatus stores a only if the stored status is still from;
		// otherwise it returns ErrInvalidTransition.
		UpdateAlertStatus(ctx context.Context, a Alert, from string) (Alert, error)
		DeleteAlert(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, na NewAlert) (Alert, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Alert, error)
		GetByID(ctx context.Context, id string) (Alert, error)
		Transition(ctx context.Context, a Alert, status, actorID string) (Alert, error)
		Delete(ctx context.Context, id string) error
		// Subscribe registers a Listener called after each alert creation.
		Subscribe(name string, l Listener)
	}

	service struct {
		repo      Repository
		houseSvc  house.Service
		deviceSvc device.Service
		logger    core.Logger

		mu        sync.RWMutex
		listeners []namedListener
	}

	namedListener struct {
		name string
		fn   Listener
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, houseSvc house.Service, deviceSvc device.Service, logger core.Logger) Service {
	return &service{
		repo:      repo,
		houseSvc:  houseSvc,
		deviceSvc: deviceSvc,
		logger:    logger,
	}
}

func (svc *service) Subscribe(name string, l Listener) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.listeners = append(svc.listeners, namedListener{name: name, fn: l})
}

// resolveHouse fills the house of an alert raised by a device and checks that it exists.
func (svc *service) resolveHouse(ctx context.Context, na *NewAlert) error {
	if na.DeviceID != "" {
		d, err := svc.deviceSvc.GetByID(ctx, na.DeviceID)
		if err != nil {
			if errors.Cause(err) == device.ErrNotFound {
				return core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
			}
			return errors.Wrap(err, "finding device")
		}
		if na.HouseID != "" && na.HouseID != d.HouseID {
			return core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "device does not belong to this house"})
		}
		na.HouseID = d.HouseID
		return nil
	}

	if na.HouseID == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "this field is required"})
	}
	if _, err := svc.houseSvc.GetByID(ctx, na.HouseID); err != nil {
		if errors.Cause(err) == house.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "house not found"})
		}
		return errors.Wrap(err, "finding house")
	}
	return nil
}

func (svc *service) Create(ctx context.Context, na NewAlert) (Alert, error) {
	if err := svc.resolveHouse(ctx, &na); err != nil {
		return Alert{}, err
	}
	a := Alert{
		HouseID:    na.HouseID,
		DeviceID:   na.DeviceID,
		Type:       na.Type,
		Severity:   na.Severity,
		Status:     StatusNew,
		Title:      na.Title,
		Message:    na.Message,
		Confidence: na.Confidence,
		Source:     na.Source,
		CreatedAt:  core.Now(),
	}
	if a.Source == "" {
		a.Source = SourceManual
	}

	a, err := svc.repo.CreateAlert(ctx, a)
	if err != nil {
		return Alert{}, errors.Wrap(err, "creating alert")
	}
	svc.notify(ctx, a)
	return a, nil
}

// notify calls the listeners in subscription order. Listener failures are logged and never fail the creation.
func (svc *service) notify(ctx context.Context, a Alert) {
	svc.mu.RLock()
	listeners := make([]namedListener, len(svc.listeners))
	copy(listeners, svc.listeners)
	svc.mu.RUnlock()

	for _, l := range listeners {
		if err := l.fn(ctx, a); err != nil {
			svc.logger.Error(fmt.Sprintf("alert listener %q: %v", l.name, err), err, map[string]interface{}{"alert_id": a.ID})
		}
	}
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Alert, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	return svc.repo.QueryAlerts(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Alert, error) {
	return svc.repo.GetAlert(ctx, id)
}

func transitionError(from, to string) error {
	return core.NewValidationError(ErrInvalidTransition, core.FieldError{
		Field: "status",
		Error: fmt.Sprintf("cannot change status from %q to %q", from, to),
	})
}

// Transition moves an alert to status, recording who did it and when.
// a may be stale: the change only applies if the stored status is still a.Status.
func (svc *service) Transition(ctx context.Context, a Alert, status, actorID string) (Alert, error) {
	from := a.Status
	if !CanTransition(from, status) {
		return Alert{}, transitionError(from, status)
	}

	now := core.Now()
	switch status {
	case StatusAcknowledged:
		a.AcknowledgedAt = now
		a.AcknowledgedBy = actorID
	case StatusResolved, StatusDismissed:
		a.ResolvedAt = now
		a.ResolvedBy = actorID
	}
	a.Status = status

	updated, err := svc.repo.UpdateAlertStatus(ctx, a, from)
	if errors.Cause(err) == ErrInvalidTransition {
		// someone else moved it first
		if current, getErr := svc.repo.GetAlert(ctx, a.ID); getErr == nil {
			from = current.Status
		}
		return Alert{}, transitionError(from, status)
	}
	return updated, err
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteAlert(ctx, id)
}
