// Package surveillance keeps the metadata of the camera feeds of each house.
package surveillance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/device"
)

var ErrNotFound = core.NewNotFoundError("surveillance feed")

// Statuses
const (
	StatusLive           = "live"
	StatusOffline        = "offline"
	StatusRecordingError = "recording_error"
)

var AllStatuses = []string{StatusLive, StatusOffline, StatusRecordingError}

type Feed struct {
	ID           string    `json:"id"`
	HouseID      string    `json:"house_id"`
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	StreamURL    string    `json:"stream_url"`
	Resolution   string    `json:"resolution"`
	IsRecording  bool      `json:"is_recording"`
	Status       string    `json:"status"`
	LastMotionAt time.Time `json:"last_motion_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type NewFeed struct {
	DeviceID    string `json:"device_id" validate:"required,uuid"`
	Name        string `json:"name" validate:"required,max=120"`
	StreamURL   string `json:"stream_url" validate:"required,url,max=500"`
	Resolution  string `json:"resolution" validate:"max=20"`
	IsRecording bool   `json:"is_recording"`
}

func (nf *NewFeed) Validate(validate *validator.Validate) error {
	nf.Name = core.CleanString(nf.Name)
	nf.StreamURL = core.CleanString(nf.StreamURL)
	nf.Resolution = core.CleanString(nf.Resolution)
	return validate.Struct(nf)
}

type UpdateFeed struct {
	Name         string    `json:"name" validate:"max=120"`
	StreamURL    string    `json:"stream_url" validate:"omitempty,url,max=500"`
	Resolution   string    `json:"resolution" validate:"max=20"`
	IsRecording  *bool     `json:"is_recording"`
	Status       string    `json:"status" validate:"omitempty,oneof=live offline recording_error"`
	LastMotionAt time.Time `json:"last_motion_at"`
}

func (uf *UpdateFeed) Validate(validate *validator.Validate) error {
	uf.Name = core.CleanString(uf.Name)
	uf.StreamURL = core.CleanString(uf.StreamURL)
	uf.Resolution = core.CleanString(uf.Resolution)
	uf.Status = core.CleanString(uf.Status, true /* lower */)
	return validate.Struct(uf)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	HouseIDs []string `query:"house_id"`
	Statuses []string `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type (
	Repository interface {
		CreateFeed(ctx context.Context, f Feed) (Feed, error)
		QueryFeeds(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Feed, error)
		GetFeed(ctx context.Context, id string) (Feed, error)
		UpdateFeed(ctx context.Context, f Feed) (Feed, error)
		DeleteFeed(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nf NewFeed) (Feed, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Feed, error)
		GetByID(ctx context.Context, id string) (Feed, error)
		Update(ctx context.Context, f Feed, uf UpdateFeed) (Feed, error)
		Delete(ctx context.Context, id string) error
	}

	service struct {
		repo      Repository
		deviceSvc device.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, deviceSvc device.Service) Service {
	return &service{repo: repo, deviceSvc: deviceSvc}
}

func (svc *service) Create(ctx context.Context, nf NewFeed) (Feed, error) {
	d, err := svc.deviceSvc.GetByID(ctx, nf.DeviceID)
	if err != nil {
		if errors.Cause(err) == device.ErrNotFound {
			return Feed{}, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
		}
		return Feed{}, errors.Wrap(err, "finding device")
	}
	if d.Type != device.TypeCamera {
		return Feed{}, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device must be a camera"})
	}

	now := core.Now()
	f := Feed{
		HouseID:     d.HouseID,
		DeviceID:    d.ID,
		Name:        nf.Name,
		StreamURL:   nf.StreamURL,
		Resolution:  nf.Resolution,
		IsRecording: nf.IsRecording,
		Status:      StatusOffline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if d.Status == device.StatusOnline {
		f.Status = StatusLive
	}
	return svc.repo.CreateFeed(ctx, f)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Feed, error) {
	return svc.repo.QueryFeeds(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Feed, error) {
	return svc.repo.GetFeed(ctx, id)
}

func (svc *service) Update(ctx context.Context, f Feed, uf UpdateFeed) (Feed, error) {
	if uf.Name != "" {
		f.Name = uf.Name
	}
	if uf.StreamURL != "" {
		f.StreamURL = uf.StreamURL
	}
	if uf.Resolution != "" {
		f.Resolution = uf.Resolution
	}
	if uf.IsRecording != nil {
		f.IsRecording = *uf.IsRecording
	}
	if uf.Status != "" {
		f.Status = uf.Status
	}
	if !uf.LastMotionAt.IsZero() {
		f.LastMotionAt = uf.LastMotionAt.UTC().Truncate(time.Microsecond)
	}
	f.UpdatedAt = core.Now()
	return svc.repo.UpdateFeed(ctx, f)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteFeed(ctx, id)
}
