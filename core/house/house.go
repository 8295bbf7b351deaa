// Package house manages the houses homeowners register and whose devices the platform monitors.
package house

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
)

var ErrNotFound = core.NewNotFoundError("house")

type House struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Timezone  string    `json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewHouse struct {
	OwnerID  string `json:"owner_id" validate:"omitempty,uuid"`
	Name     string `json:"name" validate:"required,max=120"`
	Address  string `json:"address" validate:"max=255"`
	Timezone string `json:"timezone" validate:"omitempty,tz"`
}

func (nh *NewHouse) Validate(validate *validator.Validate) error {
	nh.Name = core.CleanString(nh.Name)
	nh.Address = core.CleanString(nh.Address)
	nh.Timezone = core.CleanString(nh.Timezone)
	return validate.Struct(nh)
}

type UpdateHouse struct {
	OwnerID  string `json:"owner_id" validate:"omitempty,uuid"`
	Name     string `json:"name" validate:"max=120"`
	Address  string `json:"address" validate:"max=255"`
	Timezone string `json:"timezone" validate:"omitempty,tz"`
}

func (uh *UpdateHouse) Validate(validate *validator.Validate) error {
	uh.Name = core.CleanString(uh.Name)
	uh.Address = core.CleanString(uh.Address)
	uh.Timezone = core.CleanString(uh.Timezone)
	return validate.Struct(uh)
}

type QueryFilter struct {
	Search   string   `query:"search"`
	OwnerIDs []string `query:"owner_id"`
	IDs      []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type (
	Repository interface {
		CreateHouse(ctx context.Context, h House) (House, error)
		QueryHouses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]House, error)
		GetHouse(ctx context.Context, id string) (House, error)
		UpdateHouse(ctx context.Context, h House) (House, error)
		DeleteHouse(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nh NewHouse) (House, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]House, error)
		GetByID(ctx context.Context, id string) (House, error)
		Update(ctx context.Context, h House, uh UpdateHouse) (House, error)
		Delete(ctx context.Context, id string) error
		// OwnedHouseIDs lists the IDs of the houses ownerID owns.
		OwnedHouseIDs(ctx context.Context, ownerID string) ([]string, error)
		// Owner returns the owner of a house.
		Owner(ctx context.Context, houseID string) (user.User, House, error)
	}

	service struct {
		repo   Repository
		usrSvc user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service) Service {
	return &service{repo: repo, usrSvc: usrSvc}
}

func (svc *service) checkOwner(ctx context.Context, ownerID string) error {
	owner, err := svc.usrSvc.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "owner not found"})
		}
		return errors.Wrap(err, "finding owner")
	}
	if !owner.IsHomeowner() {
		return core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "owner must be a homeowner"})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nh NewHouse) (House, error) {
	if err := svc.checkOwner(ctx, nh.OwnerID); err != nil {
		return House{}, err
	}
	now := core.Now()
	h := House{
		OwnerID:   nh.OwnerID,
		Name:      nh.Name,
		Address:   nh.Address,
		Timezone:  nh.Timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if h.Timezone == "" {
		h.Timezone = "UTC"
	}
	return svc.repo.CreateHouse(ctx, h)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]House, error) {
	return svc.repo.QueryHouses(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (House, error) {
	return svc.repo.GetHouse(ctx, id)
}

func (svc *service) Update(ctx context.Context, h House, uh UpdateHouse) (House, error) {
	if uh.OwnerID != "" && uh.OwnerID != h.OwnerID {
		if err := svc.checkOwner(ctx, uh.OwnerID); err != nil {
			return House{}, err
		}
		h.OwnerID = uh.OwnerID
	}
	if uh.Name != "" {
		h.Name = uh.Name
	}
	if uh.Address != "" {
		h.Address = uh.Address
	}
	if uh.Timezone != "" {
		h.Timezone = uh.Timezone
	}
	h.UpdatedAt = core.Now()
	return svc.repo.UpdateHouse(ctx, h)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteHouse(ctx, id)
}

func (svc *service) OwnedHouseIDs(ctx context.Context, ownerID string) ([]string, error) {
	houses, err := svc.repo.QueryHouses(ctx, &QueryFilter{OwnerIDs: []string{ownerID}}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying owned houses")
	}
	ids := make([]string, 0, len(houses))
	for _, h := range houses {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (svc *service) Owner(ctx context.Context, houseID string) (user.User, House, error) {
	h, err := svc.repo.GetHouse(ctx, houseID)
	if err != nil {
		return user.User{}, House{}, errors.Wrap(err, "finding house")
	}
	owner, err := svc.usrSvc.GetByID(ctx, h.OwnerID)
	if err != nil {
		return user.User{}, h, errors.Wrap(err, "finding house owner")
	}
	return owner, h, nil
}
