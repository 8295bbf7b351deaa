package user

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/smarthomecloud/backend/core"
)

// Roles
const (
	RoleHomeowner  = "homeowner"
	RoleIoTTeam    = "iot_team"
	RoleCloudStaff = "cloud_staff"

	// AuthProviderLocal is the provider of users authenticating with email & password.
	AuthProviderLocal = "local"
)

var (
	AllRoles = []string{RoleHomeowner, RoleIoTTeam, RoleCloudStaff}

	// StaffRoles are the roles with global read access.
	StaffRoles = []string{RoleIoTTeam, RoleCloudStaff}

	rolePriorities = map[string]int{
		RoleCloudStaff: 30,
		RoleIoTTeam:    20,
		RoleHomeowner:  10,
	}

	Roles = []Role{
		{Name: "Homeowner", Value: RoleHomeowner},
		{Name: "IoT Team", Value: RoleIoTTeam},
		{Name: "Cloud Staff", Value: RoleCloudStaff},
	}

	errNoPassword = errors.New("user has no usable password")
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

// CanGrant reports whether a user with actorRole may give role to someone.
// Nobody can grant a role above their own.
func CanGrant(actorRole, role string) bool {
	if role == "" {
		return true
	}
	if _, ok := rolePriorities[role]; !ok {
		return false
	}
	return RolePriority(actorRole) >= RolePriority(role)
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	AuthProvider string    `json:"auth_provider"`
	Subject      string    `json:"-"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	if len(u.PasswordHash) == 0 {
		return errNoPassword
	}
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) HasAnyRole(roles ...string) bool {
	return core.StringInSlice(u.Role, roles)
}

func (u *User) IsHomeowner() bool  { return u.Role == RoleHomeowner }
func (u *User) IsIoTTeam() bool    { return u.Role == RoleIoTTeam }
func (u *User) IsCloudStaff() bool { return u.Role == RoleCloudStaff }

// IsStaff reports whether the user works for the platform rather than owning houses.
func (u *User) IsStaff() bool { return u.HasAnyRole(StaffRoles...) }

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"omitempty,role"`
	IsActive        *bool  `json:"is_active"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string `json:"name"`
	Email           string `json:"email" validate:"omitempty,email"`
	IsActive        *bool  `json:"is_active"`
	Role            string `json:"role" validate:"omitempty,role"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}
	uu.Role = core.CleanString(uu.Role, true /* lower */)

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// OIDCIdentity is the identity an OIDC provider vouches for after a successful login.
type OIDCIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// GetFilter selects a single user. The first non-empty criterion wins: ID, Email, then Provider & Subject.
type GetFilter struct {
	ID       string
	Email    string
	Provider string
	Subject  string
}
