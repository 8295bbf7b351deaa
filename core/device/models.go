package device

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smarthomecloud/backend/core"
)

// Types
const (
	TypeCamera        = "camera"
	TypeMicrophone    = "microphone"
	TypeMotionSensor  = "motion_sensor"
	TypeSmokeDetector = "smoke_detector"
	TypeDoorLock      = "door_lock"
	TypeWindowSensor  = "window_sensor"
	TypeThermostat    = "thermostat"
	TypeSmartPlug     = "smart_plug"
	TypeWaterLeak     = "water_leak"
)

// Statuses
const (
	StatusOnline      = "online"
	StatusOffline     = "offline"
	StatusMaintenance = "maintenance"
	StatusError       = "error"
)

var (
	AllTypes = []string{
		TypeCamera, TypeMicrophone, TypeMotionSensor, TypeSmokeDetector, TypeDoorLock,
		TypeWindowSensor, TypeThermostat, TypeSmartPlug, TypeWaterLeak,
	}
	AllStatuses = []string{StatusOnline, StatusOffline, StatusMaintenance, StatusError}
)

type Config map[string]interface{}

type Device struct {
	ID              string    `json:"id"`
	HouseID         string    `json:"house_id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serial_number"`
	FirmwareVersion string    `json:"firmware_version"`
	Location        string    `json:"location"`
	Status          string    `json:"status"`
	Config          Config    `json:"config"`
	LastSeen        time.Time `json:"last_seen"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type NewDevice struct {
	HouseID         string `json:"house_id" validate:"required,uuid"`
	Name            string `json:"name" validate:"required,max=120"`
	Type            string `json:"type" validate:"required,oneof=camera microphone motion_sensor smoke_detector door_lock window_sensor thermostat smart_plug water_leak"`
	Model           string `json:"model" validate:"max=120"`
	SerialNumber    string `json:"serial_number" validate:"required,max=64,serial"`
	FirmwareVersion string `json:"firmware_version" validate:"max=32"`
	Location        string `json:"location" validate:"max=120"`
	Config          Config `json:"config"`
}

func (nd *NewDevice) Validate(validate *validator.Validate) error {
	nd.Name = core.CleanString(nd.Name)
	nd.Type = core.CleanString(nd.Type, true /* lower */)
	nd.Model = core.CleanString(nd.Model)
	nd.SerialNumber = core.CleanString(nd.SerialNumber)
	nd.FirmwareVersion = core.CleanString(nd.FirmwareVersion)
	nd.Location = core.CleanString(nd.Location)
	return validate.Struct(nd)
}

// UpdateDevice defines what may be changed on an existing Device.
// Homeowners may only change Name and Location.
type UpdateDevice struct {
	HouseID         string `json:"house_id" validate:"omitempty,uuid"`
	Name            string `json:"name" validate:"max=120"`
	Model           string `json:"model" validate:"max=120"`
	FirmwareVersion string `json:"firmware_version" validate:"max=32"`
	Location        string `json:"location" validate:"max=120"`
	Status          string `json:"status" validate:"omitempty,oneof=online offline maintenance error"`
}

func (ud *UpdateDevice) Validate(validate *validator.Validate) error {
	ud.Name = core.CleanString(ud.Name)
	ud.Model = core.CleanString(ud.Model)
	ud.FirmwareVersion = core.CleanString(ud.FirmwareVersion)
	ud.Location = core.CleanString(ud.Location)
	ud.Status = core.CleanString(ud.Status, true /* lower */)
	return validate.Struct(ud)
}

// OwnerEditableOnly reports whether only the fields a homeowner may change are set.
func (ud UpdateDevice) OwnerEditableOnly() bool {
	return ud.HouseID == "" && ud.Model == "" && ud.FirmwareVersion == "" && ud.Status == ""
}

// UpdateConfig carries config keys to set. A null value removes the key.
type UpdateConfig struct {
	Config Config `json:"config" validate:"required"`
}

type QueryFilter struct {
	Search   string   `query:"search"`
	HouseIDs []string `query:"house_id"`
	Types    []string `query:"type"`
	Statuses []string `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
