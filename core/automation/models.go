package automation

import (
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	"github.com/smarthomecloud/backend/core"
)

// Trigger types
const (
	TriggerSchedule = "schedule"
	TriggerAlert    = "alert"
)

// Actions
const (
	ActionTurnOn  = "turn_on"
	ActionTurnOff = "turn_off"
	ActionLock    = "lock"
	ActionUnlock  = "unlock"
	ActionNotify  = "notify"
)

var (
	AllTriggers = []string{TriggerSchedule, TriggerAlert}
	AllActions  = []string{ActionTurnOn, ActionTurnOff, ActionLock, ActionUnlock, ActionNotify}

	rruleTag  = "rrule"
	rruleText = "invalid recurrence rule"
)

type Rule struct {
	ID               string    `json:"id"`
	HouseID          string    `json:"house_id"`
	Name             string    `json:"name"`
	TriggerType      string    `json:"trigger_type"`
	Schedule         string    `json:"schedule"`
	TriggerAlertType string    `json:"trigger_alert_type"`
	Action           string    `json:"action"`
	TargetDeviceID   string    `json:"target_device_id"`
	Enabled          bool      `json:"enabled"`
	LastRunAt        time.Time `json:"last_run_at"`
	NextRunAt        time.Time `json:"next_run_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type NewRule struct {
	HouseID          string `json:"house_id" validate:"required,uuid"`
	Name             string `json:"name" validate:"required,max=120"`
	TriggerType      string `json:"trigger_type" validate:"required,oneof=schedule alert"`
	Schedule         string `json:"schedule" validate:"required_if=TriggerType schedule,omitempty,rrule"`
	TriggerAlertType string `json:"trigger_alert_type" validate:"required_if=TriggerType alert,omitempty,oneof=motion sound device_offline smoke intrusion water_leak glass_break scream gunshot system"`
	Action           string `json:"action" validate:"required,oneof=turn_on turn_off lock unlock notify"`
	TargetDeviceID   string `json:"target_device_id" validate:"omitempty,uuid"`
	Enabled          *bool  `json:"enabled"`
}

func (nr *NewRule) Validate(validate *validator.Validate) error {
	nr.Name = core.CleanString(nr.Name)
	nr.TriggerType = core.CleanString(nr.TriggerType, true /* lower */)
	nr.Schedule = core.CleanString(nr.Schedule)
	nr.TriggerAlertType = core.CleanString(nr.TriggerAlertType, true /* lower */)
	nr.Action = core.CleanString(nr.Action, true /* lower */)
	return validate.Struct(nr)
}

type UpdateRule struct {
	Name             string  `json:"name" validate:"max=120"`
	Schedule         string  `json:"schedule" validate:"omitempty,rrule"`
	TriggerAlertType string  `json:"trigger_alert_type" validate:"omitempty,oneof=motion sound device_offline smoke intrusion water_leak glass_break scream gunshot system"`
	Action           string  `json:"action" validate:"omitempty,oneof=turn_on turn_off lock unlock notify"`
	TargetDeviceID   *string `json:"target_device_id" validate:"omitempty,uuid"`
	Enabled          *bool   `json:"enabled"`
}

func (ur *UpdateRule) Validate(validate *validator.Validate) error {
	ur.Name = core.CleanString(ur.Name)
	ur.Schedule = core.CleanString(ur.Schedule)
	ur.TriggerAlertType = core.CleanString(ur.TriggerAlertType, true /* lower */)
	ur.Action = core.CleanString(ur.Action, true /* lower */)
	return validate.Struct(ur)
}

type QueryFilter struct {
	Search       string   `query:"search"`
	HouseIDs     []string `query:"house_id"`
	TriggerTypes []string `query:"trigger_type"`
	Enabled      *bool    `query:"enabled"`
	// DueBefore selects enabled schedule rules whose next run is at or before it.
	DueBefore time.Time `query:"-"`
	// AlertType selects enabled alert rules triggered by this alert type.
	AlertType string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// InitValidators registers the automation validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(rruleTag, func(fl validator.FieldLevel) bool {
		_, err := ParseSchedule(fl.Field().String(), time.Now())
		return err == nil
	})
	core.RegisterCustomTranslation(validate, translator, rruleTag, rruleText)
}

// ParseSchedule parses an RFC 5545 recurrence rule, e.g. "FREQ=DAILY;BYHOUR=7;BYMINUTE=0".
// An "RRULE:" prefix is accepted. dtstart is used when the rule has no DTSTART.
func ParseSchedule(schedule string, dtstart time.Time) (*rrule.RRule, error) {
	schedule = strings.TrimPrefix(strings.TrimSpace(schedule), "RRULE:")
	if schedule == "" {
		return nil, errors.New("empty schedule")
	}
	opt, err := rrule.StrToROption(schedule)
	if err != nil {
		return nil, errors.Wrap(err, "parsing rrule")
	}
	if opt.Dtstart.IsZero() {
		opt.Dtstart = dtstart.UTC().Truncate(time.Second)
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, errors.Wrap(err, "building rrule")
	}
	return r, nil
}

// NextRun returns the first occurrence of schedule strictly after `after`, or the zero time when exhausted.
func NextRun(schedule string, dtstart, after time.Time) (time.Time, error) {
	r, err := ParseSchedule(schedule, dtstart)
	if err != nil {
		return time.Time{}, err
	}
	return r.After(after, false).UTC(), nil
}
