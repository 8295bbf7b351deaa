package alert

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/smarthomecloud/backend/core"
)

// Types
const (
	TypeMotion        = "motion"
	TypeSound         = "sound"
	TypeDeviceOffline = "device_offline"
	TypeSmoke         = "smoke"
	TypeIntrusion     = "intrusion"
	TypeWaterLeak     = "water_leak"
	TypeGlassBreak    = "glass_break"
	TypeScream        = "scream"
	TypeGunshot       = "gunshot"
	TypeSystem        = "system"
)

// Severities, from least to most severe.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Statuses
const (
	StatusNew          = "new"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
	StatusDismissed    = "dismissed"
)

// Sources
const (
	SourceManual    = "manual"
	SourceAudio     = "audio"
	SourceTelemetry = "telemetry"
	SourceSystem    = "system"
)

var (
	AllTypes = []string{
		TypeMotion, TypeSound, TypeDeviceOffline, TypeSmoke, TypeIntrusion,
		TypeWaterLeak, TypeGlassBreak, TypeScream, TypeGunshot, TypeSystem,
	}
	AllSeverities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	AllStatuses   = []string{StatusNew, StatusAcknowledged, StatusResolved, StatusDismissed}

	// OpenStatuses are the statuses of alerts still needing attention.
	OpenStatuses = []string{StatusNew, StatusAcknowledged}

	severityRanks = map[string]int{
		SeverityLow:      1,
		SeverityMedium:   2,
		SeverityHigh:     3,
		SeverityCritical: 4,
	}

	// transitions lists the statuses reachable from each status.
	transitions = map[string][]string{
		StatusNew:          {StatusAcknowledged},
		StatusAcknowledged: {StatusResolved, StatusDismissed},
	}
)

func SeverityRank(severity string) int {
	return severityRanks[severity]
}

// SeverityAtLeast reports whether severity is as severe as min or more.
func SeverityAtLeast(severity, min string) bool {
	return SeverityRank(severity) >= SeverityRank(min)
}

// CanTransition reports whether an alert may go from status `from` to status `to`.
func CanTransition(from, to string) bool {
	return core.StringInSlice(to, transitions[from])
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

type Alert struct {
	ID             string    `json:"id"`
	HouseID        string    `json:"house_id"`
	DeviceID       string    `json:"device_id"`
	Type           string    `json:"type"`
	Severity       string    `json:"severity"`
	Status         string    `json:"status"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
	AcknowledgedBy string    `json:"acknowledged_by"`
	ResolvedAt     time.Time `json:"resolved_at"`
	ResolvedBy     string    `json:"resolved_by"`
}

func (a Alert) IsOpen() bool {
	return core.StringInSlice(a.Status, OpenStatuses)
}

type NewAlert struct {
	HouseID    string  `json:"house_id" validate:"omitempty,uuid"`
	DeviceID   string  `json:"device_id" validate:"omitempty,uuid"`
	Type       string  `json:"type" validate:"required,oneof=motion sound device_offline smoke intrusion water_leak glass_break scream gunshot system"`
	Severity   string  `json:"severity" validate:"required,oneof=low medium high critical"`
	Title      string  `json:"title" validate:"required,max=200"`
	Message    string  `json:"message" validate:"max=2000"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Source     string  `json:"-"`
}

func (na *NewAlert) Validate(validate *validator.Validate) error {
	na.Type = core.CleanString(na.Type, true /* lower */)
	na.Severity = core.CleanString(na.Severity, true /* lower */)
	na.Title = core.CleanString(na.Title)
	na.Message = core.CleanString(na.Message)
	return validate.Struct(na)
}

type StatusUpdate struct {
	Status string `json:"status" validate:"required,oneof=new acknowledged resolved dismissed"`
}

func (su *StatusUpdate) Validate(validate *validator.Validate) error {
	su.Status = core.CleanString(su.Status, true /* lower */)
	return validate.Struct(su)
}

type QueryFilter struct {
	Search      string    `query:"search"`
	HouseIDs    []string  `query:"house_id"`
	DeviceIDs   []string  `query:"device_id"`
	Types       []string  `query:"type"`
	Severities  []string  `query:"severity"`
	Statuses    []string  `query:"status"`
	Sources     []string  `query:"source"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
	Limit       int       `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	if qf.Limit < 0 {
		qf.Limit = 0
	}
}
