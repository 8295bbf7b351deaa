// Package telemetry stores device sensor readings and raises alerts when a reading crosses a threshold.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
)

// Metrics
const (
	MetricSmoke       = "smoke"
	MetricWaterLeak   = "water_leak"
	MetricMotion      = "motion"
	MetricTemperature = "temperature"
	MetricHumidity    = "humidity"
	MetricBattery     = "battery"
	MetricDoorOpen    = "door_open"
)

const maxQueryLimit = 1000

type SensorReading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
}

type NewReading struct {
	DeviceID   string    `json:"device_id" validate:"required,uuid"`
	Metric     string    `json:"metric" validate:"required,max=50,metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit" validate:"max=20"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (nr *NewReading) Validate(validate *validator.Validate) error {
	nr.Metric = core.CleanString(nr.Metric, true /* lower */)
	nr.Unit = core.CleanString(nr.Unit)
	return validate.Struct(nr)
}

type QueryFilter struct {
	DeviceID string    `query:"-"`
	Metric   string    `query:"metric"`
	From     time.Time `query:"from"`
	To       time.Time `query:"to"`
	Limit    int       `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	qf.Metric = core.CleanString(qf.Metric, true /* lower */)
	if qf.Limit <= 0 || qf.Limit > maxQueryLimit {
		qf.Limit = maxQueryLimit
	}
}

// threshold raises an alert when a metric reaches Min.
type threshold struct {
	Metric    string
	Min       float64
	AlertType string
	Severity  string
	Title     string
}

var thresholds = []threshold{
	{MetricSmoke, 1, alert.TypeSmoke, alert.SeverityCritical, "Smoke detected"},
	{MetricWaterLeak, 1, alert.TypeWaterLeak, alert.SeverityHigh, "Water leak detected"},
	{MetricMotion, 1, alert.TypeMotion, alert.SeverityMedium, "Motion detected"},
	{MetricTemperature, 57, alert.TypeSmoke, alert.SeverityHigh, "Abnormal temperature"},
}

// Evaluate returns the threshold crossed by a reading, if any.
func Evaluate(r SensorReading) (alertType, severity, title string, ok bool) {
	for _, t := range thresholds {
		if t.Metric == r.Metric && r.Value >= t.Min {
			return t.AlertType, t.Severity, t.Title, true
		}
	}
	return "", "", "", false
}

type (
	Repository interface {
		CreateReadings(ctx context.Context, readings ...SensorReading) ([]SensorReading, error)
		QueryReadings(ctx context.Context, filter *QueryFilter) ([]SensorReading, error)
	}

	Service interface {
		// Ingest stores a reading, records the device heartbeat and raises the matching alert.
		Ingest(ctx context.Context, nr NewReading) (SensorReading, *alert.Alert, error)
		Query(ctx context.Context, filter *QueryFilter) ([]SensorReading, error)
	}

	service struct {
		repo      Repository
		deviceSvc device.Service
		alertSvc  alert.Service
		logger    core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, deviceSvc device.Service, alertSvc alert.Service, logger core.Logger) Service {
	return &service{repo: repo, deviceSvc: deviceSvc, alertSvc: alertSvc, logger: logger}
}

func (svc *service) Ingest(ctx context.Context, nr NewReading) (SensorReading, *alert.Alert, error) {
	d, err := svc.deviceSvc.GetByID(ctx, nr.DeviceID)
	if err != nil {
		if errors.Cause(err) == device.ErrNotFound {
			return SensorReading{}, nil, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
		}
		return SensorReading{}, nil, errors.Wrap(err, "finding device")
	}

	r := SensorReading{
		DeviceID:   d.ID,
		Metric:     nr.Metric,
		Value:      nr.Value,
		Unit:       nr.Unit,
		RecordedAt: nr.RecordedAt.UTC().Truncate(time.Microsecond),
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = core.Now()
	}
	created, err := svc.repo.CreateReadings(ctx, r)
	if err != nil {
		return SensorReading{}, nil, errors.Wrap(err, "storing reading")
	}
	r = created[0]

	if _, err := svc.deviceSvc.RecordHeartbeat(ctx, d.ID, r.RecordedAt); err != nil {
		svc.logger.Warn(fmt.Sprintf("recording heartbeat of device %s: %v", d.ID, err))
	}

	alertType, severity, title, ok := Evaluate(r)
	if !ok {
		return r, nil, nil
	}
	a, err := svc.alertSvc.Create(ctx, alert.NewAlert{
		HouseID:    d.HouseID,
		DeviceID:   d.ID,
		Type:       alertType,
		Severity:   severity,
		Title:      title,
		Message:    fmt.Sprintf("%s reported %s=%g%s", d.Name, r.Metric, r.Value, r.Unit),
		Confidence: 1,
		Source:     alert.SourceTelemetry,
	})
	if err != nil {
		return r, nil, errors.Wrap(err, "raising alert")
	}
	return r, &a, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]SensorReading, error) {
	filter.Clean()
	return svc.repo.QueryReadings(ctx, filter)
}
