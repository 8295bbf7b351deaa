// Package audio simulates the classification of audio clips captured by house devices.
// Clips are classified by matching keywords in their filename; confidence scores are
// the class weight plus random jitter. Confident enough detections raise alerts.
package audio

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
)

const (
	ClassGlassBreak = "glass_break"
	ClassScream     = "scream"
	ClassGunshot    = "gunshot"
	ClassSmokeAlarm = "smoke_alarm"
	ClassBabyCry    = "baby_cry"
	ClassDogBark    = "dog_bark"
	ClassDoorKnock  = "door_knock"
	ClassAmbient    = "ambient"

	DefaultAlertThreshold = 0.7

	maxConfidence = 0.99
	jitter        = 0.1
)

// Sound is a row of the keyword table.
type Sound struct {
	Class          string
	Label          string
	Keywords       []string
	BaseConfidence float64
	Severity       string
	AlertType      string // empty: never raises an alert
}

// keywordTable is ordered by priority: the first row with a matching keyword wins.
var keywordTable = []Sound{
	{Class: ClassGunshot, Label: "Gunshot", Keywords: []string{"gunshot", "gun", "shot", "firearm"}, BaseConfidence: .9, Severity: alert.SeverityCritical, AlertType: alert.TypeGunshot},
	{Class: ClassGlassBreak, Label: "Glass breaking", Keywords: []string{"glass", "shatter", "window_break"}, BaseConfidence: .86, Severity: alert.SeverityHigh, AlertType: alert.TypeGlassBreak},
	{Class: ClassSmokeAlarm, Label: "Smoke alarm", Keywords: []string{"smoke", "fire_alarm", "alarm", "beep"}, BaseConfidence: .88, Severity: alert.SeverityCritical, AlertType: alert.TypeSmoke},
	{Class: ClassScream, Label: "Scream", Keywords: []string{"scream", "yell", "shout", "help"}, BaseConfidence: .82, Severity: alert.SeverityHigh, AlertType: alert.TypeScream},
	{Class: ClassBabyCry, Label: "Baby crying", Keywords: []string{"baby", "cry", "infant"}, BaseConfidence: .78, Severity: alert.SeverityMedium, AlertType: alert.TypeSound},
	{Class: ClassDoorKnock, Label: "Door knock", Keywords: []string{"knock", "door"}, BaseConfidence: .72, Severity: alert.SeverityLow, AlertType: alert.TypeSound},
	{Class: ClassDogBark, Label: "Dog barking", Keywords: []string{"dog", "bark", "woof"}, BaseConfidence: .75, Severity: alert.SeverityLow, AlertType: alert.TypeSound},
}

var ambient = Sound{Class: ClassAmbient, Label: "Ambient noise", BaseConfidence: .35, Severity: alert.SeverityLow}

// KeywordTable returns a copy of the classification table.
func KeywordTable() []Sound {
	table := make([]Sound, len(keywordTable))
	copy(table, keywordTable)
	return table
}

// RandomSource provides numbers uniformly distributed in [0, 1).
type RandomSource interface {
	Float64() float64
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func NewRandomSource(seed int64) RandomSource {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

// Recorder observes classifications, e.g. for metrics.
type Recorder interface {
	ObserveAudioDetection(class string, confidence float64, alerted bool)
}

type Sample struct {
	DeviceID    string  `json:"device_id" validate:"required,uuid"`
	Filename    string  `json:"filename" validate:"required,max=255"`
	DurationSec float64 `json:"duration_sec" validate:"gte=0"`
}

func (s *Sample) Validate(validate *validator.Validate) error {
	s.Filename = core.CleanString(s.Filename)
	return validate.Struct(s)
}

type Detection struct {
	Class      string  `json:"class"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Severity   string  `json:"severity"`
}

type Result struct {
	DeviceID   string       `json:"device_id"`
	HouseID    string       `json:"house_id"`
	Filename   string       `json:"filename"`
	Top        Detection    `json:"top"`
	Detections []Detection  `json:"detections"`
	Alert      *alert.Alert `json:"alert,omitempty"`
	AnalyzedAt time.Time    `json:"analyzed_at"`
}

type (
	Service interface {
		// Classify matches the filename against the keyword table without side effects.
		Classify(filename string) (Detection, []Detection)
		Analyze(ctx context.Context, s Sample) (Result, error)
	}

	service struct {
		deviceSvc device.Service
		alertSvc  alert.Service
		rnd       RandomSource
		threshold float64
		recorder  Recorder
	}
)

var _ Service = (*service)(nil)

// NewService returns the audio detection service. A zero threshold falls back to DefaultAlertThreshold.
func NewService(deviceSvc device.Service, alertSvc alert.Service, rnd RandomSource, threshold float64, recorder Recorder) Service {
	if rnd == nil {
		rnd = NewRandomSource(time.Now().UnixNano())
	}
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &service{
		deviceSvc: deviceSvc,
		alertSvc:  alertSvc,
		rnd:       rnd,
		threshold: threshold,
		recorder:  recorder,
	}
}

func (svc *service) score(s Sound) Detection {
	conf := s.BaseConfidence + (svc.rnd.Float64()*2-1)*jitter
	conf = math.Max(0, math.Min(maxConfidence, conf))
	return Detection{
		Class:      s.Class,
		Label:      s.Label,
		Confidence: math.Round(conf*1000) / 1000,
		Severity:   s.Severity,
	}
}

func (svc *service) Classify(filename string) (Detection, []Detection) {
	name := strings.ToLower(filename)

	var top Detection
	detections := make([]Detection, 0, 2)
	for _, s := range keywordTable {
		for _, kw := range s.Keywords {
			if strings.Contains(name, kw) {
				d := svc.score(s)
				if len(detections) == 0 {
					top = d
				}
				detections = append(detections, d)
				break
			}
		}
	}
	if len(detections) == 0 {
		d := svc.score(ambient)
		return d, []Detection{d}
	}

	sort.SliceStable(detections, func(i, j int) bool { return detections[i].Confidence > detections[j].Confidence })
	return top, detections
}

func soundOf(class string) Sound {
	for _, s := range keywordTable {
		if s.Class == class {
			return s
		}
	}
	return ambient
}

func (svc *service) Analyze(ctx context.Context, s Sample) (Result, error) {
	d, err := svc.deviceSvc.GetByID(ctx, s.DeviceID)
	if err != nil {
		if errors.Cause(err) == device.ErrNotFound {
			return Result{}, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
		}
		return Result{}, errors.Wrap(err, "finding device")
	}
	if d.Type != device.TypeMicrophone && d.Type != device.TypeCamera {
		return Result{}, core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device cannot capture audio"})
	}

	top, detections := svc.Classify(s.Filename)
	res := Result{
		DeviceID:   d.ID,
		HouseID:    d.HouseID,
		Filename:   s.Filename,
		Top:        top,
		Detections: detections,
		AnalyzedAt: core.Now(),
	}

	sound := soundOf(top.Class)
	if sound.AlertType != "" && alert.SeverityAtLeast(top.Severity, alert.SeverityMedium) && top.Confidence >= svc.threshold {
		a, err := svc.alertSvc.Create(ctx, alert.NewAlert{
			HouseID:    d.HouseID,
			DeviceID:   d.ID,
			Type:       sound.AlertType,
			Severity:   top.Severity,
			Title:      sound.Label + " detected",
			Message:    "Detected by " + d.Name + " in " + s.Filename,
			Confidence: top.Confidence,
			Source:     alert.SourceAudio,
		})
		if err != nil {
			return Result{}, errors.Wrap(err, "creating audio alert")
		}
		res.Alert = &a
	}

	if svc.recorder != nil {
		svc.recorder.ObserveAudioDetection(top.Class, top.Confidence, res.Alert != nil)
	}
	return res, nil
}
