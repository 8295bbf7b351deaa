// Package workersvc runs the periodic background jobs: the device offline watchdog and the automation scheduler.
package workersvc

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/device"
)

// Observer is told about the work done by each run. *metricsvc.Metrics implements it.
type Observer interface {
	AddDevicesOffline(n int)
	AddRulesRun(trigger string, n int)
}

type nopObserver struct{}

func (nopObserver) AddDevicesOffline(int)   {}
func (nopObserver) AddRulesRun(string, int) {}

// every calls fn at each tick until ctx is done. Errors are logged, never fatal.
func every(ctx context.Context, name string, interval time.Duration, logger core.Logger, fn func(ctx context.Context, now time.Time) error) error {
	if interval <= 0 {
		return errors.Errorf("%s: interval must be positive, got %s", name, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info(fmt.Sprintf("%s started, running every %s", name, interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(name + " stopped")
			return nil
		case <-ticker.C:
			if err := fn(ctx, core.Now()); err != nil {
				logger.Error(name+" run failed", err)
			}
		}
	}
}

// Watchdog switches devices that stopped reporting to offline and raises a device_offline alert for each.
type Watchdog struct {
	deviceSvc device.Service
	alertSvc  alert.Service
	threshold time.Duration
	interval  time.Duration
	observer  Observer
	logger    core.Logger
}

func NewWatchdog(conf *core.Config, deviceSvc device.Service, alertSvc alert.Service, observer Observer, logger core.Logger) *Watchdog {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Watchdog{
		deviceSvc: deviceSvc,
		alertSvc:  alertSvc,
		threshold: conf.Monitoring.DeviceOfflineThreshold,
		interval:  conf.Monitoring.WatchdogInterval,
		observer:  observer,
		logger:    logger,
	}
}

// Sweep runs one pass and returns how many devices went offline.
func (w *Watchdog) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := w.deviceSvc.MarkStale(ctx, w.threshold, now)
	if err != nil {
		return 0, errors.Wrap(err, "marking stale devices")
	}
	w.observer.AddDevicesOffline(len(stale))

	for _, d := range stale {
		_, err := w.alertSvc.Create(ctx, alert.NewAlert{
			HouseID:    d.HouseID,
			DeviceID:   d.ID,
			Type:       alert.TypeDeviceOffline,
			Severity:   alert.SeverityMedium,
			Title:      d.Name + " is offline",
			Message:    fmt.Sprintf("No heartbeat from %s (%s) since %s.", d.Name, d.SerialNumber, d.LastSeen.Format(time.RFC3339)),
			Confidence: 1,
			Source:     alert.SourceSystem,
		})
		if err != nil {
			w.logger.Error(fmt.Sprintf("raising offline alert for device %s", d.ID), err)
		}
	}
	return len(stale), nil
}

func (w *Watchdog) Run(ctx context.Context) error {
	return every(ctx, "device watchdog", w.interval, w.logger, func(ctx context.Context, now time.Time) error {
		_, err := w.Sweep(ctx, now)
		return err
	})
}

// Scheduler executes the schedule automation rules when they fall due.
type Scheduler struct {
	automationSvc automation.Service
	interval      time.Duration
	observer      Observer
	logger        core.Logger
}

func NewScheduler(conf *core.Config, automationSvc automation.Service, observer Observer, logger core.Logger) *Scheduler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Scheduler{
		automationSvc: automationSvc,
		interval:      conf.Monitoring.SchedulerInterval,
		observer:      observer,
		logger:        logger,
	}
}

func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	n, err := s.automationSvc.RunDue(ctx, now)
	s.observer.AddRulesRun(automation.TriggerSchedule, n)
	if err != nil {
		return n, errors.Wrap(err, "running due rules")
	}
	return n, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	return every(ctx, "automation scheduler", s.interval, s.logger, func(ctx context.Context, now time.Time) error {
		_, err := s.Tick(ctx, now)
		return err
	})
}
