// Package automation runs house automation rules, either on a recurrence schedule or when an alert is raised.
package automation

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
)

var ErrNotFound = core.NewNotFoundError("automation rule")

// Command is an instruction sent to a device.
type Command struct {
	DeviceID string    `json:"device_id"`
	Action   string    `json:"action"`
	RuleID   string    `json:"rule_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Commander delivers commands to devices.
type Commander interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// CommanderFunc adapts a func to a Commander.
type CommanderFunc func(ctx context.Context, cmd Command) error

func (f CommanderFunc) SendCommand(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

type (
	Repository interface {
		CreateRule(ctx context.Context, r Rule) (Rule, error)
		QueryRules(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Rule, error)
		GetRule(ctx context.Context, id string) (Rule, error)
		UpdateRule(ctx context.Context, r Rule) (Rule, error)
		DeleteRule(ctx context.Context, id string) error
	}

	Service interface {
		Create(ctx context.Context, nr NewRule) (Rule, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Rule, error)
		GetByID(ctx context.Context, id string) (Rule, error)
		Update(ctx context.Context, r Rule, ur UpdateRule) (Rule, error)
		Delete(ctx context.Context, id string) error
		// RunDue executes the enabled schedule rules due at now and returns how many ran.
		RunDue(ctx context.Context, now time.Time) (int, error)
		// OnAlert executes the enabled alert rules of the alert's house matching its type.
		OnAlert(ctx context.Context, a alert.Alert) error
	}

	service struct {
		repo      Repository
		houseSvc  house.Service
		deviceSvc device.Service
		commander Commander
		mailSvc   core.EmailService
		logger    core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	houseSvc house.Service,
	deviceSvc device.Service,
	commander Commander,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		repo:      repo,
		houseSvc:  houseSvc,
		deviceSvc: deviceSvc,
		commander: commander,
		mailSvc:   mailSvc,
		logger:    logger,
	}
}

// checkTarget validates the target device of a rule: it must belong to the rule's house.
// A target is required by every action except notify.
func (svc *service) checkTarget(ctx context.Context, houseID, action, targetID string) error {
	if targetID == "" {
		if action != ActionNotify {
			return core.NewValidationError(nil, core.FieldError{Field: "target_device_id", Error: "this field is required"})
		}
		return nil
	}
	d, err := svc.deviceSvc.GetByID(ctx, targetID)
	if err != nil {
		if errors.Cause(err) == device.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "target_device_id", Error: "device not found"})
		}
		return errors.Wrap(err, "finding target device")
	}
	if d.HouseID != houseID {
		return core.NewValidationError(nil, core.FieldError{Field: "target_device_id", Error: "device does not belong to this house"})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nr NewRule) (Rule, error) {
	if _, err := svc.houseSvc.GetByID(ctx, nr.HouseID); err != nil {
		if errors.Cause(err) == house.ErrNotFound {
			return Rule{}, core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "house not found"})
		}
		return Rule{}, errors.Wrap(err, "finding house")
	}
	if err := svc.checkTarget(ctx, nr.HouseID, nr.Action, nr.TargetDeviceID); err != nil {
		return Rule{}, err
	}

	now := core.Now()
	r := Rule{
		HouseID:        nr.HouseID,
		Name:           nr.Name,
		TriggerType:    nr.TriggerType,
		Action:         nr.Action,
		TargetDeviceID: nr.TargetDeviceID,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if nr.Enabled != nil {
		r.Enabled = *nr.Enabled
	}
	switch r.TriggerType {
	case TriggerSchedule:
		r.Schedule = nr.Schedule
	case TriggerAlert:
		r.TriggerAlertType = nr.TriggerAlertType
	}
	if err := r.scheduleNext(now); err != nil {
		return Rule{}, err
	}
	return svc.repo.CreateRule(ctx, r)
}

// scheduleNext computes NextRunAt for an enabled schedule rule, anchoring the recurrence at its creation.
func (r *Rule) scheduleNext(after time.Time) error {
	r.NextRunAt = time.Time{}
	if r.TriggerType != TriggerSchedule || !r.Enabled {
		return nil
	}
	next, err := NextRun(r.Schedule, r.CreatedAt, after)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "schedule", Error: rruleText})
	}
	r.NextRunAt = next
	return nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Rule, error) {
	return svc.repo.QueryRules(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Rule, error) {
	return svc.repo.GetRule(ctx, id)
}

func (svc *service) Update(ctx context.Context, r Rule, ur UpdateRule) (Rule, error) {
	if ur.Name != "" {
		r.Name = ur.Name
	}
	if ur.Action != "" {
		r.Action = ur.Action
	}
	if ur.TargetDeviceID != nil {
		r.TargetDeviceID = *ur.TargetDeviceID
	}
	if err := svc.checkTarget(ctx, r.HouseID, r.Action, r.TargetDeviceID); err != nil {
		return Rule{}, err
	}
	if ur.Enabled != nil {
		r.Enabled = *ur.Enabled
	}
	switch r.TriggerType {
	case TriggerSchedule:
		if ur.Schedule != "" {
			r.Schedule = ur.Schedule
		}
	case TriggerAlert:
		if ur.TriggerAlertType != "" {
			r.TriggerAlertType = ur.TriggerAlertType
		}
	}

	now := core.Now()
	if err := r.scheduleNext(now); err != nil {
		return Rule{}, err
	}
	r.UpdatedAt = now
	return svc.repo.UpdateRule(ctx, r)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteRule(ctx, id)
}

func (svc *service) RunDue(ctx context.Context, now time.Time) (int, error) {
	rules, err := svc.repo.QueryRules(ctx, &QueryFilter{DueBefore: now}, []core.DBOrdering{{Field: "next_run_at", Ascending: true}})
	if err != nil {
		return 0, errors.Wrap(err, "querying due rules")
	}

	var ran int
	for _, r := range rules {
		if err := svc.execute(ctx, r, nil); err != nil {
			svc.logger.Error(fmt.Sprintf("running automation rule %s: %v", r.ID, err), err)
		} else {
			ran++
		}

		// advance even on failure so a broken target cannot block the schedule
		r.LastRunAt = now
		if err := r.scheduleNext(now); err != nil {
			svc.logger.Warn(fmt.Sprintf("rescheduling automation rule %s: %v", r.ID, err))
			r.Enabled = false
		}
		r.UpdatedAt = core.Now()
		if _, err := svc.repo.UpdateRule(ctx, r); err != nil {
			return ran, errors.Wrap(err, "updating rule")
		}
	}
	return ran, nil
}

func (svc *service) OnAlert(ctx context.Context, a alert.Alert) error {
	rules, err := svc.repo.QueryRules(ctx, &QueryFilter{HouseIDs: []string{a.HouseID}, AlertType: a.Type}, nil)
	if err != nil {
		return errors.Wrap(err, "querying alert rules")
	}

	var firstErr error
	for _, r := range rules {
		if err := svc.execute(ctx, r, &a); err != nil {
			svc.logger.Error(fmt.Sprintf("running automation rule %s: %v", r.ID, err), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.LastRunAt = core.Now()
		r.UpdatedAt = r.LastRunAt
		if _, err := svc.repo.UpdateRule(ctx, r); err != nil {
			return errors.Wrap(err, "updating rule")
		}
	}
	return firstErr
}

func (svc *service) execute(ctx context.Context, r Rule, a *alert.Alert) error {
	if r.Action == ActionNotify {
		return svc.notify(ctx, r, a)
	}
	cmd := Command{
		DeviceID: r.TargetDeviceID,
		Action:   r.Action,
		RuleID:   r.ID,
		IssuedAt: core.Now(),
	}
	return errors.Wrap(svc.commander.SendCommand(ctx, cmd), "sending device command")
}

func (svc *service) notify(ctx context.Context, r Rule, a *alert.Alert) error {
	owner, h, err := svc.houseSvc.Owner(ctx, r.HouseID)
	if err != nil {
		return errors.Wrap(err, "finding house owner")
	}
	if !owner.IsActive || owner.Email == "" {
		return nil
	}
	data := map[string]string{"RuleName": r.Name, "HouseName": h.Name, "AlertTitle": ""}
	if a != nil {
		data["AlertTitle"] = a.Title
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
		Subject:      "Automation: " + r.Name,
		TemplateName: "automation_notification",
		TemplateData: data,
	})
	return nil
}
