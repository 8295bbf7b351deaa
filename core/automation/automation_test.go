package automation_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
	testutil "github.com/smarthomecloud/backend/tests"
)

func TestNextRun(t *testing.T) {
	dtstart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule string
		after    time.Time
		want     time.Time
		wantErr  bool
	}{
		{
			name:     "daily at 7",
			schedule: "FREQ=DAILY;BYHOUR=7;BYMINUTE=0;BYSECOND=0",
			after:    time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "rrule prefix accepted",
			schedule: "RRULE:FREQ=HOURLY;INTERVAL=6",
			after:    time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "strictly after",
			schedule: "FREQ=DAILY;BYHOUR=7;BYMINUTE=0;BYSECOND=0",
			after:    time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC),
			want:     time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC),
		},
		{
			name:     "exhausted",
			schedule: "FREQ=DAILY;COUNT=2",
			after:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{name: "garbage", schedule: "every morning", wantErr: true},
		{name: "empty", schedule: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := automation.NextRun(tt.schedule, dtstart, tt.after)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}

func TestNewRuleValidation(t *testing.T) {
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	automation.InitValidators(validate, core.NewTranslator())
	houseID := "9a4c3d5e-1b2f-4c6d-8e7f-0a1b2c3d4e5f"

	tests := []struct {
		name    string
		rule    automation.NewRule
		wantErr bool
	}{
		{name: "schedule", rule: automation.NewRule{HouseID: houseID, Name: "Lights", TriggerType: "schedule", Schedule: "FREQ=DAILY;BYHOUR=19", Action: "notify"}},
		{name: "alert", rule: automation.NewRule{HouseID: houseID, Name: "Siren", TriggerType: "alert", TriggerAlertType: "smoke", Action: "notify"}},
		{name: "schedule missing", rule: automation.NewRule{HouseID: houseID, Name: "Lights", TriggerType: "schedule", Action: "notify"}, wantErr: true},
		{name: "bad schedule", rule: automation.NewRule{HouseID: houseID, Name: "Lights", TriggerType: "schedule", Schedule: "sometimes", Action: "notify"}, wantErr: true},
		{name: "alert type missing", rule: automation.NewRule{HouseID: houseID, Name: "Siren", TriggerType: "alert", Action: "notify"}, wantErr: true},
		{name: "unknown action", rule: automation.NewRule{HouseID: houseID, Name: "Siren", TriggerType: "alert", TriggerAlertType: "smoke", Action: "explode"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate(validate)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type fixture struct {
	svcs  *testutil.Services
	owner user.User
	house string
	lock  device.Device
}

func newFixture(t *testing.T) fixture {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")
	lock := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Front door", device.TypeDoorLock, "LK1", device.StatusOnline)
	return fixture{svcs: svcs, owner: owner, house: h.ID, lock: lock}
}

func TestCreateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svcs.Automation.Create(ctx, automation.NewRule{
		HouseID:        f.house,
		Name:           "Lock at night",
		TriggerType:    automation.TriggerSchedule,
		Schedule:       "FREQ=DAILY;BYHOUR=23;BYMINUTE=0;BYSECOND=0",
		Action:         automation.ActionLock,
		TargetDeviceID: f.lock.ID,
	})
	require.NoError(t, err)
	assert.True(t, r.Enabled)
	assert.True(t, r.NextRunAt.After(r.CreatedAt))
	assert.Equal(t, 23, r.NextRunAt.Hour())

	t.Run("device actions need a target", func(t *testing.T) {
		_, err := f.svcs.Automation.Create(ctx, automation.NewRule{
			HouseID:          f.house,
			Name:             "Unlock",
			TriggerType:      automation.TriggerAlert,
			TriggerAlertType: alert.TypeSmoke,
			Action:           automation.ActionUnlock,
		})
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "target_device_id", vErr.Fields[0].Field)
	})

	t.Run("target in another house", func(t *testing.T) {
		other := testutil.CreateHouse(t, f.svcs.HouseRepo, f.owner.ID, "Cabin")
		_, err := f.svcs.Automation.Create(ctx, automation.NewRule{
			HouseID:          other.ID,
			Name:             "Unlock",
			TriggerType:      automation.TriggerAlert,
			TriggerAlertType: alert.TypeSmoke,
			Action:           automation.ActionUnlock,
			TargetDeviceID:   f.lock.ID,
		})
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "target_device_id", vErr.Fields[0].Field)
	})

	t.Run("disabled rules are not scheduled", func(t *testing.T) {
		disabled := false
		r, err := f.svcs.Automation.Create(ctx, automation.NewRule{
			HouseID:        f.house,
			Name:           "Off",
			TriggerType:    automation.TriggerSchedule,
			Schedule:       "FREQ=HOURLY",
			Action:         automation.ActionTurnOff,
			TargetDeviceID: f.lock.ID,
			Enabled:        &disabled,
		})
		require.NoError(t, err)
		assert.True(t, r.NextRunAt.IsZero())
	})
}

func TestRunDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svcs.Automation.Create(ctx, automation.NewRule{
		HouseID:        f.house,
		Name:           "Hourly lock",
		TriggerType:    automation.TriggerSchedule,
		Schedule:       "FREQ=HOURLY",
		Action:         automation.ActionLock,
		TargetDeviceID: f.lock.ID,
	})
	require.NoError(t, err)

	// not due yet
	ran, err := f.svcs.Automation.RunDue(ctx, r.NextRunAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, ran)
	assert.Empty(t, f.svcs.Commands.Sent())

	due := r.NextRunAt
	ran, err = f.svcs.Automation.RunDue(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	cmds := f.svcs.Commands.Sent()
	require.Len(t, cmds, 1)
	assert.Equal(t, automation.Command{DeviceID: f.lock.ID, Action: automation.ActionLock, RuleID: r.ID, IssuedAt: cmds[0].IssuedAt}, cmds[0])

	updated, err := f.svcs.Automation.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, updated.LastRunAt.Equal(due))
	assert.True(t, updated.NextRunAt.Equal(due.Add(time.Hour)))

	// the same tick never runs a rule twice
	ran, err = f.svcs.Automation.RunDue(ctx, due)
	require.NoError(t, err)
	assert.Zero(t, ran)
}

func TestOnAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svcs.Alert.Subscribe("automation", f.svcs.Automation.OnAlert)

	_, err := f.svcs.Automation.Create(ctx, automation.NewRule{
		HouseID:          f.house,
		Name:             "Unlock on smoke",
		TriggerType:      automation.TriggerAlert,
		TriggerAlertType: alert.TypeSmoke,
		Action:           automation.ActionUnlock,
		TargetDeviceID:   f.lock.ID,
	})
	require.NoError(t, err)

	_, err = f.svcs.Alert.Create(ctx, alert.NewAlert{HouseID: f.house, Type: alert.TypeMotion, Severity: alert.SeverityLow, Title: "Motion"})
	require.NoError(t, err)
	assert.Empty(t, f.svcs.Commands.Sent())

	_, err = f.svcs.Alert.Create(ctx, alert.NewAlert{HouseID: f.house, Type: alert.TypeSmoke, Severity: alert.SeverityCritical, Title: "Smoke"})
	require.NoError(t, err)
	cmds := f.svcs.Commands.Sent()
	require.Len(t, cmds, 1)
	assert.Equal(t, automation.ActionUnlock, cmds[0].Action)
	assert.Equal(t, f.lock.ID, cmds[0].DeviceID)
}
