package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
	testutil "github.com/smarthomecloud/backend/tests"
)

func TestCreateChecksSerialUniqueness(t *testing.T) {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	ctx := context.Background()
	owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")

	d, err := svcs.Device.Create(ctx, device.NewDevice{HouseID: h.ID, Name: "Lock", Type: device.TypeDoorLock, SerialNumber: "LOCK42"})
	require.NoError(t, err)
	assert.Equal(t, device.StatusOffline, d.Status)
	assert.NotNil(t, d.Config)

	_, err = svcs.Device.Create(ctx, device.NewDevice{HouseID: h.ID, Name: "Lock 2", Type: device.TypeDoorLock, SerialNumber: "lock42"})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, device.ErrSerialExists, vErr.Err)
	assert.Equal(t, "serial_number", vErr.Fields[0].Field)

	_, err = svcs.Device.Create(ctx, device.NewDevice{HouseID: "5f0c3b4e-8a8d-4f5e-9d53-0b0f7f1e2a3c", Name: "Plug", Type: device.TypeSmartPlug, SerialNumber: "PLUG1"})
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "house_id", vErr.Fields[0].Field)
}

func TestUpdateConfigLogsChanges(t *testing.T) {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	ctx := context.Background()
	owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	tech := testutil.CreateUser(t, svcs.UserRepo, "Tom", "tom@iot.io", "", user.RoleIoTTeam, true)
	h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")
	d := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Thermostat", device.TypeThermostat, "TH1", device.StatusOnline)

	d, err := svcs.Device.UpdateConfig(ctx, d, device.UpdateConfig{Config: device.Config{"target": 21.5, "mode": "eco"}}, tech.ID)
	require.NoError(t, err)
	assert.Equal(t, device.Config{"target": 21.5, "mode": "eco"}, d.Config)

	// unchanged keys are not logged, null removes a key
	d, err = svcs.Device.UpdateConfig(ctx, d, device.UpdateConfig{Config: device.Config{"target": 21.5, "mode": nil}}, tech.ID)
	require.NoError(t, err)
	assert.Equal(t, device.Config{"target": 21.5}, d.Config)

	stored, err := svcs.Device.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Config, stored.Config)

	entries, err := svcs.ConfigLog.Query(ctx, &configlog.QueryFilter{DeviceID: d.ID}, []core.DBOrdering{{Field: "created_at", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got := make([][3]string, 0, len(entries))
	for _, e := range entries {
		assert.Equal(t, tech.ID, e.ChangedBy)
		got = append(got, [3]string{e.Field, e.OldValue, e.NewValue})
	}
	assert.Equal(t, [][3]string{
		{"mode", "", "eco"},
		{"target", "", "21.5"},
		{"mode", "eco", ""},
	}, got)
}

func TestRecordHeartbeat(t *testing.T) {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	ctx := context.Background()
	owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")

	tests := []struct {
		status string
		want   string
	}{
		{status: device.StatusOffline, want: device.StatusOnline},
		{status: device.StatusError, want: device.StatusOnline},
		{status: device.StatusOnline, want: device.StatusOnline},
		{status: device.StatusMaintenance, want: device.StatusMaintenance},
	}
	for i, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			d := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Sensor", device.TypeMotionSensor, "MS"+string(rune('A'+i)), tt.status)
			at := core.Now().Add(time.Minute)

			got, err := svcs.Device.RecordHeartbeat(ctx, d.ID, at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.True(t, got.LastSeen.Equal(at))

			// an older heartbeat never moves last_seen back
			got, err = svcs.Device.RecordHeartbeat(ctx, d.ID, at.Add(-time.Hour))
			require.NoError(t, err)
			assert.True(t, got.LastSeen.Equal(at))
		})
	}
}

func TestMarkStale(t *testing.T) {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	ctx := context.Background()
	owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")

	now := core.Now()
	fresh := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Fresh", device.TypeCamera, "C1", device.StatusOnline)
	stale := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Stale", device.TypeCamera, "C2", device.StatusOnline)
	maint := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Maint", device.TypeCamera, "C3", device.StatusMaintenance)
	for _, d := range []device.Device{stale, maint} {
		d.LastSeen = now.Add(-time.Hour)
		_, err := svcs.DeviceRepo.UpdateDevice(ctx, d)
		require.NoError(t, err)
	}

	marked, err := svcs.Device.MarkStale(ctx, 10*time.Minute, now)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, stale.ID, marked[0].ID)
	assert.Equal(t, device.StatusOffline, marked[0].Status)

	for id, want := range map[string]string{fresh.ID: device.StatusOnline, maint.ID: device.StatusMaintenance} {
		d, err := svcs.Device.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, d.Status)
	}

	// already offline devices are not reported twice
	marked, err = svcs.Device.MarkStale(ctx, 10*time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, marked)
}
