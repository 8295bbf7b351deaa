package dashboard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
	testutil "github.com/smarthomecloud/backend/tests"
)

func TestSummary(t *testing.T) {
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})
	ctx := context.Background()
	ada := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
	bob := testutil.CreateUser(t, svcs.UserRepo, "Bob", "bob@home.io", "", user.RoleHomeowner, true)
	carl := testutil.CreateUser(t, svcs.UserRepo, "Carl", "carl@home.io", "", user.RoleHomeowner, true)
	staff := testutil.CreateUser(t, svcs.UserRepo, "Sue", "sue@cloud.io", "", user.RoleCloudStaff, true)

	adaHouse := testutil.CreateHouse(t, svcs.HouseRepo, ada.ID, "Lakeside")
	bobHouse := testutil.CreateHouse(t, svcs.HouseRepo, bob.ID, "Downtown")
	testutil.CreateDevice(t, svcs.DeviceRepo, adaHouse.ID, "Cam", device.TypeCamera, "C1", device.StatusOnline)
	testutil.CreateDevice(t, svcs.DeviceRepo, adaHouse.ID, "Mic", device.TypeMicrophone, "M1", device.StatusOffline)
	testutil.CreateDevice(t, svcs.DeviceRepo, bobHouse.ID, "Lock", device.TypeDoorLock, "L1", device.StatusOnline)

	now := core.Now()
	for i := 0; i < 12; i++ {
		testutil.CreateAlert(t, svcs.AlertRepo, adaHouse.ID, "", alert.TypeMotion, alert.SeverityLow, alert.StatusResolved, now.Add(-time.Duration(i+1)*time.Hour))
	}
	newest := testutil.CreateAlert(t, svcs.AlertRepo, adaHouse.ID, "", alert.TypeSmoke, alert.SeverityCritical, alert.StatusNew, now)
	testutil.CreateAlert(t, svcs.AlertRepo, bobHouse.ID, "", alert.TypeSound, alert.SeverityMedium, alert.StatusAcknowledged, now)

	t.Run("homeowner", func(t *testing.T) {
		sum, err := svcs.Dashboard.Summary(ctx, ada)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Houses)
		assert.Equal(t, 2, sum.Devices)
		assert.Equal(t, 1, sum.DevicesByStatus[device.StatusOnline])
		assert.Equal(t, 1, sum.DevicesByStatus[device.StatusOffline])
		assert.Equal(t, 1, sum.OpenAlerts)
		assert.Equal(t, 1, sum.OpenBySeverity[alert.SeverityCritical])
		assert.Equal(t, 0, sum.OpenBySeverity[alert.SeverityMedium])
		require.Len(t, sum.RecentAlerts, 10)
		assert.Equal(t, newest.ID, sum.RecentAlerts[0].ID)
	})

	t.Run("homeowner without houses", func(t *testing.T) {
		sum, err := svcs.Dashboard.Summary(ctx, carl)
		require.NoError(t, err)
		assert.Zero(t, sum.Houses)
		assert.Zero(t, sum.Devices)
		assert.Empty(t, sum.RecentAlerts)
	})

	t.Run("staff", func(t *testing.T) {
		sum, err := svcs.Dashboard.Summary(ctx, staff)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Houses)
		assert.Equal(t, 3, sum.Devices)
		assert.Equal(t, 2, sum.OpenAlerts)
		assert.Equal(t, 1, sum.OpenBySeverity[alert.SeverityMedium])
	})
}
