//go:build integration

package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
	sqlxrepos "github.com/smarthomecloud/backend/storage/database/sqlx"
	"github.com/smarthomecloud/backend/tests"
)

func TestPostgresRepositories(t *testing.T) {
	db, _ := testutil.PrepareDB(t)
	ctx := context.Background()

	users := sqlxrepos.NewUserRepository(db)
	houses := sqlxrepos.NewHouseRepository(db)
	devices := sqlxrepos.NewDeviceRepository(db)
	alerts := sqlxrepos.NewAlertRepository(db)

	owner := testutil.CreateUser(t, users, "Owner", "owner@test.io", "Sup3r$ecret", user.RoleHomeowner, true)
	got, err := users.GetUser(ctx, user.GetFilter{Email: "OWNER@test.io"})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)
	assert.NoError(t, got.CheckPassword("Sup3r$ecret"))
	assert.Error(t, users.CheckEmailUniqueness(ctx, "owner@test.io"))

	home := testutil.CreateHouse(t, houses, owner.ID, "Home")
	mic := testutil.CreateDevice(t, devices, home.ID, "Hall mic", device.TypeMicrophone, "MIC001", device.StatusOnline)
	assert.Error(t, devices.CheckSerialUniqueness(ctx, "MIC001"))
	assert.NoError(t, devices.CheckSerialUniqueness(ctx, "MIC001", mic.ID))

	stale, err := devices.QueryStaleDevices(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	if assert.Len(t, stale, 1) {
		assert.Equal(t, mic.ID, stale[0].ID)
	}

	testutil.CreateAlert(t, alerts, home.ID, mic.ID, alert.TypeSound, alert.SeverityHigh, alert.StatusNew)
	testutil.CreateAlert(t, alerts, home.ID, mic.ID, alert.TypeMotion, alert.SeverityLow, alert.StatusNew)
	high, err := alerts.QueryAlerts(ctx, &alert.QueryFilter{HouseIDs: []string{home.ID}, Severities: []string{alert.SeverityHigh}}, nil)
	require.NoError(t, err)
	assert.Len(t, high, 1)

	// deleting a house cascades to its devices & alerts
	require.NoError(t, houses.DeleteHouse(ctx, home.ID))
	_, err = devices.GetDevice(ctx, mic.ID)
	assert.Equal(t, device.ErrNotFound, err)
	all, err := alerts.QueryAlerts(ctx, &alert.QueryFilter{}, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}
