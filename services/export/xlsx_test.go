package exportsvc_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	exportsvc "github.com/smarthomecloud/backend/services/export"
)

func readRows(t *testing.T, data []byte, sheet string) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{sheet}, f.GetSheetList())
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestDevices(t *testing.T) {
	seen := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	data, err := exportsvc.Devices([]device.Device{
		{ID: "d1", HouseID: "h1", Name: "Porch cam", Type: device.TypeCamera, SerialNumber: "CAM1", Status: device.StatusOnline, LastSeen: seen},
		{ID: "d2", HouseID: "h1", Name: "Hall lock", Type: device.TypeDoorLock, SerialNumber: "LCK1", Status: device.StatusOffline},
	})
	require.NoError(t, err)

	rows := readRows(t, data, exportsvc.DevicesSheet)
	require.Len(t, rows, 3)
	assert.Equal(t, exportsvc.DeviceHeader, rows[0])
	assert.Equal(t, "Porch cam", rows[1][2])
	assert.Equal(t, "2026-05-04T03:02:01Z", rows[1][9])
	assert.Equal(t, device.StatusOffline, rows[2][8])
}

func TestAlertsEmpty(t *testing.T) {
	data, err := exportsvc.Alerts(nil)
	require.NoError(t, err)

	rows := readRows(t, data, exportsvc.AlertsSheet)
	require.Len(t, rows, 1)
	assert.Equal(t, exportsvc.AlertHeader, rows[0])
}

func TestAlerts(t *testing.T) {
	data, err := exportsvc.Alerts([]alert.Alert{{
		ID: "a1", HouseID: "h1", Type: "smoke", Severity: alert.SeverityCritical,
		Status: alert.StatusNew, Title: "Smoke", Confidence: 0.95, Source: alert.SourceTelemetry,
	}})
	require.NoError(t, err)

	rows := readRows(t, data, exportsvc.AlertsSheet)
	require.Len(t, rows, 2)
	assert.Equal(t, "0.95", rows[1][7])
	assert.Equal(t, alert.SeverityCritical, rows[1][4])
}
