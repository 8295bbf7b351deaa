// Package exportsvc renders device and alert listings as XLSX workbooks.
package exportsvc

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	DevicesSheet = "Devices"
	AlertsSheet  = "Alerts"
)

var (
	DeviceHeader = []string{
		"ID", "House ID", "Name", "Type", "Model", "Serial Number",
		"Firmware Version", "Location", "Status", "Last Seen", "Created At",
	}
	AlertHeader = []string{
		"ID", "House ID", "Device ID", "Type", "Severity", "Status", "Title",
		"Confidence", "Source", "Created At", "Acknowledged At", "Resolved At",
	}
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Devices renders one row per device.
func Devices(devices []device.Device) ([]byte, error) {
	rows := make([][]interface{}, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, []interface{}{
			d.ID, d.HouseID, d.Name, d.Type, d.Model, d.SerialNumber,
			d.FirmwareVersion, d.Location, d.Status, formatTime(d.LastSeen), formatTime(d.CreatedAt),
		})
	}
	return workbook(DevicesSheet, DeviceHeader, rows)
}

// Alerts renders one row per alert.
func Alerts(alerts []alert.Alert) ([]byte, error) {
	rows := make([][]interface{}, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []interface{}{
			a.ID, a.HouseID, a.DeviceID, a.Type, a.Severity, a.Status, a.Title,
			a.Confidence, a.Source, formatTime(a.CreatedAt), formatTime(a.AcknowledgedAt), formatTime(a.ResolvedAt),
		})
	}
	return workbook(AlertsSheet, AlertHeader, rows)
}

func workbook(sheet string, header []string, rows [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, errors.Wrap(err, "creating sheet")
	}
	f.SetActiveSheet(index)
	if err = f.DeleteSheet("Sheet1"); err != nil {
		return nil, errors.Wrap(err, "deleting default sheet")
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating header style")
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err = f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return nil, errors.Wrap(err, "writing header")
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, errors.Wrap(err, "computing header range")
	}
	if err = f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return nil, errors.Wrap(err, "styling header")
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err = f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return nil, errors.Wrap(err, "sizing columns")
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, errors.Wrap(err, "computing row cell")
		}
		if err = f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return nil, errors.Wrapf(err, "writing row %d", i+2)
		}
	}

	var buf bytes.Buffer
	if _, err = f.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "writing workbook")
	}
	return buf.Bytes(), nil
}
