package tests

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/smarthomecloud/backend/apps/api/echo"
	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/audio"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/dashboard"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/maintenance"
	"github.com/smarthomecloud/backend/core/surveillance"
	"github.com/smarthomecloud/backend/core/user"
	exportsvc "github.com/smarthomecloud/backend/services/export"
)

func TestHome(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to SmartHomeCloud API!", rec.Body.String())
}

func TestHealthz(t *testing.T) {
	ok := core.PingerFunc(func(context.Context) error { return nil })
	down := core.PingerFunc(func(context.Context) error { return errors.New("connection refused") })

	f := setup(t, withPingers(map[string]core.Pinger{"database": ok}))
	rec := f.do(http.MethodGet, "/healthz", "")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusOK,
		wantData: marchallObj(t, HealthResponse{Status: "ok", Checks: map[string]string{"database": "ok"}}),
	}, rec)

	f = setup(t, withPingers(map[string]core.Pinger{"database": ok, "redis": down}))
	rec = f.do(http.MethodGet, "/healthz", "")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusServiceUnavailable,
		wantData: marchallObj(t, HealthResponse{
			Status: "unavailable",
			Checks: map[string]string{"database": "ok", "redis": "connection refused"},
		}),
	}, rec)
}

func TestUserPrivilegeEscalation(t *testing.T) {
	f := setup(t)
	path := "/v1/users/" + f.owner.ID

	tests := []httpTest{
		{
			name:     "homeowner cannot promote self",
			method:   http.MethodPut,
			path:     path,
			body:     []byte(`{"role":"cloud_staff"}`),
			token:    f.ownerToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "homeowner cannot reactivate self",
			method:   http.MethodPut,
			path:     path,
			body:     []byte(`{"is_active":true}`),
			token:    f.ownerToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "unknown role",
			method:   http.MethodPut,
			path:     path,
			body:     []byte(`{"role":"root"}`),
			token:    f.staffToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"role":"invalid role"}`),
		},
	}
	runTests(t, f.srv, tests, checkCodeAndData)

	// homeowners edit their own profile
	rec := f.do(http.MethodPut, path, f.ownerToken, []byte(`{"name":"Renamed Owner"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var usr user.User
	unmarshal(t, rec, &usr)
	assert.Equal(t, "Renamed Owner", usr.Name)
	assert.Equal(t, user.RoleHomeowner, usr.Role)

	// staff grant roles
	rec = f.do(http.MethodPut, path, f.staffToken, []byte(`{"role":"iot_team"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &usr)
	assert.Equal(t, user.RoleIoTTeam, usr.Role)

	// staff create accounts of any role
	body := []byte(`{"name":"New Staff","email":"new.staff@test.io","password":"` + testPassword +
		`","password_confirm":"` + testPassword + `","role":"cloud_staff"}`)
	rec = f.do(http.MethodPost, "/v1/users", f.staffToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unmarshal(t, rec, &usr)
	assert.Equal(t, user.RoleCloudStaff, usr.Role)

	// staff delete others, never themselves
	rec = f.do(http.MethodDelete, "/v1/users?id="+f.staff.ID+"&id="+f.stranger.ID, f.staffToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodDelete, "/v1/users?id="+f.stranger.ID, f.staffToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/v1/users/"+f.stranger.ID, f.staffToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserDestroyMultiple(t *testing.T) {
	f := setup(t)

	tests := []httpTest{
		{
			name:     "homeowners cannot bulk delete",
			method:   http.MethodDelete,
			path:     "/v1/users?id=" + f.stranger.ID,
			token:    f.ownerToken,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "no ids is a no-op",
			method:   http.MethodDelete,
			path:     "/v1/users",
			token:    f.staffToken,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "staff cannot delete themselves among others",
			method:   http.MethodDelete,
			path:     "/v1/users?id=" + f.iot.ID + "&id=" + f.staff.ID,
			token:    f.staffToken,
			wantCode: http.StatusForbidden,
		},
	}
	runTests(t, f.srv, tests, checkCode)

	// nothing was deleted by the rejected request
	rec := f.do(http.MethodGet, "/v1/users/"+f.iot.ID, f.staffToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/v1/users?id="+f.iot.ID+"&id="+f.inactive.ID, f.staffToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	for _, id := range []string{f.iot.ID, f.inactive.ID} {
		rec = f.do(http.MethodGet, "/v1/users/"+id, f.staffToken)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}

func TestHouseOwnership(t *testing.T) {
	f := setup(t)

	// homeowners always own the houses they register
	rec := f.do(http.MethodPost, "/v1/houses", f.ownerToken, []byte(`{"name":"Cabin","timezone":"Europe/Paris"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var h house.House
	unmarshal(t, rec, &h)
	assert.Equal(t, f.owner.ID, h.OwnerID)
	assert.Equal(t, "Europe/Paris", h.Timezone)

	rec = f.do(http.MethodPost, "/v1/houses", f.ownerToken, []byte(`{"name":"Gift","owner_id":"`+f.stranger.ID+`"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/v1/houses/"+h.ID, f.ownerToken, []byte(`{"owner_id":"`+f.stranger.ID+`"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, "/v1/houses/"+h.ID, f.ownerToken, []byte(`{"timezone":"Mars/Olympus"}`))
	checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"timezone":"unknown time zone"}`)}, rec)

	// staff transfer houses
	rec = f.do(http.MethodPut, "/v1/houses/"+h.ID, f.staffToken, []byte(`{"owner_id":"`+f.stranger.ID+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodGet, "/v1/houses/"+h.ID, f.ownerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var houses []house.House
	rec = f.do(http.MethodGet, "/v1/houses", f.ownerToken)
	unmarshal(t, rec, &houses)
	require.Len(t, houses, 1)
	assert.Equal(t, f.home.ID, houses[0].ID)
}

func TestDeviceUpdate(t *testing.T) {
	f := setup(t)
	path := "/v1/devices/" + f.mic.ID

	// homeowners may only rename & relocate
	rec := f.do(http.MethodPut, path, f.ownerToken, []byte(`{"firmware_version":"2.0.1"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(http.MethodPut, path, f.ownerToken, []byte(`{"status":"offline"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPut, path, f.ownerToken, []byte(`{"name":"Nursery mic","location":"Nursery"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var d device.Device
	unmarshal(t, rec, &d)
	assert.Equal(t, "Nursery mic", d.Name)
	assert.Equal(t, "Nursery", d.Location)

	rec = f.do(http.MethodPut, path, f.iotToken, []byte(`{"firmware_version":"2.0.1","status":"maintenance"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &d)
	assert.Equal(t, "2.0.1", d.FirmwareVersion)
	assert.Equal(t, device.StatusMaintenance, d.Status)
}

func TestDeviceRegistrationAndConfig(t *testing.T) {
	f := setup(t)

	body := []byte(`{"house_id":"` + f.home.ID + `","name":"Back door","type":"door_lock","serial_number":"LCK_001"}`)
	rec := f.do(http.MethodPost, "/v1/devices", f.iotToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d device.Device
	unmarshal(t, rec, &d)
	assert.Equal(t, f.home.ID, d.HouseID)

	rec = f.do(http.MethodPost, "/v1/devices", f.iotToken, []byte(`{"house_id":"`+f.home.ID+`","name":"X","type":"toaster","serial_number":"T1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/v1/devices/"+d.ID+"/config", f.iotToken, []byte(`{"config":{"auto_lock":true}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &d)
	assert.Equal(t, true, d.Config["auto_lock"])

	var logs []configlog.Entry
	rec = f.do(http.MethodGet, "/v1/devices/"+d.ID+"/config-logs", f.staffToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &logs)
	require.Len(t, logs, 1)
	assert.Equal(t, f.iot.ID, logs[0].ChangedBy)

	rec = f.do(http.MethodDelete, "/v1/devices/"+d.ID, f.staffToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/v1/devices/"+d.ID, f.staffToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceExport(t *testing.T) {
	f := setup(t)
	rec := f.do(http.MethodGet, "/v1/devices/export", f.staffToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, exportsvc.ContentType, rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Header().Get("Content-Disposition"), "devices.xlsx"))
}

func TestTelemetryIngest(t *testing.T) {
	f := setup(t)

	// a single reading below every threshold
	rec := f.do(http.MethodPost, "/v1/telemetry/readings", f.iotToken,
		[]byte(`{"device_id":"`+f.smoke.ID+`","metric":"temperature","value":21.5,"unit":"C"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res IngestResponse
	unmarshal(t, rec, &res)
	assert.Len(t, res.Readings, 1)
	assert.Empty(t, res.Alerts)

	// a batch crossing the smoke threshold raises an alert
	rec = f.do(http.MethodPost, "/v1/telemetry/readings", f.iotToken, []byte(`[
		{"device_id":"`+f.smoke.ID+`","metric":"humidity","value":40},
		{"device_id":"`+f.smoke.ID+`","metric":"smoke","value":1}
	]`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unmarshal(t, rec, &res)
	assert.Len(t, res.Readings, 2)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, alert.TypeSmoke, res.Alerts[0].Type)
	assert.Equal(t, alert.SeverityCritical, res.Alerts[0].Severity)
	assert.Equal(t, f.home.ID, res.Alerts[0].HouseID)

	// the homeowner reads the history of their device
	var readings []struct {
		Metric string `json:"metric"`
	}
	rec = f.do(http.MethodGet, "/v1/devices/"+f.smoke.ID+"/readings?metric=smoke", f.ownerToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &readings)
	require.Len(t, readings, 1)
	assert.Equal(t, "smoke", readings[0].Metric)

	// readings are validated before any is stored
	rec = f.do(http.MethodPost, "/v1/telemetry/readings", f.iotToken, []byte(`[
		{"device_id":"`+f.smoke.ID+`","metric":"smoke","value":1},
		{"device_id":"not-a-uuid","metric":"smoke","value":1}
	]`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioAnalyze(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodPost, "/v1/audio/analyze", f.ownerToken,
		[]byte(`{"device_id":"`+f.mic.ID+`","filename":"glass_shatter_kitchen.wav","duration_sec":3}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res audio.Result
	unmarshal(t, rec, &res)
	assert.Equal(t, audio.ClassGlassBreak, res.Top.Class)
	require.NotNil(t, res.Alert)
	assert.Equal(t, alert.TypeGlassBreak, res.Alert.Type)
	assert.Equal(t, alert.SourceAudio, res.Alert.Source)

	// ambient noise raises nothing
	rec = f.do(http.MethodPost, "/v1/audio/analyze", f.ownerToken,
		[]byte(`{"device_id":"`+f.mic.ID+`","filename":"living_room.wav"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = audio.Result{}
	unmarshal(t, rec, &res)
	assert.Equal(t, audio.ClassAmbient, res.Top.Class)
	assert.Nil(t, res.Alert)

	tests := []httpTest{
		{
			name:     "device of another house",
			method:   http.MethodPost,
			path:     "/v1/audio/analyze",
			body:     []byte(`{"device_id":"` + f.strangerCam.ID + `","filename":"scream.wav"}`),
			token:    f.ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"device_id":"device not found"}`),
		},
		{
			name:     "device without audio",
			method:   http.MethodPost,
			path:     "/v1/audio/analyze",
			body:     []byte(`{"device_id":"` + f.smoke.ID + `","filename":"scream.wav"}`),
			token:    f.ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"device_id":"device cannot capture audio"}`),
		},
		{
			name:     "missing filename",
			method:   http.MethodPost,
			path:     "/v1/audio/analyze",
			body:     []byte(`{"device_id":"` + f.mic.ID + `"}`),
			token:    f.iotToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"filename":"this field is required"}`),
		},
	}
	runTests(t, f.srv, tests, checkCodeAndData)
}

func TestAutomationRules(t *testing.T) {
	f := setup(t)

	body := []byte(`{"house_id":"` + f.home.ID + `","name":"Smoke notice","trigger_type":"alert",` +
		`"trigger_alert_type":"smoke","action":"notify"}`)
	rec := f.do(http.MethodPost, "/v1/automation-rules", f.ownerToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r automation.Rule
	unmarshal(t, rec, &r)
	assert.True(t, r.Enabled)

	// homeowners cannot automate houses they do not own
	body = []byte(`{"house_id":"` + f.otherHome.ID + `","name":"Sneaky","trigger_type":"alert",` +
		`"trigger_alert_type":"smoke","action":"notify"}`)
	rec = f.do(http.MethodPost, "/v1/automation-rules", f.ownerToken, body)
	checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"house_id":"house not found"}`)}, rec)

	rec = f.do(http.MethodGet, "/v1/automation-rules/"+r.ID, f.strangerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, "/v1/automation-rules/"+r.ID, f.ownerToken, []byte(`{"enabled":false}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &r)
	assert.False(t, r.Enabled)

	rec = f.do(http.MethodDelete, "/v1/automation-rules/"+r.ID, f.ownerToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSurveillanceFeeds(t *testing.T) {
	f := setup(t)

	body := []byte(`{"device_id":"` + f.strangerCam.ID + `","name":"Porch","stream_url":"rtsp://10.0.0.12/live"}`)
	rec := f.do(http.MethodPost, "/v1/surveillance-feeds", f.iotToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var feed surveillance.Feed
	unmarshal(t, rec, &feed)
	assert.Equal(t, f.otherHome.ID, feed.HouseID)

	rec = f.do(http.MethodGet, "/v1/surveillance-feeds/"+feed.ID, f.strangerToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/v1/surveillance-feeds/"+feed.ID, f.ownerToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var feeds []surveillance.Feed
	rec = f.do(http.MethodGet, "/v1/surveillance-feeds", f.ownerToken)
	unmarshal(t, rec, &feeds)
	assert.Empty(t, feeds)

	rec = f.do(http.MethodPut, "/v1/surveillance-feeds/"+feed.ID, f.iotToken, []byte(`{"status":"offline"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &feed)
	assert.Equal(t, surveillance.StatusOffline, feed.Status)
}

func TestMaintenanceRecords(t *testing.T) {
	f := setup(t)
	scheduled := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	body := []byte(`{"device_id":"` + f.smoke.ID + `","technician_id":"` + f.owner.ID +
		`","type":"inspection","scheduled_at":"` + scheduled + `"}`)
	rec := f.do(http.MethodPost, "/v1/maintenance-records", f.staffToken, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "homeowners are not technicians")

	body = []byte(`{"device_id":"` + f.smoke.ID + `","technician_id":"` + f.iot.ID +
		`","type":"inspection","scheduled_at":"` + scheduled + `"}`)
	rec = f.do(http.MethodPost, "/v1/maintenance-records", f.staffToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var record maintenance.Record
	unmarshal(t, rec, &record)
	assert.Equal(t, maintenance.StatusScheduled, record.Status)

	// the homeowner follows the maintenance of their devices
	rec = f.do(http.MethodGet, "/v1/maintenance-records/"+record.ID, f.ownerToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/v1/maintenance-records/"+record.ID, f.iotToken, []byte(`{"status":"completed"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "scheduled records start before they complete")

	rec = f.do(http.MethodPut, "/v1/maintenance-records/"+record.ID, f.iotToken, []byte(`{"status":"in_progress"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &record)
	assert.Equal(t, maintenance.StatusInProgress, record.Status)
}

func TestDashboardSummary(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/v1/dashboard/summary", f.ownerToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s dashboard.Summary
	unmarshal(t, rec, &s)
	assert.Equal(t, 1, s.Houses)
	assert.Equal(t, 2, s.Devices)
	assert.Equal(t, 1, s.OpenAlerts)

	rec = f.do(http.MethodGet, "/v1/dashboard/summary", f.staffToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &s)
	assert.Equal(t, 2, s.Houses)
	assert.Equal(t, 3, s.Devices)
	assert.Equal(t, 2, s.OpenAlerts)
}
