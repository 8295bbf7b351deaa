package tests

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core/alert"
	exportsvc "github.com/smarthomecloud/backend/services/export"
)

func statusPath(a alert.Alert) string { return "/v1/alerts/" + a.ID + "/status" }

func TestAlertStatusTransitions(t *testing.T) {
	f := setup(t)
	path := statusPath(f.ownerAlert)

	tests := []httpTest{
		{
			name:     "unknown status",
			method:   http.MethodPatch,
			path:     path,
			body:     []byte(`{"status":"closed"}`),
			token:    f.ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"status":"status must be one of [new acknowledged resolved dismissed]"}`),
		},
		{
			name:     "new cannot be resolved",
			method:   http.MethodPatch,
			path:     path,
			body:     []byte(`{"status":"resolved"}`),
			token:    f.ownerToken,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"status":"cannot change status from \"new\" to \"resolved\""}`),
		},
		{
			name:     "other homeowners cannot see it",
			method:   http.MethodPatch,
			path:     path,
			body:     []byte(`{"status":"acknowledged"}`),
			token:    f.strangerToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	runTests(t, f.srv, tests, checkCodeAndData)

	// new -> acknowledged
	rec := f.do(http.MethodPatch, path, f.ownerToken, []byte(`{"status":"acknowledged"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acked alert.Alert
	unmarshal(t, rec, &acked)
	assert.Equal(t, alert.StatusAcknowledged, acked.Status)
	assert.Equal(t, f.owner.ID, acked.AcknowledgedBy)
	assert.False(t, acked.AcknowledgedAt.IsZero())

	// acknowledged -> acknowledged
	rec = f.do(http.MethodPatch, path, f.ownerToken, []byte(`{"status":"acknowledged"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// acknowledged -> resolved, by a technician
	rec = f.do(http.MethodPatch, path, f.iotToken, []byte(`{"status":"resolved"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resolved alert.Alert
	unmarshal(t, rec, &resolved)
	assert.Equal(t, alert.StatusResolved, resolved.Status)
	assert.Equal(t, f.iot.ID, resolved.ResolvedBy)
	assert.Equal(t, f.owner.ID, resolved.AcknowledgedBy)

	// resolved is terminal
	for _, status := range []string{alert.StatusNew, alert.StatusAcknowledged, alert.StatusDismissed} {
		rec = f.do(http.MethodPatch, path, f.staffToken, []byte(`{"status":"`+status+`"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code, status)
	}
}

func TestAlertDismiss(t *testing.T) {
	f := setup(t)
	path := statusPath(f.strangerAlert)

	// new alerts must be acknowledged first
	rec := f.do(http.MethodPatch, path, f.strangerToken, []byte(`{"status":"dismissed"}`))
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: []byte(`{"status":"cannot change status from \"new\" to \"dismissed\""}`),
	}, rec)

	rec = f.do(http.MethodPatch, path, f.strangerToken, []byte(`{"status":"acknowledged"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPatch, path, f.strangerToken, []byte(`{"status":"dismissed"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dismissed alert.Alert
	unmarshal(t, rec, &dismissed)
	assert.Equal(t, alert.StatusDismissed, dismissed.Status)
	assert.Equal(t, f.stranger.ID, dismissed.ResolvedBy)
	assert.False(t, dismissed.ResolvedAt.IsZero())
}

func TestAlertCreateAndDelete(t *testing.T) {
	f := setup(t)

	body := []byte(`{"house_id":"` + f.home.ID + `","device_id":"` + f.mic.ID +
		`","type":"intrusion","severity":"critical","title":"Back door forced"}`)
	rec := f.do(http.MethodPost, "/v1/alerts", f.iotToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created alert.Alert
	unmarshal(t, rec, &created)
	assert.Equal(t, alert.StatusNew, created.Status)
	assert.Equal(t, alert.SourceManual, created.Source)
	assert.Equal(t, f.home.ID, created.HouseID)

	// the homeowner sees the new alert
	rec = f.do(http.MethodGet, "/v1/alerts/"+created.ID, f.ownerToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	// invalid payloads are rejected with field messages
	rec = f.do(http.MethodPost, "/v1/alerts", f.iotToken, []byte(`{"type":"meteor","severity":"low","title":"x"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var fldErrs map[string]string
	unmarshal(t, rec, &fldErrs)
	assert.Contains(t, fldErrs, "type")

	rec = f.do(http.MethodDelete, "/v1/alerts/"+created.ID, f.staffToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, "/v1/alerts/"+created.ID, f.staffToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertExport(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/v1/alerts/export?severity=high", f.iotToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, exportsvc.ContentType, rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Header().Get("Content-Disposition"), "alerts.xlsx"))
	assert.NotEmpty(t, rec.Body.Bytes())
}
