package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	. "github.com/smarthomecloud/backend/apps/api/echo"
	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/user"
	"github.com/smarthomecloud/backend/tests"
)

const testPassword = "Sup3r$ecretPhrase"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

// fakeOIDC stands in for an OpenID Connect provider: code "good" logs in identity.
type fakeOIDC struct {
	identity  user.OIDCIdentity
	lastNonce string
}

func (p *fakeOIDC) Name() string { return "fake" }

func (p *fakeOIDC) AuthCodeURL(state, nonce string) string {
	p.lastNonce = nonce
	v := url.Values{"state": {state}, "nonce": {nonce}}
	return "https://idp.test/authorize?" + v.Encode()
}

func (p *fakeOIDC) Exchange(_ context.Context, code, nonce string) (user.OIDCIdentity, error) {
	if code != "good" {
		return user.OIDCIdentity{}, errors.New("invalid authorization code")
	}
	if nonce != p.lastNonce {
		return user.OIDCIdentity{}, errors.New("nonce mismatch")
	}
	return p.identity, nil
}

// fixtures are the accounts & objects every API test starts with.
// The stranger is a homeowner who owns otherHome & everything in it.
type fixtures struct {
	svcs *testutil.Services
	srv  *Server
	oidc *fakeOIDC

	owner, stranger, iot, staff, inactive user.User
	home, otherHome                       house.House
	mic, smoke, strangerCam               device.Device
	ownerAlert, strangerAlert             alert.Alert

	ownerToken, strangerToken, iotToken, staffToken string
}

func setup(t *testing.T, opts ...func(*ServerDeps)) *fixtures {
	t.Helper()
	svcs := testutil.NewServices(testutil.FixedRand{V: .5})

	f := &fixtures{
		svcs: svcs,
		oidc: &fakeOIDC{identity: user.OIDCIdentity{
			Provider:      "fake",
			Subject:       "sub-1",
			Email:         "oidc.user@test.io",
			EmailVerified: true,
			Name:          "Oidc User",
		}},
	}

	deps := ServerDeps{
		Conf:            svcs.Conf,
		Logger:          svcs.Logger,
		Validate:        svcs.Validate,
		Translator:      svcs.Translator,
		Sessions:        svcs.Sessions,
		OIDC:            f.oidc,
		UserSvc:         svcs.User,
		HouseSvc:        svcs.House,
		DeviceSvc:       svcs.Device,
		ConfigLogSvc:    svcs.ConfigLog,
		AlertSvc:        svcs.Alert,
		AudioSvc:        svcs.Audio,
		AutomationSvc:   svcs.Automation,
		TelemetrySvc:    svcs.Telemetry,
		SurveillanceSvc: svcs.Surveillance,
		MaintenanceSvc:  svcs.Maintenance,
		DashboardSvc:    svcs.Dashboard,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.srv = NewServer(deps)
	t.Cleanup(func() { _ = f.srv.Close() })

	f.owner = testutil.CreateUser(t, svcs.UserRepo, "Home Owner", "owner@test.io", testPassword, user.RoleHomeowner, true)
	f.stranger = testutil.CreateUser(t, svcs.UserRepo, "Other Owner", "stranger@test.io", testPassword, user.RoleHomeowner, true)
	f.iot = testutil.CreateUser(t, svcs.UserRepo, "Iot Tech", "iot@test.io", testPassword, user.RoleIoTTeam, true)
	f.staff = testutil.CreateUser(t, svcs.UserRepo, "Cloud Staff", "staff@test.io", testPassword, user.RoleCloudStaff, true)
	f.inactive = testutil.CreateUser(t, svcs.UserRepo, "Gone Owner", "gone@test.io", testPassword, user.RoleHomeowner, false)

	f.home = testutil.CreateHouse(t, svcs.HouseRepo, f.owner.ID, "Home")
	f.otherHome = testutil.CreateHouse(t, svcs.HouseRepo, f.stranger.ID, "Other Home")

	f.mic = testutil.CreateDevice(t, svcs.DeviceRepo, f.home.ID, "Hall mic", device.TypeMicrophone, "MIC001", device.StatusOnline)
	f.smoke = testutil.CreateDevice(t, svcs.DeviceRepo, f.home.ID, "Kitchen smoke", device.TypeSmokeDetector, "SMK001", device.StatusOnline)
	f.strangerCam = testutil.CreateDevice(t, svcs.DeviceRepo, f.otherHome.ID, "Porch cam", device.TypeCamera, "CAM001", device.StatusOnline)

	f.ownerAlert = testutil.CreateAlert(t, svcs.AlertRepo, f.home.ID, f.mic.ID, alert.TypeSound, alert.SeverityHigh, alert.StatusNew)
	f.strangerAlert = testutil.CreateAlert(t, svcs.AlertRepo, f.otherHome.ID, f.strangerCam.ID, alert.TypeMotion, alert.SeverityMedium, alert.StatusNew)

	f.ownerToken = getToken(t, svcs.Conf, f.owner)
	f.strangerToken = getToken(t, svcs.Conf, f.stranger)
	f.iotToken = getToken(t, svcs.Conf, f.iot)
	f.staffToken = getToken(t, svcs.Conf, f.staff)
	return f
}

func withoutOIDC(deps *ServerDeps) { deps.OIDC = nil }

func withPingers(pingers map[string]core.Pinger) func(*ServerDeps) {
	return func(deps *ServerDeps) { deps.Pingers = pingers }
}

// do serves a request & returns the recorded response.
func (f *fixtures) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	f.srv.ServeHTTP(rec, req)
	return rec
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, usr user.User) string {
	t.Helper()
	token, err := GenerateToken(conf, GetUserClaims(conf, usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("json.Unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCode(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	checkCode(t, tt, rec)
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runTests(t *testing.T, srv *Server, tests []httpTest, check func(*testing.T, httpTest, *httptest.ResponseRecorder)) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			srv.ServeHTTP(rec, req)
			check(t, tt, rec)
		})
	}
}
