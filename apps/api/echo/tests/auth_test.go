package tests

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/smarthomecloud/backend/apps/api/echo"
	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
	emailsvc "github.com/smarthomecloud/backend/services/email"
)

func login(t *testing.T, f *fixtures, email, pwd string) string {
	t.Helper()
	rec := f.do(http.MethodPost, "/v1/auth/login", "", []byte(`{"email":"`+email+`","password":"`+pwd+`"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LoginResponse
	unmarshal(t, rec, &res)
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestAuthLogin(t *testing.T) {
	f := setup(t)
	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})

	tests := []httpTest{
		{
			name:     "missing fields",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email":"this field is required","password":"this field is required"}`),
		},
		{
			name:     "unknown email",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     []byte(`{"email":"nobody@test.io","password":"` + testPassword + `"}`),
			wantCode: http.StatusUnauthorized,
			wantData: invalidCreds,
		},
		{
			name:     "wrong password",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     []byte(`{"email":"owner@test.io","password":"nope"}`),
			wantCode: http.StatusUnauthorized,
			wantData: invalidCreds,
		},
		{
			name:     "deactivated account",
			method:   http.MethodPost,
			path:     "/v1/auth/login",
			body:     []byte(`{"email":"gone@test.io","password":"` + testPassword + `"}`),
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	runTests(t, f.srv, tests, checkCodeAndData)

	token := login(t, f, "OWNER@test.io", testPassword)
	rec := f.do(http.MethodGet, "/v1/auth/me", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me user.User
	unmarshal(t, rec, &me)
	assert.Equal(t, f.owner.ID, me.ID)
	assert.Equal(t, user.RoleHomeowner, me.Role)
	assert.False(t, me.LastLogin.IsZero())
}

func TestAuthLogout(t *testing.T) {
	f := setup(t)
	token := login(t, f, "iot@test.io", testPassword)

	rec := f.do(http.MethodPost, "/v1/auth/logout", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/v1/auth/me", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusUnauthorized,
		wantData: marchallObj(t, httpErr{Error: "token has been revoked"}),
	}, rec)

	// other sessions of the user are untouched
	rec = f.do(http.MethodGet, "/v1/auth/me", f.iotToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenRefresh(t *testing.T) {
	f := setup(t)
	token := login(t, f, "staff@test.io", testPassword)

	rec := f.do(http.MethodPost, "/v1/auth/token-refresh", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LoginResponse
	unmarshal(t, rec, &res)
	require.NotEmpty(t, res.Token)
	assert.NotEqual(t, token, res.Token)

	// the refreshed token replaces the old one
	rec = f.do(http.MethodGet, "/v1/auth/me", res.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, "/v1/auth/me", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRefreshExpired(t *testing.T) {
	f := setup(t)
	conf := f.svcs.Conf

	claims := GetUserClaims(conf, f.owner, 1) // first issued in 1970
	token, err := GenerateToken(conf, claims)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/v1/auth/token-refresh", token)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusForbidden,
		wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
	}, rec)
}

func TestAuthSignup(t *testing.T) {
	f := setup(t)

	body := []byte(`{"name":"Jane Doe","email":"jane@test.io","password":"` + testPassword +
		`","password_confirm":"` + testPassword + `","role":"cloud_staff","is_active":false}`)
	rec := f.do(http.MethodPost, "/v1/auth/signup", "", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var usr user.User
	unmarshal(t, rec, &usr)
	assert.Equal(t, user.RoleHomeowner, usr.Role)
	assert.True(t, usr.IsActive)
	assert.Equal(t, "jane@test.io", usr.Email)

	// the new account can log in
	login(t, f, "jane@test.io", testPassword)

	tests := []httpTest{
		{
			name:     "email taken",
			method:   http.MethodPost,
			path:     "/v1/auth/signup",
			body:     body,
			wantCode: http.StatusBadRequest,
		},
		{
			name:   "weak password",
			method: http.MethodPost,
			path:   "/v1/auth/signup",
			body: []byte(`{"name":"John Doe","email":"john@test.io","password":"password",` +
				`"password_confirm":"password"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"password":"password must contain at least 1 uppercase character, ` +
				`1 lowercase character, 1 digit and 1 special character"}`),
		},
	}
	runTests(t, f.srv, tests[:1], checkCode)
	runTests(t, f.srv, tests[1:], checkCodeAndData)
}

func TestAuthPasswordReset(t *testing.T) {
	f := setup(t)
	core.ParseEmailTemplates(f.svcs.Conf, f.svcs.Logger)
	emailsvc.ResetSentMessages()

	for _, email := range []string{"owner@test.io", "nobody@test.io"} {
		rec := f.do(http.MethodPost, "/v1/auth/password-reset", "", []byte(`{"email":"`+email+`"}`))
		require.Equal(t, http.StatusOK, rec.Code, email)
		var res SuccessResponse
		unmarshal(t, rec, &res)
		assert.Contains(t, res.Success, "If the email address supplied", email)
	}
	// only the known account gets an email
	assert.Len(t, emailsvc.LastSentMessages(), 1)

	rec := f.do(http.MethodPost, "/v1/auth/password-reset-confirm", "",
		[]byte(`{"token":"bad","uid":"`+f.owner.ID+`","password":"N3w$ecretPhrase","password_confirm":"N3w$ecretPhrase"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOIDCLogin(t *testing.T) {
	f := setup(t)

	rec := f.do(http.MethodGet, "/v1/auth/oidc/login", "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.NotEmpty(t, loc.Query().Get("nonce"))

	// a rejected code still consumes the state
	rec = f.do(http.MethodGet, "/v1/auth/oidc/callback?code=bad&state="+state, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodGet, "/v1/auth/oidc/callback?code=good&state="+state, "")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusBadRequest,
		wantData: marchallObj(t, httpErr{Error: "invalid or expired oidc state"}),
	}, rec)

	rec = f.do(http.MethodGet, "/v1/auth/oidc/login", "")
	loc, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	rec = f.do(http.MethodGet, "/v1/auth/oidc/callback?code=good&state="+loc.Query().Get("state"), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LoginResponse
	unmarshal(t, rec, &res)

	// first login creates a homeowner
	rec = f.do(http.MethodGet, "/v1/auth/me", res.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me user.User
	unmarshal(t, rec, &me)
	assert.Equal(t, "oidc.user@test.io", me.Email)
	assert.Equal(t, user.RoleHomeowner, me.Role)
	assert.Equal(t, "fake", me.AuthProvider)
}

func TestOIDCCallbackErrors(t *testing.T) {
	f := setup(t)

	tests := []httpTest{
		{
			name:     "provider error",
			method:   http.MethodGet,
			path:     "/v1/auth/oidc/callback?error=access_denied",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid credentials"}),
		},
		{
			name:     "unknown state",
			method:   http.MethodGet,
			path:     "/v1/auth/oidc/callback?code=good&state=forged",
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired oidc state"}),
		},
	}
	runTests(t, f.srv, tests, checkCodeAndData)
}

func TestOIDCDisabled(t *testing.T) {
	f := setup(t, withoutOIDC)
	rec := f.do(http.MethodGet, "/v1/auth/oidc/login", "")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusNotFound,
		wantData: marchallObj(t, httpErr{Error: "oidc login is not enabled"}),
	}, rec)
}
