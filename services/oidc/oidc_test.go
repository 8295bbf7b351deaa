package oidcsvc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/smarthomecloud/backend/core"
)

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "smarthomecloud"
)

func testConfig() *core.Config {
	conf := &core.Config{}
	conf.OIDC.Provider = "example"
	conf.OIDC.ClientID = testClientID
	conf.OIDC.ClientSecret = "secret"
	conf.OIDC.RedirectURL = "http://localhost:8000/v1/auth/oidc/callback"
	return conf
}

// tokenServer answers the token endpoint with an id token signed by key.
func tokenServer(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims, withIDToken bool) *httptest.Server {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.PostForm.Get("code"))

		resp := map[string]interface{}{"access_token": "at", "token_type": "Bearer", "expires_in": 3600}
		if withIDToken {
			resp["id_token"] = signed
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, srv *httptest.Server, key *rsa.PrivateKey) *Provider {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	endpoint := oauth2.Endpoint{AuthURL: testIssuer + "/authorize", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	return newProvider(testConfig(), endpoint, verifier)
}

func idClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "subject-42",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"nonce":          nonce,
		"email":          "alice@example.com",
		"email_verified": true,
		"name":           "Alice",
	}
}

func TestAuthCodeURL(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := newTestProvider(t, tokenServer(t, key, idClaims("n"), true), key)

	u, err := url.Parse(p.AuthCodeURL("the-state", "the-nonce"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "the-state", q.Get("state"))
	assert.Equal(t, "the-nonce", q.Get("nonce"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "openid profile email", q.Get("scope"))
}

func TestExchange(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("verified identity", func(t *testing.T) {
		p := newTestProvider(t, tokenServer(t, key, idClaims("n1"), true), key)
		ident, err := p.Exchange(ctx, "the-code", "n1")
		require.NoError(t, err)
		assert.Equal(t, "example", ident.Provider)
		assert.Equal(t, "subject-42", ident.Subject)
		assert.Equal(t, "alice@example.com", ident.Email)
		assert.True(t, ident.EmailVerified)
		assert.Equal(t, "Alice", ident.Name)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		p := newTestProvider(t, tokenServer(t, key, idClaims("n1"), true), key)
		_, err := p.Exchange(ctx, "the-code", "other")
		assert.Equal(t, ErrNonceMismatch, err)
	})

	t.Run("missing id token", func(t *testing.T) {
		p := newTestProvider(t, tokenServer(t, key, idClaims("n1"), false), key)
		_, err := p.Exchange(ctx, "the-code", "n1")
		assert.Equal(t, ErrMissingIDToken, err)
	})

	t.Run("foreign signature", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		p := newTestProvider(t, tokenServer(t, other, idClaims("n1"), true), key)
		_, err = p.Exchange(ctx, "the-code", "n1")
		assert.Error(t, err)
	})
}
