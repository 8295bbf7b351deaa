package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeVerifyToken(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	gen := tokenGenerator{
		secretKey: []byte("secret"),
		timeout:   3 * 24 * time.Hour,
		nowFunc:   func() time.Time { return now },
	}

	usr := User{
		ID:        "5b0f8a9e-5f5e-4b8e-9d4c-0d3b9c6a1f11",
		Name:      "T",
		Email:     "t@test.test",
		Role:      RoleHomeowner,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now.Add(-time.Hour),
	}
	require.NoError(t, usr.SetPassword("pwd"))

	validToken, err := gen.makeToken(usr)
	require.NoError(t, err)

	// issued a minute too early
	expiredGen := gen
	expiredGen.nowFunc = func() time.Time { return now.Add(-gen.timeout - time.Minute) }
	expiredToken, err := expiredGen.makeToken(usr)
	require.NoError(t, err)

	// issued right at the limit
	edgeGen := gen
	edgeGen.nowFunc = func() time.Time { return now.Add(-gen.timeout) }
	edgeToken, err := edgeGen.makeToken(usr)
	require.NoError(t, err)

	loggedIn := usr
	loggedIn.LastLogin = now

	newPassword := usr
	require.NoError(t, newPassword.SetPassword("other"))

	deactivated := usr
	deactivated.IsActive = false

	otherKey := gen
	otherKey.secretKey = []byte("other")

	tests := []struct {
		name    string
		gen     tokenGenerator
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", gen: gen, usr: usr, wantErr: errInvalidToken},
		{name: "no separator", gen: gen, usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "empty timestamp", gen: gen, usr: usr, token: ".sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", gen: gen, usr: usr, token: "not-base36!.sig", wantErr: errInvalidToken},
		{name: "forged signature", gen: gen, usr: usr, token: "t9m3k2.sig", wantErr: errInvalidToken},
		{name: "expired token", gen: gen, usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "user logged in since", gen: gen, usr: loggedIn, token: validToken, wantErr: errInvalidToken},
		{name: "password changed since", gen: gen, usr: newPassword, token: validToken, wantErr: errInvalidToken},
		{name: "deactivated since", gen: gen, usr: deactivated, token: validToken, wantErr: errInvalidToken},
		{name: "other secret key", gen: otherKey, usr: usr, token: validToken, wantErr: errInvalidToken},
		{name: "token at the limit", gen: gen, usr: usr, token: edgeToken},
		{name: "valid token", gen: gen, usr: usr, token: validToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.gen.verifyToken(tt.usr, tt.token))
		})
	}
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: "5b0f8a9e-5f5e-4b8e-9d4c-0d3b9c6a1f11"}
	id, err := decodeUID(EncodeUID(usr))
	require.NoError(t, err)
	assert.Equal(t, usr.ID, id)

	_, err = decodeUID("%%%")
	assert.Error(t, err)
}
