package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
)

var (
	tokenSalt = []byte("smarthomecloud.core.user.password-reset")

	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")
)

// tokenGenerator issues password reset tokens of the form "<issued-at base36>.<signature>".
// The signature covers the account state a reset changes, so a token works at most once.
type tokenGenerator struct {
	secretKey []byte
	timeout   time.Duration
	nowFunc   func() time.Time // mockable
}

func newTokenGenerator(conf *core.Config) tokenGenerator {
	return tokenGenerator{
		secretKey: []byte(conf.SecretKey),
		timeout:   conf.PasswordResetTimeoutDelta,
		nowFunc:   core.Now,
	}
}

// EncodeUID encodes a user ID for use in a URL.
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

func decodeUID(uid string) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", errors.Wrap(err, "decoding uid")
	}
	return string(id), nil
}

func (g tokenGenerator) makeToken(usr User) (string, error) {
	return g.tokenAt(usr, g.nowFunc().Unix())
}

func (g tokenGenerator) verifyToken(usr User, token string) error {
	issued, _, found := strings.Cut(token, ".")
	if !found || issued == "" {
		return errInvalidToken
	}
	ts, err := strconv.ParseInt(issued, 36, 64)
	if err != nil {
		return errInvalidToken
	}

	want, err := g.tokenAt(usr, ts)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(token)) {
		return errInvalidToken
	}

	if g.nowFunc().Sub(time.Unix(ts, 0)) > g.timeout {
		return errTokenExpired
	}
	return nil
}

func (g tokenGenerator) tokenAt(usr User, ts int64) (string, error) {
	key := sha256.Sum256(append(append([]byte{}, tokenSalt...), g.secretKey...))
	mac := hmac.New(sha256.New, key[:])
	if _, err := mac.Write(accountState(usr, ts)); err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return strconv.FormatInt(ts, 36) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// accountState changes with the password, the last login, the email & the active flag.
func accountState(usr User, ts int64) []byte {
	var b strings.Builder
	b.WriteString(usr.ID)
	b.WriteByte('|')
	b.Write(usr.PasswordHash)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(usr.Email))
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(usr.IsActive))
	if !usr.LastLogin.IsZero() {
		b.WriteByte('|')
		b.WriteString(usr.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(ts, 10))
	return []byte(b.String())
}
