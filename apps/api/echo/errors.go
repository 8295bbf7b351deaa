package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	errTokenRevoked         = echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
	errOIDCDisabled         = echo.NewHTTPError(http.StatusNotFound, "oidc login is not enabled")
	errOIDCState            = echo.NewHTTPError(http.StatusBadRequest, "invalid or expired oidc state")

	errObjNotFoundInCtx = errors.New("object not found in echo.Context")
)

// clientError maps the errors a client can fix to a status & a message.
// ok is false for everything else, which is a server error.
func clientError(err error, translator ut.Translator) (code int, message interface{}, ok bool) {
	switch cause := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if cause == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, cause.Message, true
		}
		if inner, isHTTP := cause.Internal.(*echo.HTTPError); isHTTP {
			cause = inner
		}
		return cause.Code, cause.Message, true

	case validator.ValidationErrors:
		fields := make(map[string]string, len(cause))
		for _, fe := range cause {
			fields[fe.Field()] = fe.Translate(translator)
		}
		return http.StatusBadRequest, fields, true

	case *core.ValidationError:
		if len(cause.Fields) == 0 {
			return http.StatusBadRequest, cause.Error(), true
		}
		fields := make(map[string]string, len(cause.Fields))
		for _, fe := range cause.Fields {
			fields[fe.Field] = fe.Error
		}
		return http.StatusBadRequest, fields, true

	case *core.NotFoundError:
		return http.StatusNotFound, cause.Error(), true
	}
	return 0, nil, false
}

// claimedUser is the caller as far as the token tells, for error reports.
func claimedUser(ctx echo.Context) user.User {
	var usr user.User
	if claims, err := getContextClaims(ctx); err == nil {
		usr.ID = claims.Subject
		usr.Email = claims.Email
		usr.Role = claims.Role
	}
	return usr
}

// newAppHTTPErrorHandler returns the echo.HTTPErrorHandler of the API.
// Client errors are answered as is; server errors are logged with the caller and answered with a generic 500.
// signalShutdown is called whenever a core shutdown error reaches the handler.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message, ok := clientError(err, translator)
		if !ok {
			code = http.StatusInternalServerError
			message = http.StatusText(code)

			req := ctx.Request()
			msg := fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, http.StatusText(code))
			logger.Error(msg, errors.Wrap(err, msg), claimedUser(ctx))

			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				message = err.Error()
			}
		}

		if m, isStr := message.(string); isStr {
			message = echo.Map{"error": m}
		}
		if ctx.Response().Committed {
			return
		}

		if ctx.Request().Method == http.MethodHead {
			err = ctx.NoContent(code)
		} else {
			err = ctx.JSON(code, message)
		}
		if err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}
