package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
)

// OIDCProvider runs the authorization code flow against an OpenID Connect provider.
type OIDCProvider interface {
	Name() string
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (user.OIDCIdentity, error)
}

type authApi struct {
	conf     *core.Config
	logger   core.Logger
	sessions core.SessionStore
	oidc     OIDCProvider
	svc      user.Service
	validate *validator.Validate
}

func registerAuthAPI(g *echo.Group, auth echo.MiddlewareFunc, api *authApi) {
	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/login", api.login)
	ag.POST("/signup", api.signup)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)
	ag.GET("/oidc/login", api.oidcLogin)
	ag.GET("/oidc/callback", api.oidcCallback)

	// authed endpoints
	ag.POST("/token-refresh", api.refreshToken, auth)
	ag.POST("/logout", api.logout, auth)
	ag.GET("/me", api.me, auth)
}

func (api *authApi) tokenResponse(ctx echo.Context, usr user.User) error {
	token, err := GenerateToken(api.conf, GetUserClaims(api.conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := authenticate(ctx, data.Email, data.Password, api.svc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	return api.tokenResponse(ctx, usr)
}

func (api *authApi) signup(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	data.Role = ""
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.SignUp(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "signing up")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		api.logger.Error(fmt.Sprintf("requesting password reset: %v", err), errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.conf, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	if err := api.revoke(ctx); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *authApi) logout(ctx echo.Context) error {
	if err := api.revoke(ctx); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// revoke denies the token of the request until it expires.
func (api *authApi) revoke(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if claims.Id == "" {
		return nil
	}
	err = api.sessions.RevokeToken(ctx.Request().Context(), claims.Id, time.Unix(claims.ExpiresAt, 0))
	return errors.Wrap(err, "revoking token")
}

func (api *authApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *authApi) oidcLogin(ctx echo.Context) error {
	if api.oidc == nil {
		return errOIDCDisabled
	}
	state, nonce := uuid.NewString(), uuid.NewString()
	if err := api.sessions.SaveState(ctx.Request().Context(), state, nonce, api.conf.OIDC.StateTTL); err != nil {
		return errors.Wrap(err, "saving oidc state")
	}
	return ctx.Redirect(http.StatusFound, api.oidc.AuthCodeURL(state, nonce))
}

func (api *authApi) oidcCallback(ctx echo.Context) error {
	if api.oidc == nil {
		return errOIDCDisabled
	}
	if errCode := ctx.QueryParam("error"); errCode != "" {
		api.logger.Warn(fmt.Sprintf("oidc provider %q refused login: %s", api.oidc.Name(), errCode))
		return errAuthenticationFailed
	}

	nonce, err := api.sessions.PopState(ctx.Request().Context(), ctx.QueryParam("state"))
	if err != nil {
		if errors.Cause(err) == core.ErrStateNotFound {
			return errOIDCState
		}
		return errors.Wrap(err, "popping oidc state")
	}

	identity, err := api.oidc.Exchange(ctx.Request().Context(), ctx.QueryParam("code"), nonce)
	if err != nil {
		api.logger.Warn(fmt.Sprintf("oidc exchange with %q failed: %v", api.oidc.Name(), err), err)
		return errAuthenticationFailed
	}

	usr, err := api.svc.UpsertOIDCUser(ctx.Request().Context(), identity)
	if err != nil {
		return errors.Wrap(err, "upserting oidc user")
	}
	if !usr.IsActive {
		return errAccountDeactivated
	}
	usr, err = api.svc.SetLastLogin(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "setting lastLogin")
	}
	return api.tokenResponse(ctx, usr)
}
