package echoapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/user"
)

// authMiddleware verifies the JWT, rejects revoked tokens and loads the active context user.
func authMiddleware(conf *core.Config, sessions core.SessionStore, usrSvc user.Service) echo.MiddlewareFunc {
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwt(func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			revoked, err := sessions.IsTokenRevoked(ctx.Request().Context(), claims.Id)
			if err != nil {
				return errors.Wrap(err, "checking token revocation")
			}
			if revoked {
				return errTokenRevoked
			}

			usr, err := getContextUser(ctx, usrSvc, claims)
			if err != nil {
				return err
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			return next(ctx)
		})
	}
}

// loader fetches the object identified by a path param, along with the house it belongs to.
type loader func(ctx context.Context, id string) (obj interface{}, houseID string, err error)

// guard authorizes requests: role allow-lists and house ownership for homeowners.
type guard struct {
	usrSvc   user.Service
	houseSvc house.Service
}

func (g guard) contextUser(ctx echo.Context) (user.User, error) {
	return getContextUser(ctx, g.usrSvc)
}

// roles only lets users with one of roles through.
func (g guard) roles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := g.contextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if usr.HasAnyRole(roles...) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// object loads the object of the `:id` path param into the context.
// Homeowners get a 404 for objects outside their houses.
func (g guard) object(load loader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := g.contextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}

			obj, houseID, err := load(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if core.IsNotFound(err) {
					return errHttpNotFound
				}
				return errors.Wrap(err, "loading object")
			}
			if usr.IsHomeowner() {
				owns, err := g.ownsHouse(ctx, usr, houseID)
				if err != nil {
					return err
				}
				if !owns {
					return errHttpNotFound
				}
			}
			ctx.Set(contextObjectKey, obj)
			return next(ctx)
		}
	}
}

func (g guard) ownsHouse(ctx echo.Context, usr user.User, houseID string) (bool, error) {
	if houseID == "" {
		return false, nil
	}
	h, err := g.houseSvc.GetByID(ctx.Request().Context(), houseID)
	if err != nil {
		if core.IsNotFound(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "finding house")
	}
	return h.OwnerID == usr.ID, nil
}

// scopedHouseIDs narrows the requested house IDs to the houses a homeowner owns.
// ok is false when nothing is left to look at.
func (g guard) scopedHouseIDs(ctx echo.Context, requested []string) (ids []string, ok bool, err error) {
	usr, err := g.contextUser(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "getting context user")
	}
	if !usr.IsHomeowner() {
		return requested, true, nil
	}

	owned, err := g.houseSvc.OwnedHouseIDs(ctx.Request().Context(), usr.ID)
	if err != nil {
		return nil, false, errors.Wrap(err, "listing owned houses")
	}
	if len(requested) == 0 {
		return owned, len(owned) > 0, nil
	}
	for _, id := range requested {
		if core.StringInSlice(id, owned) {
			ids = append(ids, id)
		}
	}
	return ids, len(ids) > 0, nil
}
