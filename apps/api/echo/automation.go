package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/user"
)

type automationApi struct {
	guard
	svc      automation.Service
	validate *validator.Validate
}

func registerAutomationAPI(g *echo.Group, auth echo.MiddlewareFunc, api *automationApi) {
	writers := api.roles(user.RoleHomeowner, user.RoleCloudStaff)

	rg := g.Group("/automation-rules", auth)
	rg.GET("", api.query)
	rg.POST("", api.create, writers)

	dg := rg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, writers)
	dg.DELETE("", api.destroy, writers)
}

func (api *automationApi) load(ctx context.Context, id string) (interface{}, string, error) {
	r, err := api.svc.GetByID(ctx, id)
	return r, r.HouseID, err
}

func contextRule(ctx echo.Context) (automation.Rule, error) {
	r, ok := ctx.Get(contextObjectKey).(automation.Rule)
	if !ok {
		return automation.Rule{}, errors.Wrap(errObjNotFoundInCtx, "retrieving automation rule from context")
	}
	return r, nil
}

func (api *automationApi) query(ctx echo.Context) error {
	filter := new(automation.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []automation.Rule{})
	}
	filter.Clean()
	ordering := bindOrdering(ctx)

	houseIDs, ok, err := api.scopedHouseIDs(ctx, filter.HouseIDs)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []automation.Rule{})
	}
	filter.HouseIDs = houseIDs

	rules, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying automation rules")
	}
	if rules == nil {
		rules = []automation.Rule{}
	}
	return ctx.JSON(http.StatusOK, rules)
}

func (api *automationApi) create(ctx echo.Context) error {
	var data automation.NewRule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsHomeowner() {
		owns, err := api.ownsHouse(ctx, usr, data.HouseID)
		if err != nil {
			return err
		}
		if !owns {
			return core.NewValidationError(nil, core.FieldError{Field: "house_id", Error: "house not found"})
		}
	}

	r, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating automation rule")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *automationApi) retrieve(ctx echo.Context) error {
	r, err := contextRule(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *automationApi) update(ctx echo.Context) error {
	r, err := contextRule(ctx)
	if err != nil {
		return err
	}

	var data automation.UpdateRule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRule")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err = api.svc.Update(ctx.Request().Context(), r, data)
	if err != nil {
		return errors.Wrap(err, "updating automation rule")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *automationApi) destroy(ctx echo.Context) error {
	r, err := contextRule(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting automation rule")
	}
	return ctx.NoContent(http.StatusNoContent)
}
