package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/surveillance"
	"github.com/smarthomecloud/backend/core/user"
)

type feedApi struct {
	guard
	svc      surveillance.Service
	validate *validator.Validate
}

func registerFeedAPI(g *echo.Group, auth echo.MiddlewareFunc, api *feedApi) {
	technicians := api.roles(user.RoleIoTTeam, user.RoleCloudStaff)

	fg := g.Group("/surveillance-feeds", auth)
	fg.GET("", api.query)
	fg.POST("", api.create, technicians)

	dg := fg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, technicians)
	dg.DELETE("", api.destroy, technicians)
}

func (api *feedApi) load(ctx context.Context, id string) (interface{}, string, error) {
	f, err := api.svc.GetByID(ctx, id)
	return f, f.HouseID, err
}

func contextFeed(ctx echo.Context) (surveillance.Feed, error) {
	f, ok := ctx.Get(contextObjectKey).(surveillance.Feed)
	if !ok {
		return surveillance.Feed{}, errors.Wrap(errObjNotFoundInCtx, "retrieving feed from context")
	}
	return f, nil
}

func (api *feedApi) query(ctx echo.Context) error {
	filter := new(surveillance.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []surveillance.Feed{})
	}
	filter.Clean()
	ordering := bindOrdering(ctx)

	houseIDs, ok, err := api.scopedHouseIDs(ctx, filter.HouseIDs)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []surveillance.Feed{})
	}
	filter.HouseIDs = houseIDs

	feeds, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying feeds")
	}
	if feeds == nil {
		feeds = []surveillance.Feed{}
	}
	return ctx.JSON(http.StatusOK, feeds)
}

func (api *feedApi) create(ctx echo.Context) error {
	var data surveillance.NewFeed
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeed")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	f, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating feed")
	}
	return ctx.JSON(http.StatusCreated, f)
}

func (api *feedApi) retrieve(ctx echo.Context) error {
	f, err := contextFeed(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *feedApi) update(ctx echo.Context) error {
	f, err := contextFeed(ctx)
	if err != nil {
		return err
	}

	var data surveillance.UpdateFeed
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateFeed")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	f, err = api.svc.Update(ctx.Request().Context(), f, data)
	if err != nil {
		return errors.Wrap(err, "updating feed")
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *feedApi) destroy(ctx echo.Context) error {
	f, err := contextFeed(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), f.ID); err != nil {
		return errors.Wrap(err, "deleting feed")
	}
	return ctx.NoContent(http.StatusNoContent)
}
