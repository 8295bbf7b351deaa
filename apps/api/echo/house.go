package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/user"
)

type houseApi struct {
	guard
	validate *validator.Validate
}

func registerHouseAPI(g *echo.Group, auth echo.MiddlewareFunc, api *houseApi) {
	writers := api.roles(user.RoleHomeowner, user.RoleCloudStaff)

	hg := g.Group("/houses", auth)
	hg.GET("", api.query)
	hg.POST("", api.create, writers)

	dg := hg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, writers)
	dg.DELETE("", api.destroy, writers)
}

func (api *houseApi) load(ctx context.Context, id string) (interface{}, string, error) {
	h, err := api.houseSvc.GetByID(ctx, id)
	return h, h.ID, err
}

func contextHouse(ctx echo.Context) (house.House, error) {
	h, ok := ctx.Get(contextObjectKey).(house.House)
	if !ok {
		return house.House{}, errors.Wrap(errObjNotFoundInCtx, "retrieving house from context")
	}
	return h, nil
}

func (api *houseApi) query(ctx echo.Context) error {
	filter := new(house.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []house.House{})
	}
	filter.Clean()
	ordering := bindOrdering(ctx)

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsHomeowner() {
		filter.OwnerIDs = []string{usr.ID}
	}

	houses, err := api.houseSvc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying houses")
	}
	if houses == nil {
		houses = []house.House{}
	}
	return ctx.JSON(http.StatusOK, houses)
}

func (api *houseApi) create(ctx echo.Context) error {
	var data house.NewHouse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHouse")
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsHomeowner() {
		// homeowners register their own houses
		if data.OwnerID != "" && data.OwnerID != usr.ID {
			return errHttpForbidden
		}
		data.OwnerID = usr.ID
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	h, err := api.houseSvc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating house")
	}
	return ctx.JSON(http.StatusCreated, h)
}

func (api *houseApi) retrieve(ctx echo.Context) error {
	h, err := contextHouse(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, h)
}

func (api *houseApi) update(ctx echo.Context) error {
	h, err := contextHouse(ctx)
	if err != nil {
		return err
	}

	var data house.UpdateHouse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateHouse")
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsHomeowner() && data.OwnerID != "" && data.OwnerID != h.OwnerID {
		return errHttpForbidden
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	h, err = api.houseSvc.Update(ctx.Request().Context(), h, data)
	if err != nil {
		return errors.Wrap(err, "updating house")
	}
	return ctx.JSON(http.StatusOK, h)
}

func (api *houseApi) destroy(ctx echo.Context) error {
	h, err := contextHouse(ctx)
	if err != nil {
		return err
	}
	if err := api.houseSvc.Delete(ctx.Request().Context(), h.ID); err != nil {
		return errors.Wrap(err, "deleting house")
	}
	return ctx.NoContent(http.StatusNoContent)
}
