package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/maintenance"
	"github.com/smarthomecloud/backend/core/user"
)

type maintenanceApi struct {
	guard
	svc      maintenance.Service
	validate *validator.Validate
}

func registerMaintenanceAPI(g *echo.Group, auth echo.MiddlewareFunc, api *maintenanceApi) {
	technicians := api.roles(user.RoleIoTTeam, user.RoleCloudStaff)

	mg := g.Group("/maintenance-records", auth)
	mg.GET("", api.query)
	mg.POST("", api.create, technicians)

	dg := mg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, technicians)
	dg.DELETE("", api.destroy, technicians)
}

func (api *maintenanceApi) load(ctx context.Context, id string) (interface{}, string, error) {
	r, err := api.svc.GetByID(ctx, id)
	return r, r.HouseID, err
}

func contextRecord(ctx echo.Context) (maintenance.Record, error) {
	r, ok := ctx.Get(contextObjectKey).(maintenance.Record)
	if !ok {
		return maintenance.Record{}, errors.Wrap(errObjNotFoundInCtx, "retrieving maintenance record from context")
	}
	return r, nil
}

func (api *maintenanceApi) query(ctx echo.Context) error {
	filter := new(maintenance.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []maintenance.Record{})
	}
	ordering := bindOrdering(ctx)

	houseIDs, ok, err := api.scopedHouseIDs(ctx, filter.HouseIDs)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []maintenance.Record{})
	}
	filter.HouseIDs = houseIDs

	records, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying maintenance records")
	}
	if records == nil {
		records = []maintenance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *maintenanceApi) create(ctx echo.Context) error {
	var data maintenance.NewRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating maintenance record")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *maintenanceApi) retrieve(ctx echo.Context) error {
	r, err := contextRecord(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *maintenanceApi) update(ctx echo.Context) error {
	r, err := contextRecord(ctx)
	if err != nil {
		return err
	}

	var data maintenance.UpdateRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err = api.svc.Update(ctx.Request().Context(), r, data)
	if err != nil {
		return errors.Wrap(err, "updating maintenance record")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *maintenanceApi) destroy(ctx echo.Context) error {
	r, err := contextRecord(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting maintenance record")
	}
	return ctx.NoContent(http.StatusNoContent)
}
