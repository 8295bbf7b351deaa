package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/user"
	exportsvc "github.com/smarthomecloud/backend/services/export"
)

type alertApi struct {
	guard
	svc      alert.Service
	validate *validator.Validate
}

func registerAlertAPI(g *echo.Group, auth echo.MiddlewareFunc, api *alertApi) {
	technicians := api.roles(user.RoleIoTTeam, user.RoleCloudStaff)

	alg := g.Group("/alerts", auth)
	alg.GET("", api.query)
	alg.POST("", api.create, technicians)
	alg.GET("/export", api.export, technicians)

	dg := alg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PATCH("/status", api.updateStatus)
	dg.DELETE("", api.destroy, api.roles(user.RoleCloudStaff))
}

func (api *alertApi) load(ctx context.Context, id string) (interface{}, string, error) {
	a, err := api.svc.GetByID(ctx, id)
	return a, a.HouseID, err
}

func contextAlert(ctx echo.Context) (alert.Alert, error) {
	a, ok := ctx.Get(contextObjectKey).(alert.Alert)
	if !ok {
		return alert.Alert{}, errors.Wrap(errObjNotFoundInCtx, "retrieving alert from context")
	}
	return a, nil
}

// list runs the alert query of the request, scoped to the houses of homeowners.
func (api *alertApi) list(ctx echo.Context) ([]alert.Alert, error) {
	filter := new(alert.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, nil
	}
	filter.Clean()
	ordering := bindOrdering(ctx)

	houseIDs, ok, err := api.scopedHouseIDs(ctx, filter.HouseIDs)
	if err != nil || !ok {
		return nil, err
	}
	filter.HouseIDs = houseIDs

	alerts, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	return alerts, errors.Wrap(err, "querying alerts")
}

func (api *alertApi) query(ctx echo.Context) error {
	alerts, err := api.list(ctx)
	if err != nil {
		return err
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *alertApi) export(ctx echo.Context) error {
	alerts, err := api.list(ctx)
	if err != nil {
		return err
	}
	data, err := exportsvc.Alerts(alerts)
	if err != nil {
		return errors.Wrap(err, "exporting alerts")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="alerts.xlsx"`)
	return ctx.Blob(http.StatusOK, exportsvc.ContentType, data)
}

func (api *alertApi) create(ctx echo.Context) error {
	var data alert.NewAlert
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAlert")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	data.Source = alert.SourceManual

	a, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating alert")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *alertApi) retrieve(ctx echo.Context) error {
	a, err := contextAlert(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *alertApi) updateStatus(ctx echo.Context) error {
	a, err := contextAlert(ctx)
	if err != nil {
		return err
	}

	var data alert.StatusUpdate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusUpdate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	a, err = api.svc.Transition(ctx.Request().Context(), a, data.Status, usr.ID)
	if err != nil {
		return errors.Wrap(err, "changing alert status")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *alertApi) destroy(ctx echo.Context) error {
	a, err := contextAlert(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), a.ID); err != nil {
		return errors.Wrap(err, "deleting alert")
	}
	return ctx.NoContent(http.StatusNoContent)
}
