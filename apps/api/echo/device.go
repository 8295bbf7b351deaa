package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/telemetry"
	"github.com/smarthomecloud/backend/core/user"
	exportsvc "github.com/smarthomecloud/backend/services/export"
)

type deviceApi struct {
	guard
	svc          device.Service
	configLogSvc configlog.Service
	telemetrySvc telemetry.Service
	validate     *validator.Validate
}

func registerDeviceAPI(g *echo.Group, auth echo.MiddlewareFunc, api *deviceApi) {
	technicians := api.roles(user.RoleIoTTeam, user.RoleCloudStaff)

	dvg := g.Group("/devices", auth)
	dvg.GET("", api.query)
	dvg.POST("", api.create, technicians)
	dvg.GET("/export", api.export, technicians)

	dg := dvg.Group("/:id", api.object(api.load))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, technicians)
	dg.PUT("/config", api.updateConfig, technicians)
	dg.GET("/config-logs", api.queryConfigLogs, technicians)
	dg.GET("/readings", api.queryReadings)
}

func (api *deviceApi) load(ctx context.Context, id string) (interface{}, string, error) {
	d, err := api.svc.GetByID(ctx, id)
	return d, d.HouseID, err
}

func contextDevice(ctx echo.Context) (device.Device, error) {
	d, ok := ctx.Get(contextObjectKey).(device.Device)
	if !ok {
		return device.Device{}, errors.Wrap(errObjNotFoundInCtx, "retrieving device from context")
	}
	return d, nil
}

// list runs the device query of the request, scoped to the houses of homeowners.
func (api *deviceApi) list(ctx echo.Context) ([]device.Device, error) {
	filter := new(device.QueryFilter)
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

	devices, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	return devices, errors.Wrap(err, "querying devices")
}

func (api *deviceApi) query(ctx echo.Context) error {
	devices, err := api.list(ctx)
	if err != nil {
		return err
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return ctx.JSON(http.StatusOK, devices)
}

func (api *deviceApi) export(ctx echo.Context) error {
	devices, err := api.list(ctx)
	if err != nil {
		return err
	}
	data, err := exportsvc.Devices(devices)
	if err != nil {
		return errors.Wrap(err, "exporting devices")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="devices.xlsx"`)
	return ctx.Blob(http.StatusOK, exportsvc.ContentType, data)
}

func (api *deviceApi) create(ctx echo.Context) error {
	var data device.NewDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDevice")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	d, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating device")
	}
	return ctx.JSON(http.StatusCreated, d)
}

func (api *deviceApi) retrieve(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *deviceApi) update(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}

	var data device.UpdateDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDevice")
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// homeowners may only rename & relocate their devices
	if usr.IsHomeowner() && !data.OwnerEditableOnly() {
		return errHttpForbidden
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	d, err = api.svc.Update(ctx.Request().Context(), d, data)
	if err != nil {
		return errors.Wrap(err, "updating device")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *deviceApi) updateConfig(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}

	var data device.UpdateConfig
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateConfig")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	d, err = api.svc.UpdateConfig(ctx.Request().Context(), d, data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "updating device config")
	}
	return ctx.JSON(http.StatusOK, d)
}

func (api *deviceApi) destroy(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), d.ID); err != nil {
		return errors.Wrap(err, "deleting device")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *deviceApi) queryConfigLogs(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}

	filter := new(configlog.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []configlog.Entry{})
	}
	filter.DeviceID = d.ID
	ordering := bindOrdering(ctx)

	entries, err := api.configLogSvc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying config logs")
	}
	if entries == nil {
		entries = []configlog.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *deviceApi) queryReadings(ctx echo.Context) error {
	d, err := contextDevice(ctx)
	if err != nil {
		return err
	}

	filter := new(telemetry.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []telemetry.SensorReading{})
	}
	filter.DeviceID = d.ID
	filter.Clean()

	readings, err := api.telemetrySvc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying readings")
	}
	if readings == nil {
		readings = []telemetry.SensorReading{}
	}
	return ctx.JSON(http.StatusOK, readings)
}
