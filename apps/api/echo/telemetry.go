package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/telemetry"
	"github.com/smarthomecloud/backend/core/user"
)

type telemetryApi struct {
	guard
	svc      telemetry.Service
	validate *validator.Validate
}

type IngestResponse struct {
	Readings []telemetry.SensorReading `json:"readings"`
	Alerts   []alert.Alert             `json:"alerts"`
}

func registerTelemetryAPI(g *echo.Group, auth echo.MiddlewareFunc, api *telemetryApi) {
	tg := g.Group("/telemetry", auth)
	tg.POST("/readings", api.ingest, api.roles(user.RoleIoTTeam, user.RoleCloudStaff))
}

// ingest accepts one reading or an array of readings. Readings are validated before any is stored.
func (api *telemetryApi) ingest(ctx echo.Context) error {
	var data []telemetry.NewReading
	if err := bindOneOrMany(ctx, &data); err != nil {
		return err
	}
	for i := range data {
		if err := data[i].Validate(api.validate); err != nil {
			return err
		}
	}

	res := IngestResponse{
		Readings: make([]telemetry.SensorReading, 0, len(data)),
		Alerts:   []alert.Alert{},
	}
	for _, nr := range data {
		r, a, err := api.svc.Ingest(ctx.Request().Context(), nr)
		if err != nil {
			return errors.Wrap(err, "ingesting reading")
		}
		res.Readings = append(res.Readings, r)
		if a != nil {
			res.Alerts = append(res.Alerts, *a)
		}
	}
	return ctx.JSON(http.StatusCreated, res)
}
