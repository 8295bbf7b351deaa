package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/audio"
	"github.com/smarthomecloud/backend/core/device"
)

type audioApi struct {
	guard
	svc       audio.Service
	deviceSvc device.Service
	validate  *validator.Validate
}

func registerAudioAPI(g *echo.Group, auth echo.MiddlewareFunc, api *audioApi) {
	ag := g.Group("/audio", auth)
	ag.POST("/analyze", api.analyze)
}

func (api *audioApi) analyze(ctx echo.Context) error {
	var data audio.Sample
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Sample")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.IsHomeowner() {
		d, err := api.deviceSvc.GetByID(ctx.Request().Context(), data.DeviceID)
		if err != nil && !core.IsNotFound(err) {
			return errors.Wrap(err, "finding device")
		}
		owns, err := api.ownsHouse(ctx, usr, d.HouseID)
		if err != nil {
			return err
		}
		if !owns {
			return core.NewValidationError(nil, core.FieldError{Field: "device_id", Error: "device not found"})
		}
	}

	res, err := api.svc.Analyze(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "analyzing audio")
	}
	return ctx.JSON(http.StatusOK, res)
}
