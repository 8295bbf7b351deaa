package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/smarthomecloud/backend/core/dashboard"
)

type dashboardApi struct {
	guard
	svc dashboard.Service
}

func registerDashboardAPI(g *echo.Group, auth echo.MiddlewareFunc, api *dashboardApi) {
	dg := g.Group("/dashboard", auth)
	dg.GET("/summary", api.summary)
}

func (api *dashboardApi) summary(ctx echo.Context) error {
	usr, err := api.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	sum, err := api.svc.Summary(ctx.Request().Context(), usr)
	if err != nil {
		return errors.Wrap(err, "summarizing dashboard")
	}
	return ctx.JSON(http.StatusOK, sum)
}
