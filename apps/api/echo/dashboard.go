package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func registerDashboardAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	g.GET("/dashboard", func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context actor")
		}
		d, err := deps.DashboardSvc.For(ctx.Request().Context(), actor)
		if err != nil {
			return errors.Wrap(err, "building dashboard")
		}
		return ctx.JSON(http.StatusOK, d)
	}, auth...)
}
