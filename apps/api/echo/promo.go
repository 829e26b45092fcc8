package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/promo"
)

type promoApi struct {
	Deps
}

func registerPromoAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := promoApi{Deps: deps}

	pg := g.Group("/promo-codes", auth...)
	pg.Use(adminMiddleware())
	pg.GET("", api.query)
	pg.POST("", api.create)
	pg.POST("/:code/deactivate", api.deactivate)
}

func (api *promoApi) query(ctx echo.Context) error {
	filter := new(promo.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []promo.PromoCode{})
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	codes, err := api.PromoSvc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying promo codes")
	}
	if codes == nil {
		codes = []promo.PromoCode{}
	}
	return ctx.JSON(http.StatusOK, codes)
}

func (api *promoApi) create(ctx echo.Context) error {
	var data promo.NewPromoCode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPromoCode")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	p, err := api.PromoSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating promo code")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *promoApi) deactivate(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	p, err := api.PromoSvc.Deactivate(ctx.Request().Context(), actor, promo.NormalizeCode(ctx.Param("code")))
	if err != nil {
		return errors.Wrap(err, "deactivating promo code")
	}
	return ctx.JSON(http.StatusOK, p)
}
