package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/user"
)

type cartApi struct {
	Deps
}

func registerCartAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := cartApi{Deps: deps}

	cg := g.Group("/cart", auth...)
	cg.GET("", api.retrieve)
	cg.DELETE("", api.clear)
	cg.POST("/items", api.addItem)
	cg.PUT("/items/:ref", api.updateItem)
	cg.DELETE("/items/:ref", api.removeItem)
	cg.POST("/promo", api.applyPromo)
	cg.DELETE("/promo", api.removePromo)
}

// CartResponse is a cart together with its current pricing.
type CartResponse struct {
	Cart  cart.Cart  `json:"cart"`
	Quote cart.Quote `json:"quote"`
}

func (api *cartApi) respond(ctx echo.Context, actor user.Actor, c cart.Cart, useCredit bool) error {
	q, err := api.CartSvc.Quote(ctx.Request().Context(), actor, useCredit)
	if err != nil {
		return errors.Wrap(err, "quoting cart")
	}
	return ctx.JSON(http.StatusOK, CartResponse{Cart: c, Quote: q})
}

func (api *cartApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CartSvc.Get(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "getting cart")
	}
	return api.respond(ctx, actor, c, queryBool(ctx, "use_credit"))
}

func (api *cartApi) clear(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	if err = api.CartSvc.Clear(ctx.Request().Context(), actor.UserID); err != nil {
		return errors.Wrap(err, "clearing cart")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cartApi) addItem(ctx echo.Context) error {
	var data cart.AddItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AddItem")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CartSvc.AddItem(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "adding cart item")
	}
	return api.respond(ctx, actor, c, false)
}

func (api *cartApi) updateItem(ctx echo.Context) error {
	var data cart.UpdateQuantity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuantity")
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CartSvc.UpdateQuantity(ctx.Request().Context(), actor, ctx.Param("ref"), data.Quantity)
	if err != nil {
		return errors.Wrap(err, "updating cart item")
	}
	return api.respond(ctx, actor, c, false)
}

func (api *cartApi) removeItem(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CartSvc.RemoveItem(ctx.Request().Context(), actor, ctx.Param("ref"))
	if err != nil {
		return errors.Wrap(err, "removing cart item")
	}
	return api.respond(ctx, actor, c, false)
}

func (api *cartApi) applyPromo(ctx echo.Context) error {
	var data cart.ApplyPromo
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApplyPromo")
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	q, err := api.CartSvc.ApplyPromo(ctx.Request().Context(), actor, data.Code)
	if err != nil {
		return errors.Wrap(err, "applying promo code")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *cartApi) removePromo(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.CartSvc.RemovePromo(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "removing promo code")
	}
	return api.respond(ctx, actor, c, false)
}
