package echoapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/order"
)

const (
	headerIdempotencyKey  = "Idempotency-Key"
	headerStripeSignature = "Stripe-Signature"
)

type orderApi struct {
	Deps
}

func registerOrderAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := orderApi{Deps: deps}

	// un-authed: the payment provider signs its calls
	g.POST("/payments/webhook", api.webhook, middleware.BodyLimit("64K"))

	g.POST("/checkout", api.checkout, auth...)

	og := g.Group("/orders", auth...)
	og.GET("", api.query)
	og.GET("/:id", api.retrieve)
	og.POST("/:id/cancel", api.cancel)
	og.GET("/:id/invoice", api.invoice)

	ag := g.Group("/admin/orders", auth...)
	ag.Use(adminMiddleware())
	ag.GET("", api.queryAll)
}

func (api *orderApi) checkout(ctx echo.Context) error {
	var data order.CheckoutRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckoutRequest")
	}
	data.IdempotencyKey = ctx.Request().Header.Get(headerIdempotencyKey)

	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	o, err := api.OrderSvc.Checkout(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "checking out")
	}
	return ctx.JSON(http.StatusCreated, o)
}

func (api *orderApi) query(ctx echo.Context) error {
	filter := new(order.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []order.Order{})
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	orders, err := api.OrderSvc.ListForUser(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "listing orders")
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *orderApi) queryAll(ctx echo.Context) error {
	filter := new(order.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []order.Order{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, order.OrderingFields...)

	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	orders, err := api.OrderSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying orders")
	}
	if orders == nil {
		orders = []order.Order{}
	}
	return ctx.JSON(http.StatusOK, orders)
}

func (api *orderApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	o, err := api.OrderSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting order")
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *orderApi) cancel(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	o, err := api.OrderSvc.Cancel(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "cancelling order")
	}
	return ctx.JSON(http.StatusOK, o)
}

func (api *orderApi) invoice(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	inv, err := api.OrderSvc.GetInvoice(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting invoice")
	}
	if ctx.QueryParam("format") == "text" {
		return ctx.String(http.StatusOK, order.RenderInvoiceText(inv))
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *orderApi) webhook(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.Wrap(err, "reading webhook payload")
	}
	signature := ctx.Request().Header.Get(headerStripeSignature)
	if err = api.OrderSvc.HandleWebhook(ctx.Request().Context(), payload, signature); err != nil {
		return errors.Wrap(err, "handling payment webhook")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"received": true})
}
