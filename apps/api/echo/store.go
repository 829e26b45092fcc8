package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/store"
)

type storeApi struct {
	Deps
}

func registerStoreAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := storeApi{Deps: deps}

	pg := g.Group("/products", auth...)
	pg.GET("", api.query)
	pg.POST("", api.create, adminMiddleware())
	pg.GET("/:id", api.retrieve)
	pg.PUT("/:id", api.update, adminMiddleware())
}

func (api *storeApi) query(ctx echo.Context) error {
	filter := new(store.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []store.Product{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, store.OrderingFields...)

	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	products, err := api.StoreSvc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying products")
	}
	if products == nil {
		products = []store.Product{}
	}
	return ctx.JSON(http.StatusOK, products)
}

func (api *storeApi) create(ctx echo.Context) error {
	var data store.NewProduct
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProduct")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	p, err := api.StoreSvc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating product")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *storeApi) retrieve(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	p, err := api.StoreSvc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting product")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *storeApi) update(ctx echo.Context) error {
	var data store.UpdateProduct
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProduct")
	}
	if err := data.Validate(api.Validate); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	p, err := api.StoreSvc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating product")
	}
	return ctx.JSON(http.StatusOK, p)
}
