package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/academia/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind parses `?ordering=a,-b`, ignoring the fields not in `allowed`.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	ord.Orderings = core.ParseOrdering(ctx.QueryParam(orderingParam), allowed...)
}

// queryBool returns the boolean value of a query param; false when missing or malformed.
func queryBool(ctx echo.Context, name string) bool {
	b, _ := strconv.ParseBool(ctx.QueryParam(name))
	return b
}

// queryInt returns the int value of a query param; `def` when missing or malformed.
func queryInt(ctx echo.Context, name string, def int) int {
	if i, err := strconv.Atoi(ctx.QueryParam(name)); err == nil {
		return i
	}
	return def
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)
