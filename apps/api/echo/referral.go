package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/referral"
)

type referralApi struct {
	Deps
}

func registerReferralAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := referralApi{Deps: deps}

	rg := g.Group("/referrals", auth...)
	rg.GET("", api.query)
	rg.GET("/code", api.code)
}

type ReferralsResponse struct {
	Summary   referral.Summary    `json:"summary"`
	Referrals []referral.Referral `json:"referrals"`
}

func (api *referralApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	rctx := ctx.Request().Context()
	summary, err := api.ReferralSvc.Summary(rctx, actor)
	if err != nil {
		return errors.Wrap(err, "summarizing referrals")
	}
	referrals, err := api.ReferralSvc.List(rctx, actor)
	if err != nil {
		return errors.Wrap(err, "listing referrals")
	}
	if referrals == nil {
		referrals = []referral.Referral{}
	}
	return ctx.JSON(http.StatusOK, ReferralsResponse{Summary: summary, Referrals: referrals})
}

func (api *referralApi) code(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	c, err := api.ReferralSvc.CodeFor(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "getting referral code")
	}
	return ctx.JSON(http.StatusOK, c)
}
