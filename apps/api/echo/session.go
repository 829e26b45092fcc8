package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/session"
)

var sseHeartbeat = 25 * time.Second // mockable

type sessionApi struct {
	Deps
}

func registerSessionAPI(g *echo.Group, auth []echo.MiddlewareFunc, deps Deps) {
	api := sessionApi{Deps: deps}

	sg := g.Group("/sessions", auth...)
	sg.GET("", api.query)
	sg.GET("/events", api.events)
	sg.DELETE("/:sid", api.revoke)
}

type SessionResponse struct {
	session.Session
	Current bool `json:"current"`
}

func (api *sessionApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	sessions, err := api.SessionMgr.List(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing sessions")
	}
	res := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		res = append(res, SessionResponse{Session: sess, Current: sess.ID == claims.SessionID})
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *sessionApi) revoke(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if err = api.SessionMgr.Revoke(ctx.Request().Context(), claims.Subject, ctx.Param("sid")); err != nil {
		return errors.Wrap(err, "revoking session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// events streams the session events of the user as Server-Sent Events.
// The stream ends once the session of the caller is revoked.
func (api *sessionApi) events(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	rctx := ctx.Request().Context()
	events, cancel, err := api.SessionMgr.Subscribe(rctx, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "subscribing to session events")
	}
	defer cancel()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-rctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err = fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return errors.Wrap(err, "encoding session event")
			}
			if _, err = fmt.Fprintf(res, "event: %s\ndata: %s\n\n", evt.Type, data); err != nil {
				return nil
			}
			res.Flush()
			if evt.Type == session.EventRevoked && evt.SessionID == claims.SessionID {
				return nil
			}
		}
	}
}
