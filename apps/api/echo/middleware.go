package echoapi

import (
	"strings"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/session"
)

const contextTranslatorKey = "translator"

// sessionMiddleware rejects tokens whose session was revoked, and sets the context actor.
func sessionMiddleware(mgr *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			sess, err := validateSession(ctx.Request().Context(), mgr, claims)
			if err != nil {
				return err
			}
			ctx.Set(contextSessKey, sess)
			ctx.Set(contextActorKey, claims.Actor())
			return next(ctx)
		}
	}
}

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			actor, err := getContextActor(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context actor")
			}
			if actor.IsAdmin() && actorHasAnyRole(actor, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// instructorMiddleware lets instructors and admins through.
func instructorMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context actor")
		}
		if actor.IsInstructor() || actor.IsAdmin() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimitMiddleware allows `rps` requests per second per client IP, with bursts of `burst`.
func rateLimitMiddleware(rps float64, burst int) echo.MiddlewareFunc {
	var (
		mu        sync.Mutex
		limiters  = make(map[string]*ipLimiter)
		lastPrune = time.Now()
	)
	const idleTTL = 3 * time.Minute

	allow := func(ip string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastPrune) > time.Minute {
			for k, l := range limiters {
				if now.Sub(l.lastSeen) > idleTTL {
					delete(limiters, k)
				}
			}
			lastPrune = now
		}
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = l
		}
		l.lastSeen = now
		return l.limiter.Allow()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !allow(ctx.RealIP()) {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

// localeMiddleware picks the translator of the request from its Accept-Language header.
func localeMiddleware(uni *ut.UniversalTranslator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			locales := parseAcceptLanguage(ctx.Request().Header.Get("Accept-Language"))
			ctx.Set(contextTranslatorKey, core.Translator(uni, locales...))
			return next(ctx)
		}
	}
}

// parseAcceptLanguage returns the base languages of an Accept-Language header, in order of appearance.
// Quality values are ignored: clients list their preferred languages first.
func parseAcceptLanguage(header string) []string {
	var locales []string
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		tag = strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if tag != "" && tag != "*" {
			locales = append(locales, tag)
		}
	}
	return locales
}

func getContextTranslator(ctx echo.Context, uni *ut.UniversalTranslator) ut.Translator {
	if trans, ok := ctx.Get(contextTranslatorKey).(ut.Translator); ok {
		return trans
	}
	return core.Translator(uni)
}
