package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/academia/apps/api/di"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/dashboard"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/exam"
	"github.com/trezcool/academia/core/order"
	"github.com/trezcool/academia/core/promo"
	"github.com/trezcool/academia/core/referral"
	"github.com/trezcool/academia/core/session"
	"github.com/trezcool/academia/core/store"
	"github.com/trezcool/academia/core/tenant"
	"github.com/trezcool/academia/core/user"
)

type (
	Deps struct {
		Conf           *core.Config
		Logger         core.Logger
		Validate       *validator.Validate
		Uni            *ut.UniversalTranslator
		DisableReqLogs bool

		TenantSvc     *tenant.Service
		UserSvc       user.Service
		SessionMgr    *session.Manager
		CourseSvc     *course.Service
		EnrollmentSvc *enrollment.Service
		ExamSvc       *exam.Service
		StoreSvc      *store.Service
		PromoSvc      *promo.Service
		CartSvc       *cart.Service
		OrderSvc      *order.Service
		ReferralSvc   *referral.Service
		DashboardSvc  *dashboard.Service
	}

	Server struct {
		deps     Deps
		app      *echo.Echo
		jwtConf  middleware.JWTConfig
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

// NewDeps returns the Deps of the services assembled by `c`.
func NewDeps(c *di.Container) Deps {
	return Deps{
		Conf:          c.Conf,
		Logger:        c.Logger,
		Validate:      c.Validate,
		Uni:           c.Uni,
		TenantSvc:     c.TenantSvc,
		UserSvc:       c.UserSvc,
		SessionMgr:    c.SessionMgr,
		CourseSvc:     c.CourseSvc,
		EnrollmentSvc: c.EnrollmentSvc,
		ExamSvc:       c.ExamSvc,
		StoreSvc:      c.StoreSvc,
		PromoSvc:      c.PromoSvc,
		CartSvc:       c.CartSvc,
		OrderSvc:      c.OrderSvc,
		ReferralSvc:   c.ReferralSvc,
		DashboardSvc:  c.DashboardSvc,
	}
}

func NewServer(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf
	s.jwtConf = newJWTConfig(conf)

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(localeMiddleware(s.deps.Uni))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Uni, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	auth := []echo.MiddlewareFunc{
		middleware.JWTWithConfig(s.jwtConf),
		sessionMiddleware(s.deps.SessionMgr),
	}
	limit := rateLimitMiddleware(conf.Server.RateLimit, conf.Server.RateBurst)

	registerUserAPI(v1, auth, limit, s.deps)
	registerSessionAPI(v1, auth, s.deps)
	registerCourseAPI(v1, auth, s.deps)
	registerEnrollmentAPI(v1, auth, s.deps)
	registerExamAPI(v1, auth, s.deps)
	registerStoreAPI(v1, auth, s.deps)
	registerPromoAPI(v1, auth, s.deps)
	registerCartAPI(v1, auth, s.deps)
	registerOrderAPI(v1, auth, s.deps)
	registerReferralAPI(v1, auth, s.deps)
	registerDashboardAPI(v1, auth, s.deps)
}

// Start blocks until the server is shut down; failures are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
