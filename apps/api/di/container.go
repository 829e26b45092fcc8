// Package di assembles the services of the API from their storage and infrastructure backends.
package di

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

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
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
)

type (
	// Backends are the stores and external services the services depend on.
	Backends struct {
		Tenants     tenant.Repository
		Users       user.Repository
		Courses     course.Repository
		Enrollments enrollment.Repository
		Exams       exam.Repository
		Products    store.Repository
		Promos      promo.Repository
		Orders      order.Repository
		Referrals   referral.Repository
		Stats       dashboard.Stats

		Sessions    session.Store
		Carts       cart.Store
		Idempotency order.IdempotencyStore

		Gateway   order.Gateway
		Presigner course.Presigner // nil: material uploads disabled
		MailSvc   core.EmailService
		Events    core.EventPublisher
	}

	Container struct {
		Conf     *core.Config
		Logger   core.Logger
		Validate *validator.Validate
		Uni      *ut.UniversalTranslator

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
)

// MemoryBackends returns repositories and stores backed by `db`.
// The external services are left to the caller.
func MemoryBackends(db *inmemdb.DB, conf *core.Config) Backends {
	return Backends{
		Tenants:     inmemdb.NewTenantRepository(db),
		Users:       inmemdb.NewUserRepository(db),
		Courses:     inmemdb.NewCourseRepository(db),
		Enrollments: inmemdb.NewEnrollmentRepository(db),
		Exams:       inmemdb.NewExamRepository(db),
		Products:    inmemdb.NewProductRepository(db),
		Promos:      inmemdb.NewPromoRepository(db),
		Orders:      inmemdb.NewOrderRepository(db),
		Referrals:   inmemdb.NewReferralRepository(db),
		Stats:       inmemdb.NewStatsRepository(db),
		Sessions:    inmemdb.NewSessionStore(),
		Carts:       inmemdb.NewCartStore(conf.Redis.CartTTL),
		Idempotency: inmemdb.NewIdempotencyStore(),
	}
}

// New wires the services together. In test mode, the user service sends its emails synchronously.
func New(conf *core.Config, logger core.Logger, b Backends) *Container {
	c := &Container{
		Conf:     conf,
		Logger:   logger,
		Validate: validator.New(),
		Uni:      core.NewUniversalTranslator(),
	}
	core.InitValidators(c.Validate, c.Uni)
	user.InitValidators(c.Validate, c.Uni)

	tokens := user.NewTokenGenerator(conf.SecretKey, conf.Server.PasswordResetTimeoutDelta)
	if conf.TestMode {
		c.UserSvc = user.NewServiceMock(b.Users, b.MailSvc, tokens, logger)
	} else {
		c.UserSvc = user.NewService(b.Users, b.MailSvc, tokens, logger)
	}

	currency := conf.Commerce.Currency
	c.TenantSvc = tenant.NewService(b.Tenants, currency)
	c.SessionMgr = session.NewManager(b.Sessions, conf.Commerce.MaxSessions, logger)
	c.CourseSvc = course.NewService(b.Courses, b.Presigner, currency)
	c.EnrollmentSvc = enrollment.NewService(b.Enrollments, c.CourseSvc, c.UserSvc, b.MailSvc, b.Events, logger)
	c.ExamSvc = exam.NewService(b.Exams, c.CourseSvc, c.EnrollmentSvc, b.Events, logger, conf.Commerce.ExamSweepConcurrent)
	c.StoreSvc = store.NewService(b.Products)
	c.PromoSvc = promo.NewService(b.Promos, b.Events, logger)
	c.CartSvc = cart.NewService(b.Carts, c.CourseSvc, c.StoreSvc, c.EnrollmentSvc, c.PromoSvc, c.UserSvc, conf)
	c.ReferralSvc = referral.NewService(b.Referrals, c.UserSvc, b.Events, logger, conf.Commerce.ReferralRewardBps)
	c.OrderSvc = order.NewService(order.Deps{
		Repo:        b.Orders,
		Idempotency: b.Idempotency,
		Gateway:     b.Gateway,
		Carts:       c.CartSvc,
		Promos:      c.PromoSvc,
		Stock:       c.StoreSvc,
		Enrollments: c.EnrollmentSvc,
		Users:       c.UserSvc,
		Referrals:   c.ReferralSvc,
		MailSvc:     b.MailSvc,
		Events:      b.Events,
		Logger:      logger,
	})
	c.DashboardSvc = dashboard.NewService(b.Stats, c.EnrollmentSvc, c.CourseSvc, c.ExamSvc, c.UserSvc, c.ReferralSvc, currency)
	return c
}
