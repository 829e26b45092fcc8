package di

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/services/awsconf"
	blobsvc "github.com/trezcool/academia/services/blob"
	emailsvc "github.com/trezcool/academia/services/email"
	eventsvc "github.com/trezcool/academia/services/events"
	dummypay "github.com/trezcool/academia/services/payment/dummy"
	stripepay "github.com/trezcool/academia/services/payment/stripe"
	rediscache "github.com/trezcool/academia/storage/cache/redis"
	"github.com/trezcool/academia/storage/database"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

// PostgresBackends returns repositories backed by `db`, with in-memory session, cart and idempotency stores.
func PostgresBackends(db *sqlx.DB, conf *core.Config) Backends {
	return Backends{
		Tenants:     sqlxrepos.NewTenantRepository(db),
		Users:       sqlxrepos.NewUserRepository(db),
		Courses:     sqlxrepos.NewCourseRepository(db),
		Enrollments: sqlxrepos.NewEnrollmentRepository(db),
		Exams:       sqlxrepos.NewExamRepository(db),
		Products:    sqlxrepos.NewProductRepository(db),
		Promos:      sqlxrepos.NewPromoRepository(db),
		Orders:      sqlxrepos.NewOrderRepository(db),
		Referrals:   sqlxrepos.NewReferralRepository(db),
		Stats:       sqlxrepos.NewStatsRepository(db),
		Sessions:    inmemdb.NewSessionStore(),
		Carts:       inmemdb.NewCartStore(conf.Redis.CartTTL),
		Idempotency: inmemdb.NewIdempotencyStore(),
	}
}

// UseRedis moves the session, cart and idempotency stores to Redis.
func (b *Backends) UseRedis(client *redis.Client, conf *core.Config) {
	b.Sessions = rediscache.NewSessionStore(client, conf.Server.JWTRefreshExpirationDelta)
	b.Carts = rediscache.NewCartStore(client, conf.Redis.CartTTL)
	b.Idempotency = rediscache.NewIdempotencyStore(client)
}

// Resources holds the connections opened by SetUp.
type Resources struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

// Close releases the connections; it is safe to call on partially opened resources.
func (r Resources) Close() error {
	var err error
	if r.Redis != nil {
		err = r.Redis.Close()
	}
	if r.DB != nil {
		if dbErr := r.DB.Close(); dbErr != nil {
			err = dbErr
		}
	}
	return err
}

// OpenDB creates the database if needed and opens it. With `migrate`, the pending migrations are applied.
func OpenDB(ctx context.Context, conf *core.Config, migrate bool) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if migrate {
		err = database.Migrate(ctx, db.DB, database.MigrateUp)
	} else {
		err = database.Ping(ctx, db)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SetUp selects the backends from the config:
//   - storage: postgres (default) or memory
//   - sessions, carts and idempotency keys: redis when an address is set
//   - payments: stripe when a secret key is set, else the dummy gateway
//   - events: sns when a topic is set, else the logger
//   - materials: s3 presigned uploads when a bucket is set
//   - emails: console in debug mode, else sendgrid
//
// With `migrate`, the pending database migrations are applied.
func SetUp(ctx context.Context, conf *core.Config, logger, dbLogger core.Logger, migrate bool) (Backends, Resources, error) {
	var (
		b   Backends
		res Resources
	)

	switch conf.Storage {
	case core.StorageMemory:
		dbLogger.Warn("using the in-memory storage: data is lost on exit")
		b = MemoryBackends(inmemdb.Open(), conf)
	case core.StoragePostgres, "":
		db, err := OpenDB(ctx, conf, migrate)
		if err != nil {
			return b, res, errors.Wrap(err, "setting up database")
		}
		res.DB = db
		b = PostgresBackends(db, conf)
	default:
		return b, res, errors.Errorf("unknown storage %q", conf.Storage)
	}

	if conf.Redis.Address != "" {
		client, err := rediscache.Open(ctx, conf.Redis)
		if err != nil {
			_ = res.Close()
			return b, res, err
		}
		res.Redis = client
		b.UseRedis(client, conf)
	}

	if conf.Stripe.SecretKey != "" {
		b.Gateway = stripepay.NewGateway(conf.Stripe.SecretKey, conf.Stripe.WebhookSecret)
	} else {
		logger.Warn("no stripe secret key: using the dummy payment gateway")
		b.Gateway = dummypay.NewGateway()
	}

	if conf.AWS.SNSTopicARN != "" || conf.AWS.Bucket != "" {
		awsCfg, err := awsconf.Load(ctx, conf.AWS)
		if err != nil {
			_ = res.Close()
			return b, res, err
		}
		if conf.AWS.SNSTopicARN != "" {
			b.Events = eventsvc.NewSNSPublisher(awsCfg, conf.AWS.SNSTopicARN)
		}
		if conf.AWS.Bucket != "" {
			b.Presigner = blobsvc.NewS3Presigner(awsCfg, conf.AWS.Bucket)
		}
	}
	if b.Events == nil {
		b.Events = eventsvc.NewLogPublisher(logger)
	}

	if conf.Debug {
		b.MailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		b.MailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	return b, res, nil
}
