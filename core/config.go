package core

import (
	"fmt"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type (
	Config struct {
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		WorkDir          string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		Storage          string
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Commerce CommerceConfig
		Stripe   StripeConfig
		AWS      AWSConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		RateLimit                 float64 // requests per second per IP on sensitive endpoints
		RateBurst                 int
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
		CartTTL  time.Duration
	}

	CommerceConfig struct {
		Currency            string
		TaxRateBps          int64
		ReferralRewardBps   int64
		MaxSessions         int
		ExamSweepInterval   time.Duration
		ExamSweepConcurrent int
	}

	StripeConfig struct {
		SecretKey     string
		WebhookSecret string
	}

	AWSConfig struct {
		Region      string
		Endpoint    string
		Bucket      string
		SNSTopicARN string
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

// NewConfig loads the app configuration from the environment.
// `config/.env.<env>` is loaded first if it exists.
func NewConfig() (*Config, error) {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}

	setDefaults(v, env)
	v.AutomaticEnv()

	conf := &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("test_mode"),
		AppName:         v.GetString("app_name"),
		SecretKey:       v.GetString("secret_key"),
		WorkDir:         wd,
		FrontendBaseURL: strings.TrimSuffix(v.GetString("frontend_base_url"), "/"),
		Storage:         v.GetString("storage"),
		SendgridApiKey:  v.GetString("sendgrid_api_key"),
		RollbarToken:    v.GetString("rollbar_token"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debug_host"),
			ShutdownTimeout:           v.GetDuration("server.shutdown_timeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwt_expiration_delta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwt_refresh_expiration_delta"),
			PasswordResetTimeoutDelta: v.GetDuration("server.password_reset_timeout_delta"),
			RateLimit:                 v.GetFloat64("server.rate_limit"),
			RateBurst:                 v.GetInt("server.rate_burst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CartTTL:  v.GetDuration("redis.cart_ttl"),
		},
		Commerce: CommerceConfig{
			Currency:            strings.ToUpper(v.GetString("commerce.currency")),
			TaxRateBps:          v.GetInt64("commerce.tax_rate_bps"),
			ReferralRewardBps:   v.GetInt64("commerce.referral_reward_bps"),
			MaxSessions:         v.GetInt("commerce.max_sessions"),
			ExamSweepInterval:   v.GetDuration("commerce.exam_sweep_interval"),
			ExamSweepConcurrent: v.GetInt("commerce.exam_sweep_concurrent"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
		},
		AWS: AWSConfig{
			Region:      v.GetString("aws.region"),
			Endpoint:    v.GetString("aws.endpoint"),
			Bucket:      v.GetString("aws.bucket"),
			SNSTopicARN: v.GetString("aws.sns_topic_arn"),
		},
	}

	from, err := mail.ParseAddress(v.GetString("default_from_email"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing default_from_email")
	}
	conf.DefaultFromEmail = *from

	if !conf.Debug && !conf.TestMode && conf.SecretKey == insecureSecretKey {
		return nil, fmt.Errorf("%s_SECRET_KEY must be set outside of debug mode", env)
	}
	return conf, nil
}

const insecureSecretKey = "insecure-5h@x!q9k#w2v8r$b7m^n1p3z&d6f0g4j"

func setDefaults(v *viper.Viper, env string) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("test_mode", env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("app_name", "Academia")
	v.SetDefault("secret_key", insecureSecretKey)
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("default_from_email", "Academia <noreply@localhost>")
	v.SetDefault("storage", StoragePostgres)
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("rollbar_token", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.jwt_expiration_delta", 7*24*time.Hour)
	v.SetDefault("server.jwt_refresh_expiration_delta", 4*time.Hour)
	v.SetDefault("server.password_reset_timeout_delta", 3*24*time.Hour)
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "academia")
	v.SetDefault("database.user", "academia")
	v.SetDefault("database.password", "academia")
	v.SetDefault("database.admin_user", "")
	v.SetDefault("database.admin_password", "")
	v.SetDefault("database.disable_tls", true)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cart_ttl", 7*24*time.Hour)

	v.SetDefault("commerce.currency", "USD")
	v.SetDefault("commerce.tax_rate_bps", 0)
	v.SetDefault("commerce.referral_reward_bps", 1000)
	v.SetDefault("commerce.max_sessions", 2)
	v.SetDefault("commerce.exam_sweep_interval", 30*time.Second)
	v.SetDefault("commerce.exam_sweep_concurrent", 8)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.bucket", "")
	v.SetDefault("aws.sns_topic_arn", "")
}

// NewTestConfig returns a Config suitable for tests; nothing is read from the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		Debug:            false,
		TestMode:         true,
		AppName:          "Academia",
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		DefaultFromEmail: mail.Address{Name: "Academia", Address: "noreply@localhost"},
		Storage:          StorageMemory,
		Server: ServerConfig{
			Host:                      "localhost",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			RateLimit:                 1000,
			RateBurst:                 1000,
		},
		Redis: RedisConfig{CartTTL: time.Hour},
		Commerce: CommerceConfig{
			Currency:            "USD",
			TaxRateBps:          0,
			ReferralRewardBps:   1000,
			MaxSessions:         2,
			ExamSweepInterval:   time.Minute,
			ExamSweepConcurrent: 4,
		},
	}
}
