package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissing is returned when a required variable is not set.
var ErrMissing = errors.New("missing required configuration")

// Tables names the DynamoDB tables.
type Tables struct {
	Cart        string
	Products    string
	Orders      string
	OrderLines  string
	Idempotency string
	Payments    string
	Users       string
}

// Config is the runtime configuration of the api and worker binaries.
type Config struct {
	AWSRegion        string
	EndpointOverride string
	Tables           Tables
	QueueURL         string

	RedisAddr       string
	ReviewTTL       time.Duration
	CatalogCacheTTL time.Duration
	IdempotencyTTL  time.Duration

	MetricsNamespace string

	FirebaseProjectID       string
	FirebaseCredentialsFile string

	LogLevel string
	RunLocal bool
	HTTPAddr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

// LoadWorker reads only what the order worker needs: the order, line,
// idempotency and payment tables. Redis and the queue URL are not required.
func LoadWorker() (Config, error) {
	_ = godotenv.Load()
	return workerFromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (Config, error) {
	e := &reader{getenv: getenv}
	cfg := e.common()
	cfg.Tables = Tables{
		Cart:        e.req("CART_TABLE"),
		Products:    e.req("PRODUCTS_TABLE"),
		Orders:      e.req("ORDERS_TABLE"),
		OrderLines:  e.req("ORDER_LINES_TABLE"),
		Idempotency: e.req("IDEMPOTENCY_TABLE"),
		Payments:    e.req("PAYMENTS_TABLE"),
		Users:       e.req("USERS_TABLE"),
	}
	cfg.QueueURL = e.req("ORDERS_QUEUE_URL")
	cfg.RedisAddr = e.req("REDIS_ADDR")
	cfg.ReviewTTL = e.dur("REVIEW_TTL", 15*time.Minute)
	cfg.CatalogCacheTTL = e.dur("CATALOG_CACHE_TTL", 10*time.Minute)
	cfg.FirebaseProjectID = getenv("FIREBASE_PROJECT_ID")
	cfg.FirebaseCredentialsFile = getenv("FIREBASE_CREDENTIALS_FILE")
	cfg.HTTPAddr = e.def("HTTP_ADDR", ":8080")
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

func workerFromEnv(getenv func(string) string) (Config, error) {
	e := &reader{getenv: getenv}
	cfg := e.common()
	cfg.Tables = Tables{
		Orders:      e.req("ORDERS_TABLE"),
		OrderLines:  e.req("ORDER_LINES_TABLE"),
		Idempotency: e.req("IDEMPOTENCY_TABLE"),
		Payments:    e.req("PAYMENTS_TABLE"),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

// reader keeps the first error seen while reading variables.
type reader struct {
	getenv func(string) string
	err    error
}

// common reads the keys shared by both binaries.
func (e *reader) common() Config {
	return Config{
		AWSRegion:        e.def("AWS_REGION", "us-east-1"),
		EndpointOverride: e.getenv("AWS_ENDPOINT_OVERRIDE"),
		IdempotencyTTL:   e.dur("IDEMPOTENCY_TTL", 48*time.Hour),
		MetricsNamespace: e.def("METRICS_NAMESPACE", "Storefront"),
		LogLevel:         e.def("LOG_LEVEL", "info"),
		RunLocal:         e.getenv("RUN_LOCAL") == "true",
	}
}

func (e *reader) req(key string) string {
	v := e.getenv(key)
	if v == "" && e.err == nil {
		e.err = fmt.Errorf("%w: %s", ErrMissing, key)
	}
	return v
}

func (e *reader) def(key, fallback string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return fallback
}

func (e *reader) dur(key string, fallback time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("invalid duration %s=%q: %w", key, v, err)
	}
	return d
}
