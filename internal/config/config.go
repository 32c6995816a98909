package config

import "time"

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS,optional"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS,optional"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME,optional"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME,optional"`
}

// RateLimitConfig gates checkout creation. An empty RedisAddr selects the
// in-memory window store, which is only correct for single-instance
// deployments.
type RateLimitConfig struct {
	Max       int64         `env:"RATE_LIMIT_MAX"`
	Window    time.Duration `env:"RATE_LIMIT_WINDOW"`
	RedisAddr string        `env:"RATE_LIMIT_REDIS_ADDR,optional"`
}

type StripeConfig struct {
	SecretKey string        `env:"STRIPE_SECRET_KEY"`
	APIURL    string        `env:"STRIPE_API_URL,optional"`
	Timeout   time.Duration `env:"STRIPE_TIMEOUT,optional"`
}

// NotifyConfig selects the alerting sink; an empty NATSURL falls back to the
// structured log.
type NotifyConfig struct {
	NATSURL string `env:"NOTIFY_NATS_URL,optional"`
	Subject string `env:"NOTIFY_NATS_SUBJECT,optional"`
}

type SweepConfig struct {
	Staleness      time.Duration `env:"SWEEP_STALENESS"`
	BatchLimit     int           `env:"SWEEP_BATCH_LIMIT,optional"`
	QueryTimeout   time.Duration `env:"SWEEP_QUERY_TIMEOUT,optional"`
	EscalateFactor int           `env:"SWEEP_ESCALATE_FACTOR,optional"`
}
