package main

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/archive"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/scheduler"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

// Config is the full service configuration, read from the environment and
// an optional .env file.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"notifyd"`
	LogLevel    string `env:"LOG_LEVEL"`

	HTTP      httpserver.Config
	Postgres  pg.Config
	Redis     redis.Config
	Email     email.Config
	Webhook   webhook.Config
	Archive   archive.Config
	Scheduler scheduler.Config

	BatchSize     int           `env:"NOTIFY_BATCH_SIZE" envDefault:"100"`
	BatchPause    time.Duration `env:"NOTIFY_BATCH_PAUSE" envDefault:"1s"`
	DeferDelay    time.Duration `env:"NOTIFY_DEFER_DELAY" envDefault:"1h"`
	TemplatesPath string        `env:"TEMPLATES_PATH"`

	QueueName          string        `env:"QUEUE_NAME" envDefault:"notifications"`
	QueueConcurrency   int           `env:"QUEUE_MAX_CONCURRENT" envDefault:"4"`
	QueuePullInterval  time.Duration `env:"QUEUE_PULL_INTERVAL" envDefault:"2s"`
	QueueRetentionDays int           `env:"QUEUE_RETENTION_DAYS" envDefault:"7"`

	AllowedOrigins   []string `env:"REALTIME_ALLOWED_ORIGINS" envSeparator:","`
	MetricsNamespace string   `env:"METRICS_NAMESPACE" envDefault:"notifykit"`
}
