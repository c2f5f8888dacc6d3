package webhook

import "time"

// Config lists the endpoints that receive notification events.
type Config struct {
	URLs            []string      `env:"WEBHOOK_URLS" envSeparator:","`
	Secret          string        `env:"WEBHOOK_SECRET"`
	Timeout         time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	MaxRetries      int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	BreakerFailures int           `env:"WEBHOOK_BREAKER_FAILURES" envDefault:"5"`
	BreakerRecovery time.Duration `env:"WEBHOOK_BREAKER_RECOVERY" envDefault:"30s"`
}

// Enabled reports whether at least one endpoint is configured.
func (c Config) Enabled() bool {
	return len(c.URLs) > 0
}
