package scheduler

import "time"

// Config holds the cron specs of the notification jobs.
type Config struct {
	Enabled       bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	DueSpec       string        `env:"SCHEDULER_DUE_SPEC" envDefault:"@every 2m"`
	CleanupSpec   string        `env:"SCHEDULER_CLEANUP_SPEC" envDefault:"0 3 * * *"`
	DigestSpec    string        `env:"SCHEDULER_DIGEST_SPEC" envDefault:"0 8 * * *"`
	RetentionDays int           `env:"RETENTION_DAYS" envDefault:"90"`
	JobTimeout    time.Duration `env:"SCHEDULER_JOB_TIMEOUT" envDefault:"5m"`
	Timezone      string        `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`
}
