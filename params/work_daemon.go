package params

import "time"

type WorkDaemonConfig struct {
	// Workers bounds how many jobs are processed at once.
	Workers int `mapstructure:"workers"`

	// MaxAttempts is the attempt limit for transient failures.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BackoffBase is the delay before the first retry.
	// Each later retry doubles it.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Retention is how long finished job records are kept.
	Retention time.Duration `mapstructure:"retention"`
}

func DefaultWorkDaemonConfig() *WorkDaemonConfig {
	return &WorkDaemonConfig{
		Workers:      4,
		MaxAttempts:  3,
		BackoffBase:  60 * time.Second,
		JobTimeout:   5 * time.Minute,
		PollInterval: 1 * time.Second,
		Retention:    7 * 24 * time.Hour,
	}
}

func DefaultTestWorkDaemonConfig() *WorkDaemonConfig {
	d := DefaultWorkDaemonConfig()
	d.Workers = 2
	d.BackoffBase = 10 * time.Millisecond
	d.JobTimeout = 30 * time.Second
	d.PollInterval = 10 * time.Millisecond
	return d
}
