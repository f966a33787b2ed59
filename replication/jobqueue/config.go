package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// Config holds all tunables of the job queue.
type Config struct {
	// MaxWorkers is the number of jobs worked concurrently
	// (default: 10).
	MaxWorkers int

	// MaxAttempts bounds the attempts of each job before River discards
	// it (default: 10). The last failed attempt records the request as
	// failed.
	MaxAttempts int

	// JobTimeout bounds a single attempt (default: 30 minutes; initial
	// mirror clones of large repositories are slow).
	JobTimeout time.Duration

	// HeartbeatTimeout is the longest a step may stay silent before its
	// context is cancelled (default: 5 minutes).
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       10,
		MaxAttempts:      10,
		JobTimeout:       30 * time.Minute,
		HeartbeatTimeout: 5 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}

	if c.JobTimeout <= 0 {
		c.JobTimeout = def.JobTimeout
	}

	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}

	return c
}

// RiverQueueConfig converts the config to River's queue configuration.
func (c Config) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
