package runner

import "time"

// Config holds the immutable-after-Start configuration for one Runner.
type Config struct {
	// FlushInterval is how often the current buffer is promoted into the
	// bound queue.
	FlushInterval time.Duration `yaml:"flush_interval_ms" validate:"required,gt=0"`

	// PollInterval is the delay between poll-mode Init reruns. Defaults
	// to 3s when zero and Poll is true.
	PollInterval time.Duration `yaml:"poll_interval_ms"`

	// MaxBatchSize bounds the length of every batch handed to Run.
	MaxBatchSize int `yaml:"max_batch_size" validate:"required,gt=0"`

	// MaxConcurrency bounds the number of concurrently-running Run calls.
	MaxConcurrency int `yaml:"max_concurrency" validate:"required,gt=0"`

	// MaxQueueSize is the optional bound queue cap. Nil (the zero value,
	// via MaxQueueSizePtr) means unbounded.
	MaxQueueSize *int `yaml:"max_queue_size"`

	// Poll, when true, reruns Init whenever the bound queue empties with
	// nothing pending.
	Poll bool `yaml:"poll"`

	// DedupEntries enables the push-edge deduplication filter. Entry must
	// be a comparable type, or callers must use NewWithKey with an
	// explicit key function.
	DedupEntries bool `yaml:"dedup_entries"`

	// Metadata is opaque; propagated into worker logging contexts.
	Metadata map[string]string `yaml:"metadata"`

	// ShutdownGrace bounds how long Stop waits for in-flight workers
	// before abandoning them.
	ShutdownGrace time.Duration `yaml:"shutdown_grace_ms" validate:"gt=0"`
}

// DefaultPollInterval is used when Config.Poll is true and PollInterval
// was left at its zero value.
const DefaultPollInterval = 3 * time.Second

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

func (c Config) shutdownGrace() time.Duration {
	if c.ShutdownGrace > 0 {
		return c.ShutdownGrace
	}
	return 5 * time.Second
}
