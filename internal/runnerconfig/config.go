// Package runnerconfig loads and validates the YAML configuration for an
// indexer-runner deployment, following the same Load/Validate/env-override
// shape the teacher uses for its own config.Config, but swapping the
// teacher's hand-rolled Validate for struct tags enforced by
// go-playground/validator.
package runnerconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/race-go/runner/internal/runner"
	"github.com/race-go/runner/internal/runnerlog"
)

// Config is the on-disk shape: durations are plain milliseconds, the same
// way the teacher's PollerConfig/SchedulerConfig express every interval as
// an "_ms" int rather than a yaml duration string.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Runner   RunnerConfig   `yaml:"runner"`
	OpsAPI   OpsAPIConfig   `yaml:"ops_api"`
	Logging  runnerlog.Config `yaml:"logging"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxConns        int `yaml:"max_conns" validate:"gte=0"`
	MinConns        int `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifeMins int `yaml:"max_conn_lifetime_minutes" validate:"gte=0"`
}

type RunnerConfig struct {
	FlushIntervalMS  int             `yaml:"flush_interval_ms" validate:"required,gt=0"`
	PollIntervalMS   int             `yaml:"poll_interval_ms" validate:"gte=0"`
	MaxBatchSize     int             `yaml:"max_batch_size" validate:"required,gt=0"`
	MaxConcurrency   int             `yaml:"max_concurrency" validate:"required,gt=0"`
	MaxQueueSize     int             `yaml:"max_queue_size" validate:"gte=0"`
	Poll             bool            `yaml:"poll"`
	DedupEntries     bool            `yaml:"dedup_entries"`
	ShutdownGraceMS  int             `yaml:"shutdown_grace_ms" validate:"gte=0"`
}

type OpsAPIConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port" validate:"gt=0"`
	JWTSecret     string `yaml:"jwt_secret" validate:"required,min=32"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms" validate:"gte=0"`
}

// Load reads configPath, applies RUNNER_-prefixed environment overrides,
// and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RUNNER_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("RUNNER_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("RUNNER_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("RUNNER_OPSAPI_JWT_SECRET"); v != "" {
		cfg.OpsAPI.JWTSecret = v
	}
}

// RunnerConfig converts the on-disk durations (milliseconds) into the
// runner package's Config, which deals in time.Duration directly.
func (c *Config) ToRunnerConfig(metadata map[string]string) runner.Config {
	var maxQueueSize *int
	if c.Runner.MaxQueueSize > 0 {
		v := c.Runner.MaxQueueSize
		maxQueueSize = &v
	}
	return runner.Config{
		FlushInterval:  time.Duration(c.Runner.FlushIntervalMS) * time.Millisecond,
		PollInterval:   time.Duration(c.Runner.PollIntervalMS) * time.Millisecond,
		MaxBatchSize:   c.Runner.MaxBatchSize,
		MaxConcurrency: c.Runner.MaxConcurrency,
		MaxQueueSize:   maxQueueSize,
		Poll:           c.Runner.Poll,
		DedupEntries:   c.Runner.DedupEntries,
		Metadata:       metadata,
		ShutdownGrace:  time.Duration(c.Runner.ShutdownGraceMS) * time.Millisecond,
	}
}

// ConnString returns the PostgreSQL connection string in postgres:// URL
// form, the same way the teacher's DatabaseConfig.GetConnString does.
func (d *DatabaseConfig) ConnString() string {
	mode := d.SSLMode
	if mode == "" {
		mode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, mode)
}
