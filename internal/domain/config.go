package domain

import (
	"fmt"
	"log/slog"
	"time"
)

type StorageDriver string

const (
	StorageDriverBadger   StorageDriver = "badger"
	StorageDriverPostgres StorageDriver = "postgres"
)

type Config struct {
	DataDir string       `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Logger  *slog.Logger `json:"-" yaml:"-" mapstructure:"-"`

	// WorkspaceRoot confines the built-in filesystem capabilities when a
	// workflow owner does not name a workspace of their own.
	WorkspaceRoot string `json:"workspace_root,omitempty" yaml:"workspace_root,omitempty" mapstructure:"workspace_root"`

	Storage  StorageConfig  `json:"storage" yaml:"storage" mapstructure:"storage"`
	Engine   EngineConfig   `json:"engine" yaml:"engine" mapstructure:"engine"`
	Recovery RecoveryConfig `json:"recovery" yaml:"recovery" mapstructure:"recovery"`
	Remote   RemoteConfig   `json:"remote" yaml:"remote" mapstructure:"remote"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

type StorageConfig struct {
	Driver   StorageDriver  `json:"driver" yaml:"driver" mapstructure:"driver"`
	InMemory bool           `json:"in_memory" yaml:"in_memory" mapstructure:"in_memory"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" mapstructure:"max_conns"`
}

type EngineConfig struct {
	DefaultMaxRetries    int           `json:"default_max_retries" yaml:"default_max_retries" mapstructure:"default_max_retries"`
	RetryInitialInterval time.Duration `json:"retry_initial_interval" yaml:"retry_initial_interval" mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `json:"retry_max_interval" yaml:"retry_max_interval" mapstructure:"retry_max_interval"`
	RetryMultiplier      float64       `json:"retry_multiplier" yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	StepTimeout          time.Duration `json:"step_timeout" yaml:"step_timeout" mapstructure:"step_timeout"`
}

type RecoveryConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ResumeRunning bool `json:"resume_running" yaml:"resume_running" mapstructure:"resume_running"`
}

type RemoteConfig struct {
	Address     string        `json:"address,omitempty" yaml:"address,omitempty" mapstructure:"address"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	Insecure    bool          `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
	Breaker     BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig guards calls to the remote runtime. A zero FailureThreshold
// disables the breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`
	OpenInterval     time.Duration `json:"open_interval" yaml:"open_interval" mapstructure:"open_interval"`
	HalfOpenRequests int           `json:"half_open_requests" yaml:"half_open_requests" mapstructure:"half_open_requests"`
}

type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure     bool    `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
}

type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}
