package domain

import (
	"fmt"
	"time"
)

const DefaultMaxRetries = 3

func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data",
		Storage:  DefaultStorageConfig(),
		Engine:   DefaultEngineConfig(),
		Recovery: DefaultRecoveryConfig(),
		Remote:   DefaultRemoteConfig(),
		Tracing:  DefaultTracingConfig(),
	}
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver: StorageDriverBadger,
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
	}
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMaxRetries:    DefaultMaxRetries,
		RetryInitialInterval: 200 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		RetryMultiplier:      2.0,
	}
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled: true,
	}
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		DialTimeout: 5 * time.Second,
		Insecure:    true,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenInterval:     30 * time.Second,
			HalfOpenRequests: 1,
		},
	}
}

func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:  "sagaflow",
		SamplingRate: 1.0,
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverBadger:
		if c.DataDir == "" && !c.Storage.InMemory {
			return NewConfigError("data_dir", fmt.Errorf("%w: required for on-disk badger storage", ErrInvalidConfig))
		}
	case StorageDriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return NewConfigError("storage.postgres.dsn", ErrInvalidConfig)
		}
		if c.Storage.Postgres.MaxConns < 0 {
			return NewConfigError("storage.postgres.max_conns", ErrInvalidConfig)
		}
	default:
		return NewConfigError("storage.driver", fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.Storage.Driver))
	}

	if c.Engine.DefaultMaxRetries < 0 {
		return NewConfigError("engine.default_max_retries", ErrInvalidConfig)
	}
	if c.Engine.RetryInitialInterval < 0 || c.Engine.RetryMaxInterval < 0 {
		return NewConfigError("engine.retry_interval", ErrInvalidConfig)
	}
	if c.Engine.RetryMultiplier != 0 && c.Engine.RetryMultiplier < 1 {
		return NewConfigError("engine.retry_multiplier", fmt.Errorf("%w: must be >= 1", ErrInvalidConfig))
	}
	if c.Engine.StepTimeout < 0 {
		return NewConfigError("engine.step_timeout", ErrInvalidConfig)
	}
	if c.Remote.DialTimeout < 0 {
		return NewConfigError("remote.dial_timeout", ErrInvalidConfig)
	}
	if b := c.Remote.Breaker; b.FailureThreshold < 0 || b.SuccessThreshold < 0 || b.HalfOpenRequests < 0 || b.OpenInterval < 0 {
		return NewConfigError("remote.breaker", ErrInvalidConfig)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return NewConfigError("tracing.sampling_rate", fmt.Errorf("%w: must be within [0, 1]", ErrInvalidConfig))
	}
	return nil
}

// EffectiveMaxRetries applies the default to a step's declared max retries.
func (e EngineConfig) EffectiveMaxRetries(declared int) int {
	if declared > 0 {
		return declared
	}
	if e.DefaultMaxRetries > 0 {
		return e.DefaultMaxRetries
	}
	return DefaultMaxRetries
}
