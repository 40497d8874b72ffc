package sagaflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config = domain.Config

type StorageConfig = domain.StorageConfig

type PostgresConfig = domain.PostgresConfig

type EngineConfig = domain.EngineConfig

type RecoveryConfig = domain.RecoveryConfig

type RemoteConfig = domain.RemoteConfig

type BreakerConfig = domain.BreakerConfig

type TracingConfig = domain.TracingConfig

type StorageDriver = domain.StorageDriver

const (
	StorageDriverBadger   = domain.StorageDriverBadger
	StorageDriverPostgres = domain.StorageDriverPostgres
)

// EnvPrefix prefixes every environment override read by LoadConfig, so
// engine.step_timeout is read from SAGAFLOW_ENGINE_STEP_TIMEOUT.
const EnvPrefix = "SAGAFLOW"

func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

func DefaultEngineConfig() EngineConfig {
	return domain.DefaultEngineConfig()
}

type ConfigBuilder struct {
	config *Config
}

func NewConfigBuilder(dataDir string) *ConfigBuilder {
	config := DefaultConfig()
	config.DataDir = dataDir
	return &ConfigBuilder{config: config}
}

func (cb *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	cb.config.Logger = logger
	return cb
}

func (cb *ConfigBuilder) WithWorkspaceRoot(root string) *ConfigBuilder {
	cb.config.WorkspaceRoot = root
	return cb
}

// WithInMemoryStorage keeps checkpoints in an in-memory badger database.
// Nothing survives a restart.
func (cb *ConfigBuilder) WithInMemoryStorage() *ConfigBuilder {
	cb.config.Storage.Driver = domain.StorageDriverBadger
	cb.config.Storage.InMemory = true
	return cb
}

func (cb *ConfigBuilder) WithPostgres(dsn string, maxConns int32) *ConfigBuilder {
	cb.config.Storage.Driver = domain.StorageDriverPostgres
	cb.config.Storage.Postgres.DSN = dsn
	if maxConns > 0 {
		cb.config.Storage.Postgres.MaxConns = maxConns
	}
	return cb
}

func (cb *ConfigBuilder) WithRetries(maxRetries int, initial, max time.Duration) *ConfigBuilder {
	cb.config.Engine.DefaultMaxRetries = maxRetries
	cb.config.Engine.RetryInitialInterval = initial
	cb.config.Engine.RetryMaxInterval = max
	return cb
}

func (cb *ConfigBuilder) WithStepTimeout(timeout time.Duration) *ConfigBuilder {
	cb.config.Engine.StepTimeout = timeout
	return cb
}

// WithRecovery controls what Start does with workflows left RUNNING or
// PAUSED by a previous process.
func (cb *ConfigBuilder) WithRecovery(enabled, resumeRunning bool) *ConfigBuilder {
	cb.config.Recovery.Enabled = enabled
	cb.config.Recovery.ResumeRunning = resumeRunning
	return cb
}

// WithRemoteRuntime sends capabilities that are not registered locally to
// the gRPC runtime at address.
func (cb *ConfigBuilder) WithRemoteRuntime(address string, insecure bool) *ConfigBuilder {
	cb.config.Remote.Address = address
	cb.config.Remote.Insecure = insecure
	return cb
}

func (cb *ConfigBuilder) WithTracing(serviceName, endpoint string, samplingRate float64) *ConfigBuilder {
	cb.config.Tracing.Enabled = true
	cb.config.Tracing.ServiceName = serviceName
	cb.config.Tracing.Endpoint = endpoint
	cb.config.Tracing.SamplingRate = samplingRate
	return cb
}

func (cb *ConfigBuilder) Build() *Config {
	return cb.config
}

// LoadConfig reads a YAML config file on top of DefaultConfig and applies
// SAGAFLOW_* environment overrides. An empty path reads the environment
// only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("data_dir", c.DataDir)
	v.SetDefault("workspace_root", c.WorkspaceRoot)

	v.SetDefault("storage.driver", string(c.Storage.Driver))
	v.SetDefault("storage.in_memory", c.Storage.InMemory)
	v.SetDefault("storage.postgres.dsn", c.Storage.Postgres.DSN)
	v.SetDefault("storage.postgres.max_conns", c.Storage.Postgres.MaxConns)

	v.SetDefault("engine.default_max_retries", c.Engine.DefaultMaxRetries)
	v.SetDefault("engine.retry_initial_interval", c.Engine.RetryInitialInterval)
	v.SetDefault("engine.retry_max_interval", c.Engine.RetryMaxInterval)
	v.SetDefault("engine.retry_multiplier", c.Engine.RetryMultiplier)
	v.SetDefault("engine.step_timeout", c.Engine.StepTimeout)

	v.SetDefault("recovery.enabled", c.Recovery.Enabled)
	v.SetDefault("recovery.resume_running", c.Recovery.ResumeRunning)

	v.SetDefault("remote.address", c.Remote.Address)
	v.SetDefault("remote.dial_timeout", c.Remote.DialTimeout)
	v.SetDefault("remote.insecure", c.Remote.Insecure)
	v.SetDefault("remote.breaker.failure_threshold", c.Remote.Breaker.FailureThreshold)
	v.SetDefault("remote.breaker.success_threshold", c.Remote.Breaker.SuccessThreshold)
	v.SetDefault("remote.breaker.open_interval", c.Remote.Breaker.OpenInterval)
	v.SetDefault("remote.breaker.half_open_requests", c.Remote.Breaker.HalfOpenRequests)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.sampling_rate", c.Tracing.SamplingRate)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", c.Tracing.Insecure)
}

// LoadWorkflowSpec reads a workflow spec from a YAML file and validates it.
func LoadWorkflowSpec(path string) (*WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow spec: %w", err)
	}
	return ParseWorkflowSpec(data)
}

// ParseWorkflowSpec decodes a YAML workflow spec. Unknown fields are
// rejected so a typo in a step does not silently drop a dependency.
func ParseWorkflowSpec(data []byte) (*WorkflowSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec WorkflowSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.NewSpecError("steps", "workflow spec is empty")
		}
		return nil, fmt.Errorf("%w: decode workflow spec: %v", domain.ErrInvalidInput, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
