package sagaflow

import (
	"context"

	"github.com/eleven-am/sagaflow/internal/core"
)

// New builds a Manager from config, opening its checkpoint store. A nil
// config uses DefaultConfig. Call Start to run recovery before submitting
// work, and Stop to release the store.
func New(ctx context.Context, config *Config, opts ...Option) (*Manager, error) {
	return core.NewWithConfig(ctx, config, opts...)
}

// WithPolicy installs the policy checker consulted before every capability
// invocation. Without one every capability is allowed.
func WithPolicy(policy PolicyChecker) Option {
	return core.WithPolicy(policy)
}

// WithGovernanceHook adds a hook to the governance chain. Hooks are
// consulted in order and the first one that does not allow decides.
func WithGovernanceHook(hook GovernanceHook) Option {
	return core.WithGovernanceHook(hook)
}

// WithStore replaces the store named by the config, for example with one
// sharing an existing connection pool.
func WithStore(store CheckpointStore) Option {
	return core.WithStore(store)
}
