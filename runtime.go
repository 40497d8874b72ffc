package sagaflow

import (
	"log/slog"
	"net"
	"sync"

	"github.com/eleven-am/sagaflow/internal/adapters/capability"
	"github.com/eleven-am/sagaflow/internal/adapters/capability/filesystem"
	"github.com/eleven-am/sagaflow/internal/adapters/capability/remote"
	"google.golang.org/grpc"
)

// Built-in filesystem capabilities, confined to the owner's workspace root
// or Config.WorkspaceRoot.
const (
	CapabilityWriteFile   = filesystem.WriteFile
	CapabilityCreateDir   = filesystem.CreateDir
	CapabilityDeletePath  = filesystem.DeletePath
	CapabilityRestoreFile = filesystem.RestoreFile
)

// CapabilityRuntime hosts capabilities in a separate process. Managers
// reach it through Config.Remote.Address.
type CapabilityRuntime struct {
	registry *capability.Registry
	server   *remote.Server

	mu sync.Mutex
	gs *grpc.Server
}

func NewCapabilityRuntime(logger *slog.Logger) *CapabilityRuntime {
	registry := capability.NewRegistry(logger)
	return &CapabilityRuntime{
		registry: registry,
		server:   remote.NewServer(registry, logger),
	}
}

func (r *CapabilityRuntime) RegisterCapability(capabilityID string, fn CapabilityFunc) error {
	return r.registry.Register(capabilityID, fn)
}

// Serve blocks until the listener fails or Stop is called.
func (r *CapabilityRuntime) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	r.mu.Lock()
	if r.gs == nil {
		r.gs = r.server.NewGRPCServer(opts...)
	}
	gs := r.gs
	r.mu.Unlock()
	return gs.Serve(lis)
}

func (r *CapabilityRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gs != nil {
		r.gs.GracefulStop()
	}
}
