package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client executes capabilities on a remote Runtime service.
type Client struct {
	conn     *grpc.ClientConn
	ownsConn bool
	timeout  time.Duration
	logger   *slog.Logger
}

var _ ports.CapabilityExecutor = (*Client)(nil)

// Dial opens a connection described by cfg. DialTimeout doubles as the
// per-call deadline when the caller's context has none.
func Dial(cfg domain.RemoteConfig, logger *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Address == "" {
		return nil, domain.NewConfigError("remote.address", domain.ErrInvalidConfig)
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial capability runtime %s: %w", cfg.Address, err)
	}

	client := NewClient(conn, cfg.DialTimeout, logger)
	client.ownsConn = true
	return client, nil
}

func NewClient(conn *grpc.ClientConn, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With("component", "capability-client"),
	}
}

func (c *Client) Execute(ctx context.Context, capabilityID string, inputs map[string]interface{}, info domain.ExecutionInfo) (*domain.ExecutionResult, error) {
	req, err := toStruct(wireRequest{CapabilityID: capabilityID, Inputs: inputs, Info: info})
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ExecuteMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s (remote)", domain.ErrCapabilityNotFound, capabilityID)
		}
		c.logger.Warn("remote capability call failed",
			"capability_id", capabilityID,
			"workflow_id", info.WorkflowID,
			"step", info.StepName,
			"error", err,
		)
		return nil, fmt.Errorf("remote capability %s: %w", capabilityID, err)
	}

	var out wireResponse
	if err := fromStruct(resp, &out); err != nil {
		return nil, err
	}

	result := &domain.ExecutionResult{
		Success:      out.Success,
		Outputs:      out.Outputs,
		ErrorMessage: out.ErrorMessage,
	}
	if out.Undo != nil {
		result.Undo = *out.Undo
	}
	return result, nil
}

func (c *Client) Close() error {
	if c.ownsConn {
		return c.conn.Close()
	}
	return nil
}
