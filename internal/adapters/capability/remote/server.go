package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/sagaflow/internal/domain"
	"github.com/eleven-am/sagaflow/internal/ports"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server exposes a CapabilityExecutor over the Runtime service.
type Server struct {
	executor ports.CapabilityExecutor
	logger   *slog.Logger
}

var _ RuntimeServer = (*Server)(nil)

func NewServer(executor ports.CapabilityExecutor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		executor: executor,
		logger:   logger.With("component", "capability-server"),
	}
}

func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&runtimeServiceDesc, s)
}

// NewGRPCServer builds a grpc.Server with the logging interceptor and this
// service registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.UnaryInterceptor(UnaryLoggingInterceptor(s.logger))}, opts...)
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs
}

func (s *Server) ExecuteCapability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in wireRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !domain.ValidCapabilityID(in.CapabilityID) {
		return nil, status.Errorf(codes.InvalidArgument, "malformed capability id %q", in.CapabilityID)
	}

	result, err := s.executor.Execute(ctx, in.CapabilityID, in.Inputs, in.Info)
	if errors.Is(err, domain.ErrCapabilityNotFound) {
		return nil, status.Error(codes.NotFound, err.Error())
	}

	out := wireResponse{}
	switch {
	case err != nil:
		out.ErrorMessage = err.Error()
	case result == nil:
		out.Success = true
	default:
		out.Success = result.Success
		out.Outputs = result.Outputs
		out.ErrorMessage = result.ErrorMessage

		intent, ok, undoErr := domain.IntentFromUndo(result.Undo)
		if undoErr != nil {
			s.logger.Warn("dropping undo that cannot cross the wire",
				"capability_id", in.CapabilityID,
				"workflow_id", in.Info.WorkflowID,
				"error", undoErr,
			)
		} else if ok {
			out.Undo = &intent
		}
	}

	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func UnaryLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := codes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				code = st.Code()
			} else {
				code = codes.Unknown
			}
			logger.Error("request failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", code.String(),
				"error", err,
			)
			return resp, err
		}

		logger.Debug("request completed",
			"method", info.FullMethod,
			"duration_ms", duration.Milliseconds(),
			"code", code.String(),
		)
		return resp, nil
	}
}
