package remote

import (
	"context"
	"fmt"

	"github.com/eleven-am/sagaflow/internal/domain"
	json "github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "sagaflow.capability.v1.Runtime"
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// RuntimeServer is implemented by anything serving the Runtime service.
type RuntimeServer interface {
	ExecuteCapability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var runtimeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sagaflow/capability/v1/runtime.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RuntimeServer).ExecuteCapability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RuntimeServer).ExecuteCapability(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type wireRequest struct {
	CapabilityID string                 `json:"capability_id"`
	Inputs       map[string]interface{} `json:"inputs,omitempty"`
	Info         domain.ExecutionInfo   `json:"info"`
}

type wireResponse struct {
	Success      bool                       `json:"success"`
	Outputs      map[string]interface{}     `json:"outputs,omitempty"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	Undo         *domain.CompensationIntent `json:"undo,omitempty"`
}

// toStruct goes through JSON so every value has a shape structpb accepts.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out interface{}) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
