package engine

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/guildops-agent/internal/agent"
	"github.com/xela07ax/guildops-agent/internal/domain"
)

// Методы gRPC-сервиса движка. Сообщения — google.protobuf.Struct с теми же полями, что и JSON HTTP API.
const (
	engineService       = "guildops.engine.v1.Engine"
	MethodEngineRunTurn = "/" + engineService + "/RunTurn"
	MethodEngineConfirm = "/" + engineService + "/Confirm"
	MethodEngineReject  = "/" + engineService + "/Reject"
)

// MethodScopes скоуп токена, который нужен каждому методу.
var MethodScopes = map[string]string{
	MethodEngineRunTurn: domain.ScopeTurns,
	MethodEngineConfirm: domain.ScopeConfirmations,
	MethodEngineReject:  domain.ScopeConfirmations,
}

// EngineServer то, что обслуживает gRPC-сервис движка.
type EngineServer interface {
	RunTurn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Confirm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// GRPCServer обслуживает gRPC-вход поверх того же Gateway, что и HTTP.
type GRPCServer struct {
	gateway *Gateway
}

func NewGRPCServer(gw *Gateway) *GRPCServer {
	return &GRPCServer{gateway: gw}
}

// Register подключает сервис к grpc.Server.
func (s *GRPCServer) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&engineServiceDesc, s)
}

func (s *GRPCServer) RunTurn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req agent.TurnRequest
	if err := decodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.gateway.RunTurn(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(res)
}

func (s *GRPCServer) Confirm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolve(ctx, DecisionConfirm, in)
}

func (s *GRPCServer) Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolve(ctx, DecisionReject, in)
}

func (s *GRPCServer) resolve(ctx context.Context, decision Decision, in *structpb.Struct) (*structpb.Struct, error) {
	var body struct {
		ID string `json:"id"`
		ResolveInput
	}
	if err := decodeStruct(in, &body); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	body.ResolveInput.RecordID = body.ID
	out, err := s.gateway.Resolve(ctx, decision, body.ResolveInput)
	if err != nil {
		return nil, grpcError(err)
	}
	return encodeStruct(out)
}

func grpcError(err error) error {
	if errors.Is(err, ErrBadRequest) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func decodeStruct(in *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func unaryHandler(call func(EngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(EngineServer), ctx, req.(*structpb.Struct))
		})
	}
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: engineService,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunTurn", Handler: unaryHandler(EngineServer.RunTurn, MethodEngineRunTurn)},
		{MethodName: "Confirm", Handler: unaryHandler(EngineServer.Confirm, MethodEngineConfirm)},
		{MethodName: "Reject", Handler: unaryHandler(EngineServer.Reject, MethodEngineReject)},
	},
	Metadata: "guildops/engine/v1/engine.proto",
}
