package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Сервис описан вручную поверх well-known типов: Invoke принимает
// {"tool": "...", "arguments": {...}} и отдает Result как Struct.
const (
	ToolServiceName   = "logistics.tools.v1.ToolService"
	invokeMethod      = "/" + ToolServiceName + "/Invoke"
	listMethod        = "/" + ToolServiceName + "/List"
	AgentIDMetadata   = "x-agent-id"
	TraceIDMetadata   = "x-trace-id"
	clientCallTimeout = 15 * time.Second
)

type ToolServiceServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
	List(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var ToolServiceDesc = grpc.ServiceDesc{
	ServiceName: ToolServiceName,
	HandlerType: (*ToolServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "List", Handler: listHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "logistics/tools/v1/tools.proto",
}

func RegisterToolServiceServer(s grpc.ServiceRegistrar, srv ToolServiceServer) {
	s.RegisterService(&ToolServiceDesc, srv)
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: invokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).List(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer отдает реестр инструментов по gRPC. Пайплайн тот же, что и для HTTP.
type GRPCServer struct {
	reg *Registry
}

func NewGRPCServer(reg *Registry) *GRPCServer {
	return &GRPCServer{reg: reg}
}

func (s *GRPCServer) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. Имя инструмента и аргументы
	name := req.GetFields()["tool"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "tool is required")
	}
	args := req.GetFields()["arguments"].GetStructValue().AsMap()

	// 2. Единый пайплайн реестра
	res := s.reg.Invoke(WithChannel(ctx, audit.ChannelGRPC), name, args)

	// 3. Result обратно в Struct
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return out, nil
}

func (s *GRPCServer) List(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(map[string]any{"tools": s.reg.List()})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode tools: %v", err)
	}
	return out, nil
}

// toStruct проходит через JSON, чтобы теги полей совпадали с HTTP-ответами.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// UnaryLoggingInterceptor переносит x-agent-id и x-trace-id из метаданных в контекст
// и пишет итог вызова в лог.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		// 1. Метаданные (в gRPC ключи в нижнем регистре)
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(AgentIDMetadata); len(ids) > 0 {
				ctx = WithActor(ctx, ids[0])
			}
			if ids := md.Get(TraceIDMetadata); len(ids) > 0 {
				ctx = engine.WithTraceID(ctx, ids[0])
			}
		}

		// 2. Вызов
		resp, err := handler(ctx, req)

		logger.Info("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("actor", ActorFromContext(ctx)),
			zap.String("trace_id", engine.TraceIDFromContext(ctx)),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)))
		return resp, err
	}
}

// Client - клиент инструментов для удаленного планировщика.
type Client struct {
	cc      grpc.ClientConnInterface
	agentID string
}

func NewClient(cc grpc.ClientConnInterface, agentID string) *Client {
	return &Client{cc: cc, agentID: agentID}
}

func (c *Client) outgoing(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, clientCallTimeout)
	if c.agentID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, AgentIDMetadata, c.agentID)
	}
	if id := engine.TraceIDFromContext(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TraceIDMetadata, id)
	}
	return ctx, cancel
}

func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any) (Result, error) {
	in, err := structpb.NewStruct(map[string]any{"tool": tool, "arguments": args})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	ctx, cancel := c.outgoing(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, invokeMethod, in, out); err != nil {
		return Result{}, fmt.Errorf("tool call failed: %w", err)
	}

	var res Result
	if err := fromStruct(out, &res); err != nil {
		return Result{}, fmt.Errorf("failed to decode result: %w", err)
	}
	return res, nil
}

func (c *Client) List(ctx context.Context) ([]ToolDescriptor, error) {
	ctx, cancel := c.outgoing(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("list tools failed: %w", err)
	}

	var resp struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return resp.Tools, nil
}
