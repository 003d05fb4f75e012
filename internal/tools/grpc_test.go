package tools

import (
	"context"
	"net"
	"testing"

	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
	"github.com/xela07ax/agv-logistics-coordinator/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startToolServer(t *testing.T, reg *Registry) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zap.NewNop())))
	RegisterToolServiceServer(srv, NewGRPCServer(reg))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCToolService(t *testing.T) {
	s := newServices(t)
	aud := &captureAuditor{}
	s.reg.auditor = aud
	client := NewClient(startToolServer(t, s.reg), "planner-grpc")
	ctx := context.Background()

	tools, err := client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tools) != len(s.reg.List()) || tools[0].Name != "check_inventory" || len(tools[0].InputSchema) != 2 {
		t.Fatalf("tools %+v", tools[0])
	}

	res, err := client.Invoke(ctx, "check_inventory", map[string]any{"part_number": "HYDRAULIC-PUMP-HP450", "quantity": 5})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	data, _ := res.Data.(map[string]any)
	if !res.Success || data["can_fulfill"] != true || data["net_available"] != float64(22) {
		t.Fatalf("result %+v", res)
	}

	res, err = client.Invoke(ctx, "get_part_info", map[string]any{"part_number": "NOPE"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success || res.Kind != domain.KindNotFound {
		t.Errorf("unknown part: %+v", res)
	}

	aud.mu.Lock()
	defer aud.mu.Unlock()
	if len(aud.events) != 2 || aud.events[0].Channel != audit.ChannelGRPC || aud.events[0].Actor != "planner-grpc" {
		t.Errorf("audit %+v", aud.events)
	}
}

func TestGRPCInvokeRequiresTool(t *testing.T) {
	conn := startToolServer(t, NewRegistry(zap.NewNop()))

	in, _ := structpb.NewStruct(map[string]any{"arguments": map[string]any{}})
	err := conn.Invoke(context.Background(), invokeMethod, in, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("got %v", err)
	}
}
