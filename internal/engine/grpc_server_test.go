package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func dialGateway(t *testing.T, h *harness) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryContextInterceptor()))
	srv.RegisterService(&ToolGatewayServiceDesc, NewGRPCGatewayServer(h.gw))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invokeGRPC(t *testing.T, conn *grpc.ClientConn, ctx context.Context, envelope map[string]any) (map[string]any, string) {
	t.Helper()

	in, err := structpb.NewStruct(envelope)
	require.NoError(t, err)

	out := new(structpb.Struct)
	var header metadata.MD
	require.NoError(t, conn.Invoke(ctx, InvokeMethod, in, out, grpc.Header(&header)))

	status := ""
	if v := header.Get(StatusHeader); len(v) > 0 {
		status = v[0]
	}
	return out.AsMap(), status
}

func TestGRPCInvoke_Success(t *testing.T) {
	h := newHarness(t)
	conn := dialGateway(t, h)

	body, status := invokeGRPC(t, conn, context.Background(), map[string]any{
		"tool": "shared.artifact_registry.read",
		"args": map[string]any{},
		"ctx":  callerCtx(nil),
	})

	assert.Equal(t, "200", status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "trace-1", body["meta"].(map[string]any)["traceId"])

	data := body["data"].(map[string]any)
	assert.Equal(t, "shared", data["tenant"])
	assert.Len(t, data["artifacts"], 2)
}

func TestGRPCInvoke_DenialCarriesStatus(t *testing.T) {
	h := newHarness(t)
	conn := dialGateway(t, h)

	body, status := invokeGRPC(t, conn, context.Background(), map[string]any{
		"args": map[string]any{},
		"ctx":  callerCtx(nil),
	})

	assert.Equal(t, "400", status)
	assert.Equal(t, false, body["ok"])
	errBody := body["error"].(map[string]any)
	assert.Equal(t, domain.CodeBadRequest, errBody["code"])
	assert.Equal(t, "Missing tool (string).", errBody["message"])
}

func TestGRPCInvoke_MetadataScopesAndTrace(t *testing.T) {
	h := newHarness(t)
	conn := dialGateway(t, h)

	// Скоупы и trace-id приходят только из метаданных
	ctx := metadata.AppendToOutgoingContext(context.Background(),
		"x-trace-id", "trace-grpc",
		"x-caller-scopes", "artifacts:read",
	)
	body, status := invokeGRPC(t, conn, ctx, map[string]any{
		"tool": "shared.artifact_registry.read",
		"args": map[string]any{},
		"ctx":  callerCtx(map[string]any{"scopes": nil}),
	})
	assert.Equal(t, "200", status)
	assert.Equal(t, true, body["ok"])

	// Без traceId в ctx вызов отклонён, но meta несёт trace-id из метаданных
	body, status = invokeGRPC(t, conn, ctx, map[string]any{
		"tool": "shared.artifact_registry.read",
		"args": map[string]any{},
		"ctx":  callerCtx(map[string]any{"traceId": nil}),
	})
	assert.Equal(t, "400", status)
	assert.Equal(t, domain.CodeMissingRequiredField, body["error"].(map[string]any)["code"])
	assert.Equal(t, "trace-grpc", body["meta"].(map[string]any)["traceId"])
}

func TestHealthReporter_FollowsGlobalHalt(t *testing.T) {
	ksm := NewKillSwitchManager(nil, nil, zap.NewNop())
	srv := health.NewServer()
	reporter := NewHealthReporter(srv, ksm, 10*time.Millisecond, zap.NewNop())

	serving := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, reporter.Sync())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, serving(ToolGatewayService))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	_, err := ksm.Activate(ctx, domain.LevelGlobal, "", "incident", "ops")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return serving("") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)

	_, _, err = ksm.Deactivate(ctx, domain.LevelGlobal, "", "ops")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return serving(ToolGatewayService) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}
