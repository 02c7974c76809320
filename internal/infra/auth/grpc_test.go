package auth

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// scopeEcho возвращает scopes, которые увидел бы шлюз.
type scopeEcho struct{}

func (scopeEcho) Invoke(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	scopes := make([]any, 0)
	for _, s := range engine.ScopesFromContext(ctx) {
		scopes = append(scopes, s)
	}
	return structpb.NewStruct(map[string]any{"scopes": scopes})
}

func dialAuthenticated(t *testing.T, v TokenValidator) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		engine.UnaryContextInterceptor(),
		NewUnaryInterceptor(v, zap.NewNop()),
	))
	srv.RegisterService(&engine.ToolGatewayServiceDesc, scopeEcho{})
	healthpb.RegisterHealthServer(srv, health.NewServer())
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

func TestUnaryInterceptor(t *testing.T) {
	key := newKey(t)
	conn := dialAuthenticated(t, NewValidator(&key.PublicKey, ""))

	invoke := func(ctx context.Context) (*structpb.Struct, error) {
		in, err := structpb.NewStruct(map[string]any{"tool": "shared.artifact_registry.read"})
		require.NoError(t, err)
		out := new(structpb.Struct)
		return out, conn.Invoke(ctx, engine.InvokeMethod, in, out)
	}

	t.Run("missing token", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "x-caller-scopes", "sentinel:admin")
		_, err := invoke(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("invalid token", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer not-a-jwt")
		_, err := invoke(ctx)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("token scopes replace asserted scopes", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(),
			"authorization", "Bearer "+sign(t, key, []string{"artifacts:read"}, "", time.Minute),
			"x-caller-scopes", "sentinel:admin,artifacts:write",
		)
		out, err := invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, []any{"artifacts:read"}, out.AsMap()["scopes"])
	})

	t.Run("health stays open", func(t *testing.T) {
		resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	})
}
