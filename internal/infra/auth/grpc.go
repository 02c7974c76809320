package auth

import (
	"context"
	"strings"

	"github.com/xela07ax/sentinel-gateway/internal/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// NewUnaryInterceptor — gRPC-аналог NewMiddleware для ToolGateway: без
// валидного токена в метаданных authorization вызов отклоняется, scopes
// берутся только из токена. grpc.health.v1 остаётся открытым.
// Ставится после engine.UnaryContextInterceptor.
func NewUnaryInterceptor(v TokenValidator, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+engine.ToolGatewayService+"/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		tokens := md.Get("authorization")
		if len(tokens) == 0 || tokens[0] == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			logger.Warn("grpc auth failure", zap.Error(err), zap.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		// Scopes из x-caller-scopes перекрываются scopes токена
		ctx = engine.ContextWithScopes(ctx, claims.Scopes)
		return handler(ctx, req)
	}
}
