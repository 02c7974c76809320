package engine

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryContextInterceptor переносит trace-id и scopes из метаданных gRPC
// в контекст так же, как HTTP-мидлвари делают это с заголовками.
func UnaryContextInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return handler(ctx, req)
		}

		// В gRPC заголовки обычно в нижнем регистре
		if ids := md.Get("x-trace-id"); len(ids) > 0 && ids[0] != "" {
			ctx = ContextWithTraceID(ctx, ids[0])
		}
		var scopes []string
		for _, raw := range md.Get("x-caller-scopes") {
			scopes = append(scopes, ParseScopes(raw)...)
		}
		if len(scopes) > 0 {
			ctx = ContextWithScopes(ctx, scopes)
		}

		return handler(ctx, req)
	}
}
