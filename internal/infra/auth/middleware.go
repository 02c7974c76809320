// Package auth проверяет bearer-токены вызывающих. Scopes из токена
// заменяют те, что пришли заголовком X-Caller-Scopes.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
	"go.uber.org/zap"
)

// TokenValidator — проверка подписи и срока действия токена.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*Claims, error)
}

type ctxKey struct{}

// ClaimsFromContext — claims проверенного токена, если он был.
func ClaimsFromContext(r *http.Request) (*Claims, bool) {
	c, ok := r.Context().Value(ctxKey{}).(*Claims)
	return c, ok
}

// NewMiddleware требует валидный токен и кладёт его scopes в контекст запроса.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny(w, r, domain.CodeUnauthorized, "Missing bearer token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err), zap.String("path", r.URL.Path))
				deny(w, r, domain.CodeUnauthorized, "Invalid token")
				return
			}

			ctx := engine.ContextWithScopes(r.Context(), claims.Scopes)
			ctx = context.WithValue(ctx, ctxKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope пропускает только токены с нужным scope. Ставится после NewMiddleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r)
			if !ok || !slices.Contains(claims.Scopes, scope) {
				deny(w, r, domain.CodeForbidden, "Scope "+scope+" is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, code, message string) {
	te := domain.NewToolError(code, message, nil)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(te.HTTPStatus)
	_ = json.NewEncoder(w).Encode(domain.ToolResponse{
		Error: te.Body(),
		Meta:  domain.ResponseMeta{TraceID: engine.TraceIDFromContext(r.Context())},
	})
}
