package engine

import (
	"context"
	"net/http"
	"strings"
)

// ScopesHeader — scopes, выданные вызывающему внешним прокси. Объединяются
// с ctx.scopes из тела запроса.
const ScopesHeader = "X-Caller-Scopes"

// ScopesMiddleware прокидывает scopes из заголовка в контекст.
// Формат: "artifacts:read, chc:access".
func ScopesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(ScopesHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithScopes(r.Context(), ParseScopes(raw))))
	})
}

// ParseScopes разбирает список через запятую, пустые элементы отбрасываются.
func ParseScopes(raw string) []string {
	var scopes []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func ContextWithScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(scopesKey).([]string)
	return scopes
}
