package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData — успешный ответ админского API.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"ok": true, "data": data})
}

// writeError отдаёт ошибку в том же конверте, что и шлюз.
func writeError(w http.ResponseWriter, r *http.Request, te *domain.ToolError) {
	writeJSON(w, te.HTTPStatus, domain.ToolResponse{
		OK:    false,
		Error: te.Body(),
		Meta:  domain.ResponseMeta{TraceID: engine.TraceIDFromContext(r.Context())},
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, domain.NewToolError(domain.CodeBadRequest, message, nil))
}
