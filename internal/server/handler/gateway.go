package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
)

// Invoker — шлюз инструментов (engine.Gateway).
type Invoker interface {
	Invoke(ctx context.Context, req domain.ToolRequest) (domain.ToolResponse, int)
	Tools() []domain.ToolInfo
	Capabilities() engine.Capabilities
	ServiceName() string
}

// Тело /tool больше этого не читаем
const maxToolBody = 1 << 20

type GatewayHandler struct {
	gw   Invoker
	halt engine.HaltSource
}

func NewGatewayHandler(gw Invoker, halt engine.HaltSource) *GatewayHandler {
	return &GatewayHandler{gw: gw, halt: halt}
}

// Health — GET /health. Глобальный рубильник переводит сервис в degraded,
// но ответ остаётся 200: процесс жив.
func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.halt != nil && h.halt.Status().GlobalActive {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": h.gw.ServiceName(),
		"status":  status,
	})
}

// Tools — GET /tools.
func (h *GatewayHandler) Tools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"schema": "mcp.tools-registry.v1",
		"tools":  h.gw.Tools(),
	})
}

// Capabilities — GET /capabilities.
func (h *GatewayHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gw.Capabilities())
}

// Invoke — POST /tool. Пустое тело читается как {}, конверт проверяет шлюз.
func (h *GatewayHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxToolBody))
	if err != nil {
		badRequest(w, r, "Invalid JSON.")
		return
	}

	var body any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			badRequest(w, r, "Invalid JSON.")
			return
		}
	}

	// Тело не объект — все поля конверта считаются отсутствующими
	var req domain.ToolRequest
	if m, ok := body.(map[string]any); ok {
		req = domain.ToolRequest{Tool: m["tool"], Args: m["args"], Ctx: m["ctx"]}
	}

	resp, status := h.gw.Invoke(r.Context(), req)
	writeJSON(w, status, resp)
}

// NotFound — конверт для неизвестных маршрутов.
func (h *GatewayHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, domain.NewToolError(domain.CodeNotFound, "Route not found", map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
	}))
}
