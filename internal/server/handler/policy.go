package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
)

// PolicyStore — кэш прав в памяти (policy.MemoEnforcer).
type PolicyStore interface {
	Permissions() []domain.ToolPermission
	Refresh(ctx context.Context) error
	PublishUpdate(ctx context.Context, reason string) error
}

// PermissionWriter — долговременное хранилище прав (postgres.PermissionRepo).
type PermissionWriter interface {
	UpsertToolPermission(ctx context.Context, p domain.ToolPermission) error
}

type PolicyHandler struct {
	store  PolicyStore
	repo   PermissionWriter
	logger *zap.Logger
}

// NewPolicyHandler — repo может быть nil, тогда правила только читаются.
func NewPolicyHandler(store PolicyStore, repo PermissionWriter, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, repo: repo, logger: logger.Named("policy-api")}
}

// List — GET /v1/policies: действующая таблица прав.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.store.Permissions())
}

// Refresh — POST /v1/policies/refresh: перечитать таблицу и оповестить
// остальные инстансы.
func (h *PolicyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Refresh(r.Context()); err != nil {
		h.logger.Error("policy refresh failed", zap.Error(err))
		writeError(w, r, domain.NewToolError(domain.CodeDatabase, "Policy refresh failed", nil))
		return
	}
	h.publish(r.Context(), "manual refresh")
	writeData(w, http.StatusOK, map[string]any{"permissions": len(h.store.Permissions())})
}

// Upsert — PUT /v1/policies/{tool}: сохранить правило и применить его.
func (h *PolicyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, r, domain.NewToolError(domain.CodeConfiguration, "Policy storage is not configured", nil))
		return
	}

	var p domain.ToolPermission
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, r, "Invalid JSON.")
		return
	}
	p.ToolName = chi.URLParam(r, "tool")

	if err := h.repo.UpsertToolPermission(r.Context(), p); err != nil {
		h.logger.Error("policy upsert failed", zap.String("tool", p.ToolName), zap.Error(err))
		writeError(w, r, domain.NewToolError(domain.CodeDatabase, "Policy update failed", nil))
		return
	}
	if err := h.store.Refresh(r.Context()); err != nil {
		h.logger.Error("policy refresh failed", zap.Error(err))
	}
	h.publish(r.Context(), "upsert "+p.ToolName)
	writeData(w, http.StatusOK, p)
}

func (h *PolicyHandler) publish(ctx context.Context, reason string) {
	if err := h.store.PublishUpdate(ctx, reason); err != nil {
		h.logger.Warn("policy update signal not sent", zap.Error(err))
	}
}
