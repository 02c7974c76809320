package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// OperatorHeader — кто выполняет админское действие.
const OperatorHeader = "X-Operator"

// KillSwitchController — engine.KillSwitchEnforcer.
type KillSwitchController interface {
	Activate(ctx context.Context, level domain.KillSwitchLevel, target, reason, by string) (domain.KillSwitchState, error)
	Deactivate(ctx context.Context, level domain.KillSwitchLevel, target, by string) (domain.KillSwitchState, bool, error)
	Status() domain.KillSwitchReport
	All() []domain.KillSwitchState
}

type KillSwitchHandler struct {
	ks KillSwitchController
}

func NewKillSwitchHandler(ks KillSwitchController) *KillSwitchHandler {
	return &KillSwitchHandler{ks: ks}
}

type killSwitchRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// List — GET /v1/killswitch: сводка и все записи, включая снятые.
func (h *KillSwitchHandler) List(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status": h.ks.Status(),
		"states": h.ks.All(),
	})
}

// Activate — POST /v1/killswitch/{level}/{target}/activate
func (h *KillSwitchHandler) Activate(w http.ResponseWriter, r *http.Request) {
	level, target, ok := h.params(w, r)
	if !ok {
		return
	}
	body, ok := decodeKillSwitchRequest(w, r)
	if !ok {
		return
	}
	if body.Reason == "" {
		body.Reason = "manual activation"
	}

	st, err := h.ks.Activate(r.Context(), level, target, body.Reason, operator(r, body.By))
	if err != nil {
		writeError(w, r, domain.AsToolError(err))
		return
	}
	writeData(w, http.StatusOK, st)
}

// Deactivate — POST /v1/killswitch/{level}/{target}/deactivate
func (h *KillSwitchHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	level, target, ok := h.params(w, r)
	if !ok {
		return
	}
	body, ok := decodeKillSwitchRequest(w, r)
	if !ok {
		return
	}

	st, found, err := h.ks.Deactivate(r.Context(), level, target, operator(r, body.By))
	if err != nil {
		writeError(w, r, domain.AsToolError(err))
		return
	}
	if !found {
		writeError(w, r, domain.NewToolError(domain.CodeNotFound, "Kill switch not found",
			map[string]any{"level": level, "target": target}))
		return
	}
	writeData(w, http.StatusOK, st)
}

func (h *KillSwitchHandler) params(w http.ResponseWriter, r *http.Request) (domain.KillSwitchLevel, string, bool) {
	level, err := domain.ParseKillSwitchLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, r, domain.NewToolError(domain.CodeInvalidKillSwitchLevel, err.Error(), nil))
		return "", "", false
	}
	return level, chi.URLParam(r, "target"), true
}

// Пустое тело допустимо
func decodeKillSwitchRequest(w http.ResponseWriter, r *http.Request) (killSwitchRequest, bool) {
	var body killSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "Invalid JSON.")
		return body, false
	}
	return body, true
}

func operator(r *http.Request, by string) string {
	if by != "" {
		return by
	}
	if v := r.Header.Get(OperatorHeader); v != "" {
		return v
	}
	return "operator"
}
