package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// DomainLookup — реестр исполнителей (registry.Registry).
type DomainLookup interface {
	Get(domainID string) (domain.ExecutorSpec, bool)
	ListDomains() []string
}

// DomainAuthorizer — движок авторизации доменов (policy.Authorizer).
type DomainAuthorizer interface {
	Authorize(domainID string, task any, scope string) error
	AuthorizeAction(domainID string, task any, action, scope string) error
}

type DomainHandler struct {
	reg   DomainLookup
	authz DomainAuthorizer
}

func NewDomainHandler(reg DomainLookup, authz DomainAuthorizer) *DomainHandler {
	return &DomainHandler{reg: reg, authz: authz}
}

// List — GET /v1/domains
func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.reg.ListDomains()
	specs := make([]domain.ExecutorSpec, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.reg.Get(id); ok {
			specs = append(specs, s)
		}
	}
	writeData(w, http.StatusOK, specs)
}

// Get — GET /v1/domains/{id}
func (h *DomainHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	spec, ok := h.reg.Get(id)
	if !ok {
		writeError(w, r, domain.NewToolError(domain.CodeNotFound, "Domain not found", map[string]any{"domainId": id}))
		return
	}
	writeData(w, http.StatusOK, spec)
}

type authorizeRequest struct {
	Task   any    `json:"task"`
	Action string `json:"action"`
	Scope  string `json:"scope"`
}

// Authorize — POST /v1/domains/{id}/authorize: пробная проверка задачи
// движком домена без исполнения.
func (h *DomainHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, r, "Invalid JSON.")
		return
	}

	var err error
	if body.Action != "" {
		err = h.authz.AuthorizeAction(id, body.Task, body.Action, body.Scope)
	} else {
		err = h.authz.Authorize(id, body.Task, body.Scope)
	}
	if err != nil {
		writeError(w, r, domain.AsToolError(err))
		return
	}
	writeData(w, http.StatusOK, map[string]any{"domainId": id, "authorized": true})
}
