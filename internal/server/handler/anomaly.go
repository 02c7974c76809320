package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/sentinel-gateway/internal/risk"
)

// AnomalyReader — монитор аномалий (risk.Monitor).
type AnomalyReader interface {
	Anomalies(f risk.Filter) []risk.AnomalyEvent
	Stats() risk.Stats
}

type AnomalyHandler struct {
	m AnomalyReader
}

func NewAnomalyHandler(m AnomalyReader) *AnomalyHandler {
	return &AnomalyHandler{m: m}
}

// List — GET /v1/anomalies?agent_id=...&severity=...&type=...&limit=...
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := risk.Filter{
		AgentID:  q.Get("agent_id"),
		Severity: risk.Severity(q.Get("severity")),
		Type:     risk.AnomalyType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, r, "invalid limit")
			return
		}
		f.Limit = n
	}
	writeData(w, http.StatusOK, h.m.Anomalies(f))
}

// Stats — GET /v1/anomalies/stats
func (h *AnomalyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.m.Stats())
}
