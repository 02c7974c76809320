package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/sentinel-gateway/internal/audit"
)

// AuditReader — журнал аудита (audit.Logger).
type AuditReader interface {
	Query(f audit.Filter) []audit.AuditEvent
	Stats(f audit.Filter) audit.Stats
	Export(start, end time.Time) ([]byte, error)
}

type AuditHandler struct {
	log AuditReader
}

func NewAuditHandler(log AuditReader) *AuditHandler {
	return &AuditHandler{log: log}
}

// Query возвращает события аудита с фильтрацией.
// GET /v1/audit?tenant=...&tool=...&type=...&agent_id=...&domain=...&decision=...&start=...&end=...&limit=...
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	writeData(w, http.StatusOK, h.log.Query(f))
}

// Stats — GET /v1/audit/stats, те же фильтры, что и у Query.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	writeData(w, http.StatusOK, h.log.Stats(f))
}

// Export — GET /v1/audit/export?start=...&end=... Файл в хронологическом порядке.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	data, err := h.log.Export(f.StartTime, f.EndTime)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Tenant:     q.Get("tenant"),
		ToolName:   q.Get("tool"),
		EventType:  audit.EventType(q.Get("type")),
		AgentID:    q.Get("agent_id"),
		DomainName: q.Get("domain"),
		Decision:   audit.Decision(q.Get("decision")),
	}

	var err error
	if f.StartTime, err = parseTime(q.Get("start")); err != nil {
		return f, fmt.Errorf("invalid start: %w", err)
	}
	if f.EndTime, err = parseTime(q.Get("end")); err != nil {
		return f, fmt.Errorf("invalid end: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit: %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
