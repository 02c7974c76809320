package risk

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SuspendedBy — автор блокировок, выставленных монитором.
const SuspendedBy = "anomaly-monitor"

const (
	// Сколько последних действий агента помним
	historySize = 20
	// Окно поиска отказов для scope creep
	scopeCreepWindow = 10
	// Базовая линия помнит не больше стольких доменов
	maxBaselineDomains = 5

	// Агент без действий дольше часового окна забывается
	agentIdleTTL  = 2 * time.Hour
	sweepInterval = time.Minute
	// actor приходит от вызывающего как есть, поэтому состояние ограничено
	maxTrackedAgents = 10000
	maxAnomalyEvents = 1000
)

type AnomalyType string

const (
	AnomalyFrequencySpike  AnomalyType = "frequency_spike"
	AnomalyScopeCreep      AnomalyType = "scope_creep"
	AnomalyDomainViolation AnomalyType = "domain_violation"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AnomalyEvent — обнаруженное отклонение в поведении агента.
type AnomalyEvent struct {
	ID            string         `json:"anomaly_id"`
	Timestamp     time.Time      `json:"timestamp"`
	AgentID       string         `json:"agent_id"`
	DomainName    string         `json:"domain_name,omitempty"`
	Type          AnomalyType    `json:"anomaly_type"`
	Severity      Severity       `json:"severity"`
	Description   string         `json:"description"`
	Details       map[string]any `json:"details"`
	AutoSuspended bool           `json:"auto_suspended"`
}

// Thresholds — пороги детекторов. Нулевые значения заменяются дефолтами.
type Thresholds struct {
	MaxActionsPerMinute  int
	MaxActionsPerHour    int
	ScopeAttemptLimit    int
	DomainDeviationLimit int
	BaselineMinActions   int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxActionsPerMinute:  20,
		MaxActionsPerHour:    500,
		ScopeAttemptLimit:    3,
		DomainDeviationLimit: 5,
		BaselineMinActions:   10,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxActionsPerMinute <= 0 {
		t.MaxActionsPerMinute = d.MaxActionsPerMinute
	}
	if t.MaxActionsPerHour <= 0 {
		t.MaxActionsPerHour = d.MaxActionsPerHour
	}
	if t.ScopeAttemptLimit <= 0 {
		t.ScopeAttemptLimit = d.ScopeAttemptLimit
	}
	if t.DomainDeviationLimit <= 0 {
		t.DomainDeviationLimit = d.DomainDeviationLimit
	}
	if t.BaselineMinActions <= 0 {
		t.BaselineMinActions = d.BaselineMinActions
	}
	return t
}

// Suspender блокирует агента (engine.KillSwitchEnforcer).
type Suspender interface {
	SuspendAgent(ctx context.Context, agentID, reason, by string) error
}

type Auditor interface {
	Log(event audit.AuditEvent) audit.AuditEvent
}

type activity struct {
	domain     string
	authorized bool
}

type agentState struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
	recent    []activity
	lastSeen  time.Time

	// Базовая линия строится только по разрешённым действиям
	baselineActions int
	baselineDomains []string
}

func (s *agentState) record(a activity) {
	s.recent = append(s.recent, a)
	if len(s.recent) > historySize {
		s.recent = slices.Clone(s.recent[len(s.recent)-historySize:])
	}
}

func (s *agentState) learn(domainID string) {
	s.baselineActions++
	if domainID != "" && len(s.baselineDomains) < maxBaselineDomains && !slices.Contains(s.baselineDomains, domainID) {
		s.baselineDomains = append(s.baselineDomains, domainID)
	}
}

// Monitor следит за решениями авторизации и при подозрительном поведении
// пишет аудит и блокирует агента через рубильник.
type Monitor struct {
	th        Thresholds
	suspender Suspender
	auditor   Auditor
	anomalies *prometheus.CounterVec
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	agents    map[string]*agentState
	events    []AnomalyEvent
	lastSweep time.Time
	maxAgents int
	maxEvents int
}

func NewMonitor(th Thresholds, suspender Suspender, auditor Auditor, reg prometheus.Registerer, logger *zap.Logger) *Monitor {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Monitor{
		th:        th.withDefaults(),
		suspender: suspender,
		auditor:   auditor,
		anomalies: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_anomalies_total",
			Help: "Total number of detected agent anomalies by type.",
		}, []string{"type"}),
		now:    time.Now,
		logger: logger.Named("anomaly"),
		agents:    make(map[string]*agentState),
		maxAgents: maxTrackedAgents,
		maxEvents: maxAnomalyEvents,
	}
}

// Observe — точка подключения к шлюзу.
func (m *Monitor) Observe(ctx context.Context, obs domain.ActionObservation) {
	m.Check(ctx, obs)
}

// Check учитывает действие агента и возвращает найденную аномалию или nil.
func (m *Monitor) Check(ctx context.Context, obs domain.ActionObservation) *AnomalyEvent {
	if obs.AgentID == "" {
		return nil
	}
	now := m.now()

	m.mu.Lock()
	m.sweep(now)
	st := m.agent(obs.AgentID, now)
	st.record(activity{domain: obs.Domain, authorized: obs.Authorized})
	if obs.Authorized {
		st.learn(obs.Domain)
	}
	ev := m.detect(st, obs, now)
	if ev != nil {
		m.events = append(m.events, *ev)
		if len(m.events) > m.maxEvents {
			m.events = slices.Clone(m.events[len(m.events)-m.maxEvents:])
		}
	}
	m.mu.Unlock()

	if ev == nil {
		return nil
	}
	m.respond(ctx, obs, ev)
	return ev
}

func (m *Monitor) agent(id string, now time.Time) *agentState {
	st, ok := m.agents[id]
	if !ok {
		if len(m.agents) >= m.maxAgents {
			m.evictOldest()
		}
		st = &agentState{
			perMinute: rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.th.MaxActionsPerMinute)), m.th.MaxActionsPerMinute),
			perHour:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(m.th.MaxActionsPerHour)), m.th.MaxActionsPerHour),
		}
		m.agents[id] = st
	}
	st.lastSeen = now
	return st
}

// sweep раз в sweepInterval выбрасывает агентов, молчащих дольше agentIdleTTL.
// Вызывается под m.mu.
func (m *Monitor) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for id, st := range m.agents {
		if now.Sub(st.lastSeen) > agentIdleTTL {
			delete(m.agents, id)
		}
	}
}

// evictOldest освобождает место под нового агента. Вызывается под m.mu.
func (m *Monitor) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, st := range m.agents {
		if oldestID == "" || st.lastSeen.Before(oldest) {
			oldestID, oldest = id, st.lastSeen
		}
	}
	delete(m.agents, oldestID)
}

// TrackedAgents — число агентов, по которым монитор держит состояние.
func (m *Monitor) TrackedAgents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// detect прогоняет детекторы по порядку: частота, уход из доменов базовой
// линии, повторные отказы. Срабатывает первый.
func (m *Monitor) detect(st *agentState, obs domain.ActionObservation, now time.Time) *AnomalyEvent {
	minuteOK := st.perMinute.AllowN(now, 1)
	hourOK := st.perHour.AllowN(now, 1)

	switch {
	case !minuteOK:
		return m.newEvent(obs, now, AnomalyFrequencySpike, SeverityHigh, true,
			fmt.Sprintf("Agent exceeded maximum actions per minute (%d)", m.th.MaxActionsPerMinute),
			map[string]any{"threshold": m.th.MaxActionsPerMinute, "window": "1m"})
	case !hourOK:
		return m.newEvent(obs, now, AnomalyFrequencySpike, SeverityCritical, true,
			fmt.Sprintf("Agent exceeded maximum actions per hour (%d)", m.th.MaxActionsPerHour),
			map[string]any{"threshold": m.th.MaxActionsPerHour, "window": "1h"})
	}

	if st.baselineActions >= m.th.BaselineMinActions && !slices.Contains(st.baselineDomains, obs.Domain) {
		var unusual []string
		for _, a := range st.recent {
			if a.domain != "" && !slices.Contains(st.baselineDomains, a.domain) && !slices.Contains(unusual, a.domain) {
				unusual = append(unusual, a.domain)
			}
		}
		if len(unusual) >= m.th.DomainDeviationLimit {
			return m.newEvent(obs, now, AnomalyDomainViolation, SeverityMedium, false,
				fmt.Sprintf("Agent accessing %d domains outside baseline", len(unusual)),
				map[string]any{"baselineDomains": slices.Clone(st.baselineDomains), "unusualDomains": unusual})
		}
	}

	if !obs.Authorized {
		window := st.recent[max(0, len(st.recent)-scopeCreepWindow):]
		denied := 0
		for _, a := range window {
			if !a.authorized {
				denied++
			}
		}
		if denied >= m.th.ScopeAttemptLimit {
			return m.newEvent(obs, now, AnomalyScopeCreep, SeverityHigh, true,
				fmt.Sprintf("Agent made %d unauthorized attempts", denied),
				map[string]any{"attemptCount": denied, "threshold": m.th.ScopeAttemptLimit, "lastCode": obs.Code})
		}
	}
	return nil
}

func (m *Monitor) newEvent(obs domain.ActionObservation, now time.Time, typ AnomalyType, sev Severity, suspend bool, desc string, details map[string]any) *AnomalyEvent {
	return &AnomalyEvent{
		ID:            uuid.New().String(),
		Timestamp:     now.UTC(),
		AgentID:       obs.AgentID,
		DomainName:    obs.Domain,
		Type:          typ,
		Severity:      sev,
		Description:   desc,
		Details:       details,
		AutoSuspended: suspend,
	}
}

func (m *Monitor) respond(ctx context.Context, obs domain.ActionObservation, ev *AnomalyEvent) {
	m.anomalies.WithLabelValues(string(ev.Type)).Inc()
	m.logger.Warn("anomaly detected",
		zap.String("type", string(ev.Type)),
		zap.String("agent_id", ev.AgentID),
		zap.String("severity", string(ev.Severity)),
		zap.Bool("auto_suspended", ev.AutoSuspended),
	)

	reason := "Anomaly detected: " + ev.Description
	decision := audit.DecisionDenied
	if ev.AutoSuspended {
		decision = audit.DecisionSuspended
	}
	if m.auditor != nil {
		m.auditor.Log(audit.AuditEvent{
			Type:     audit.EventAuthorization,
			Tenant:   obs.Tenant,
			ToolName: obs.ToolName,
			TraceID:  obs.TraceID,
			Actor:    audit.Actor{AgentID: obs.AgentID},
			Target:   audit.Target{DomainName: obs.Domain, TaskType: obs.TaskType},
			Decision: decision,
			Reason:   reason,
			Code:     obs.Code,
			Scopes:   obs.Scopes,
			Metadata: map[string]any{"anomaly": *ev},
		})
	}

	if !ev.AutoSuspended || m.suspender == nil {
		return
	}
	// Блокировка не должна зависеть от отмены запроса, который её вызвал
	if err := m.suspender.SuspendAgent(context.WithoutCancel(ctx), ev.AgentID, reason, SuspendedBy); err != nil {
		m.logger.Error("auto-suspend failed", zap.String("agent_id", ev.AgentID), zap.Error(err))
	}
}

// Filter — выборка аномалий. Пустое поле не фильтрует.
type Filter struct {
	AgentID  string
	Severity Severity
	Type     AnomalyType
	Limit    int
}

// Anomalies возвращает аномалии от новых к старым.
func (m *Monitor) Anomalies(f Filter) []AnomalyEvent {
	m.mu.Lock()
	out := make([]AnomalyEvent, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		out = append(out, e)
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

type Stats struct {
	TotalAnomalies     int            `json:"total_anomalies"`
	ByType             map[string]int `json:"by_type"`
	BySeverity         map[string]int `json:"by_severity"`
	AutoSuspendedCount int            `json:"auto_suspended_count"`
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalAnomalies: len(m.events),
		ByType:         make(map[string]int),
		BySeverity:     make(map[string]int),
	}
	for _, e := range m.events {
		s.ByType[string(e.Type)]++
		s.BySeverity[string(e.Severity)]++
		if e.AutoSuspended {
			s.AutoSuspendedCount++
		}
	}
	return s
}
