package audit

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink — получатель копий событий для долговременного хранения (AgentFS).
type Sink interface {
	Log(event AuditEvent)
}

// Logger — синхронный append-only журнал в памяти. Log возвращается только
// после того, как событие записано, поэтому ответ шлюза никогда не опережает аудит.
type Logger struct {
	mu     sync.RWMutex
	events []AuditEvent
	sink   Sink
	now    func() time.Time
	logger *zap.Logger
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	return &Logger{
		sink:   sink,
		now:    time.Now,
		logger: logger.Named("audit"),
	}
}

// Log дописывает копию события, проставляя ID и время вставки. Время,
// переданное вызывающим, игнорируется.
func (l *Logger) Log(event AuditEvent) AuditEvent {
	event = event.Clone()
	event.ID = uuid.New().String()
	event.Timestamp = l.now().UTC()

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	l.logger.Debug("audit event",
		zap.String("type", string(event.Type)),
		zap.String("actor", actorName(event.Actor)),
		zap.String("decision", string(event.Decision)),
		zap.String("trace_id", event.TraceID),
	)

	if l.sink != nil {
		l.sink.Log(event.Clone())
	}
	return event.Clone()
}

// LogKillSwitch фиксирует действие оператора над рубильником.
func (l *Logger) LogKillSwitch(by, action, level, target, reason string) AuditEvent {
	decision := DecisionAllowed
	if action == "activate" {
		decision = DecisionSuspended
	}
	return l.Log(AuditEvent{
		Type:       EventKillSwitch,
		Actor:      Actor{HumanID: by},
		Target:     Target{ResourceID: target},
		Decision:   decision,
		Reason:     reason,
		KillSwitch: &KillSwitchChange{Action: action, Level: level, TargetID: target},
	})
}

// LogPolicyChange фиксирует перезагрузку таблицы прав.
func (l *Logger) LogPolicyChange(source string, permissions int) AuditEvent {
	return l.Log(AuditEvent{
		Type:         EventPolicyChange,
		Actor:        Actor{HumanID: "system"},
		Decision:     DecisionAllowed,
		Reason:       "permission table refreshed",
		PolicyChange: &PolicyChange{Source: source, Permissions: permissions},
	})
}

// Query возвращает события, прошедшие все заданные фильтры, от новых к старым.
func (l *Logger) Query(f Filter) []AuditEvent {
	l.mu.RLock()
	out := make([]AuditEvent, 0)
	for i := len(l.events) - 1; i >= 0; i-- {
		if f.Match(l.events[i]) {
			out = append(out, l.events[i].Clone())
		}
	}
	l.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b AuditEvent) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Stats — агрегаты по событиям, прошедшим фильтр (Limit не учитывается).
func (l *Logger) Stats(f Filter) Stats {
	f.Limit = 0

	var s Stats
	var durationSum, durationN int64

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.events {
		if !f.Match(e) {
			continue
		}
		s.TotalEvents++

		switch e.Type {
		case EventAuthorization:
			s.AuthorizationEvents++
		case EventKillSwitch:
			s.KillSwitchEvents++
		case EventExecution:
			if e.Succeeded() {
				s.SuccessCount++
			} else {
				s.FailureCount++
			}
			durationSum += e.DurationMs
			durationN++
		}

		switch e.Decision {
		case DecisionAllowed:
			s.AllowedCount++
		case DecisionDenied:
			s.DeniedCount++
		}
	}

	if durationN > 0 {
		s.AverageDurationMs = float64(durationSum) / float64(durationN)
	}
	return s
}

// Export выгружает события за период в JSON (от старых к новым).
func (l *Logger) Export(start, end time.Time) ([]byte, error) {
	events := l.Query(Filter{StartTime: start, EndTime: end})
	slices.Reverse(events)

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit export: %w", err)
	}
	return data, nil
}

// Len — количество событий в журнале.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func actorName(a Actor) string {
	switch {
	case a.AgentID != "":
		return a.AgentID
	case a.HumanID != "":
		return a.HumanID
	}
	return "system"
}
