package audit

import "time"

// Filter — конъюнкция условий выборки. Пустое поле не фильтрует.
type Filter struct {
	Tenant     string
	ToolName   string
	EventType  EventType
	AgentID    string
	DomainName string
	Decision   Decision
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

func (f Filter) Match(e AuditEvent) bool {
	if f.Tenant != "" && e.Tenant != f.Tenant {
		return false
	}
	if f.ToolName != "" && e.ToolName != f.ToolName {
		return false
	}
	if f.EventType != "" && e.Type != f.EventType {
		return false
	}
	if f.AgentID != "" && e.Actor.AgentID != f.AgentID {
		return false
	}
	if f.DomainName != "" && e.Target.DomainName != f.DomainName {
		return false
	}
	if f.Decision != "" && e.Decision != f.Decision {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// Stats — агрегаты журнала.
type Stats struct {
	TotalEvents         int     `json:"total_events"`
	SuccessCount        int     `json:"success_count"`
	FailureCount        int     `json:"failure_count"`
	AverageDurationMs   float64 `json:"average_duration_ms"`
	AuthorizationEvents int     `json:"authorization_events"`
	AllowedCount        int     `json:"allowed_count"`
	DeniedCount         int     `json:"denied_count"`
	KillSwitchEvents    int     `json:"killswitch_events"`
}
