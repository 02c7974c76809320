package audit

import "time"

type EventType string

const (
	EventAuthorization EventType = "authorization"
	EventExecution     EventType = "execution"
	EventKillSwitch    EventType = "killswitch"
	EventPolicyChange  EventType = "policy_change"
)

type Decision string

const (
	DecisionAllowed   Decision = "allowed"
	DecisionDenied    Decision = "denied"
	DecisionSuspended Decision = "suspended"
)

// Actor — кто действовал: агент и (опционально) человек за ним.
type Actor struct {
	AgentID string `json:"agent_id,omitempty"`
	HumanID string `json:"human_id,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Target — над чем действовали.
type Target struct {
	DomainName string `json:"domain_name,omitempty"`
	TaskType   string `json:"task_type,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// ExecutionResult — итог вызова обработчика.
type ExecutionResult struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"` // SUCCESS, FAILED, TIMEOUT, CANCELLED
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// KillSwitchChange — полезная нагрузка события killswitch.
type KillSwitchChange struct {
	Action   string `json:"action"` // activate | deactivate
	Level    string `json:"level"`
	TargetID string `json:"target_id"`
}

// PolicyChange — полезная нагрузка события policy_change.
type PolicyChange struct {
	Source      string `json:"source"`
	Permissions int    `json:"permissions"`
}

// AuditEvent — неизменяемая запись журнала. ID и Timestamp проставляет Logger.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	Tenant   string `json:"tenant,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`

	Actor    Actor    `json:"actor"`
	Target   Target   `json:"target"`
	Decision Decision `json:"decision,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Code     string   `json:"code,omitempty"`

	Args       map[string]any   `json:"args,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Scopes     []string         `json:"scopes,omitempty"`
	Authorized bool             `json:"authorized"`

	KillSwitch   *KillSwitchChange `json:"killswitch,omitempty"`
	PolicyChange *PolicyChange     `json:"policy_change,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// Succeeded — событие исполнения с успешным результатом.
func (e AuditEvent) Succeeded() bool {
	return e.Result != nil && e.Result.Success
}

// Clone — глубокая копия события: журнал не делит с вызывающим ни карты,
// ни срезы, ни указатели.
func (e AuditEvent) Clone() AuditEvent {
	e.Args = cloneMap(e.Args)
	e.Metadata = cloneMap(e.Metadata)
	if e.Scopes != nil {
		e.Scopes = append([]string(nil), e.Scopes...)
	}
	if e.Result != nil {
		r := *e.Result
		e.Result = &r
	}
	if e.KillSwitch != nil {
		k := *e.KillSwitch
		e.KillSwitch = &k
	}
	if e.PolicyChange != nil {
		p := *e.PolicyChange
		e.PolicyChange = &p
	}
	return e
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	}
	return v
}
