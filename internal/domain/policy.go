package domain

// ToolPermission — правило доступа к инструменту. Ключ — полное имя
// инструмента "<namespace>.<resource>.<verb>".
type ToolPermission struct {
	ToolName       string   `json:"tool_name,omitempty" mapstructure:"tool_name"`
	RequiredScopes []string `json:"required_scopes" mapstructure:"required_scopes"`
	AllowedTenants []string `json:"allowed_tenants" mapstructure:"allowed_tenants"`
	Description    string   `json:"description" mapstructure:"description"`
}

// ScopeHierarchy — плоская карта импликаций: scope -> scopes, которые он даёт.
// Раскрывается ровно на один уровень.
type ScopeHierarchy map[string][]string

// DefaultScopeHierarchy — иерархия по умолчанию.
func DefaultScopeHierarchy() ScopeHierarchy {
	return ScopeHierarchy{
		"artifacts:write": {"artifacts:read"},
		"admin:all":       {"artifacts:write", "artifacts:read"},
	}
}

// RBACResult — решение RBAC по одному вызову.
type RBACResult struct {
	Authorized    bool     `json:"authorized"`
	Reason        string   `json:"reason,omitempty"`
	Code          string   `json:"code,omitempty"`
	MissingScopes []string `json:"missing_scopes,omitempty"`
}
