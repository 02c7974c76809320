package domain

import (
	"slices"
	"strings"
)

// ExecutorSpec описывает исполнителя домена: какие задачи он принимает
// и какие scopes для них нужны. После регистрации не меняется.
type ExecutorSpec struct {
	DomainID           string                `json:"domain_id"`
	ExecutorID         string                `json:"executor_id"`
	SupportedTaskTypes []TaskType            `json:"supported_task_types"`
	RequiredScopes     map[TaskType][]string `json:"required_scopes"`
	DomainActionScopes map[string][]string   `json:"domain_action_scopes,omitempty"`
}

// ScopePrefix — обязательный префикс всех scopes домена.
func ScopePrefix(domainID string) string {
	return domainID + ":"
}

// HasDomainPrefix проверяет, что scope принадлежит домену.
func HasDomainPrefix(domainID, scope string) bool {
	return strings.HasPrefix(scope, ScopePrefix(domainID))
}

// Supports сообщает, поддерживает ли исполнитель тип задачи.
func (s ExecutorSpec) Supports(t TaskType) bool {
	return slices.Contains(s.SupportedTaskTypes, t)
}

// Clone возвращает глубокую копию, чтобы вызывающий код не мог
// изменить спецификацию, уже лежащую в реестре.
func (s ExecutorSpec) Clone() ExecutorSpec {
	out := ExecutorSpec{
		DomainID:           s.DomainID,
		ExecutorID:         s.ExecutorID,
		SupportedTaskTypes: slices.Clone(s.SupportedTaskTypes),
	}
	if s.RequiredScopes != nil {
		out.RequiredScopes = make(map[TaskType][]string, len(s.RequiredScopes))
		for k, v := range s.RequiredScopes {
			out.RequiredScopes[k] = slices.Clone(v)
		}
	}
	if s.DomainActionScopes != nil {
		out.DomainActionScopes = make(map[string][]string, len(s.DomainActionScopes))
		for k, v := range s.DomainActionScopes {
			out.DomainActionScopes[k] = slices.Clone(v)
		}
	}
	return out
}
