package registry

import (
	"fmt"
	"slices"
	"sort"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// ValidateRequiredScopes — у каждого поддерживаемого типа задачи должен быть
// хотя бы один scope.
func ValidateRequiredScopes(spec domain.ExecutorSpec) error {
	for _, t := range spec.SupportedTaskTypes {
		if len(spec.RequiredScopes[t]) == 0 {
			return domain.Deny(domain.CodeMissingRequiredScopes,
				fmt.Sprintf("domain %q: task type %s has no required scopes", spec.DomainID, t),
				map[string]any{"domainId": spec.DomainID, "taskType": string(t)})
		}
	}
	return nil
}

// ValidateScopeNamespaces — все scopes спецификации обязаны начинаться с "<domain>:".
func ValidateScopeNamespaces(spec domain.ExecutorSpec) error {
	var bad []string
	for _, t := range sortedTaskTypes(spec.RequiredScopes) {
		for _, s := range spec.RequiredScopes[t] {
			if !domain.HasDomainPrefix(spec.DomainID, s) {
				bad = append(bad, s)
			}
		}
	}
	for _, action := range sortedKeys(spec.DomainActionScopes) {
		for _, s := range spec.DomainActionScopes[action] {
			if !domain.HasDomainPrefix(spec.DomainID, s) {
				bad = append(bad, s)
			}
		}
	}
	if len(bad) > 0 {
		return domain.Deny(domain.CodeInvalidScopeNamespace,
			fmt.Sprintf("domain %q: scopes outside namespace %q", spec.DomainID, domain.ScopePrefix(spec.DomainID)),
			map[string]any{"domainId": spec.DomainID, "scopes": bad})
	}
	return nil
}

// ValidateActionScopesSubset — scopes действий не могут выходить за объединение
// required scopes поддерживаемых типов задач.
func ValidateActionScopesSubset(spec domain.ExecutorSpec) error {
	allowed := make(map[string]struct{})
	for _, t := range spec.SupportedTaskTypes {
		for _, s := range spec.RequiredScopes[t] {
			allowed[s] = struct{}{}
		}
	}

	for _, action := range sortedKeys(spec.DomainActionScopes) {
		for _, s := range spec.DomainActionScopes[action] {
			if _, ok := allowed[s]; !ok {
				return domain.Deny(domain.CodeActionScopeNotAllowed,
					fmt.Sprintf("domain %q: action %s uses scope %s not granted to any task type", spec.DomainID, action, s),
					map[string]any{"domainId": spec.DomainID, "action": action, "scope": s})
			}
		}
	}
	return nil
}

// Validate прогоняет все инварианты спецификации по порядку.
func Validate(spec domain.ExecutorSpec) error {
	if err := ValidateRequiredScopes(spec); err != nil {
		return err
	}
	if err := ValidateScopeNamespaces(spec); err != nil {
		return err
	}
	return ValidateActionScopesSubset(spec)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTaskTypes(m map[domain.TaskType][]string) []domain.TaskType {
	keys := make([]domain.TaskType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
