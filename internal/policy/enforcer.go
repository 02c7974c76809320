package policy

import (
	"fmt"
	"slices"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// DomainRegistry — источник спецификаций исполнителей.
type DomainRegistry interface {
	Get(domainID string) (domain.ExecutorSpec, bool)
}

// Authorizer — чистая функция решения над реестром доменов.
// Ничего не логирует и не пишет в аудит: это делает вызывающий.
type Authorizer struct {
	registry DomainRegistry
}

func NewAuthorizer(reg DomainRegistry) *Authorizer {
	return &Authorizer{registry: reg}
}

// Authorize проверяет (домен, задача, scope). Порядок проверок фиксирован,
// возвращается первый отказ.
func (a *Authorizer) Authorize(domainID string, task any, scope string) error {
	_, _, err := a.resolve(domainID, task, scope)
	return err
}

// AuthorizeAction дополнительно требует, чтобы scope был разрешён для действия домена.
func (a *Authorizer) AuthorizeAction(domainID string, task any, action, scope string) error {
	spec, _, err := a.resolve(domainID, task, scope)
	if err != nil {
		return err
	}
	if !slices.Contains(spec.DomainActionScopes[action], scope) {
		return domain.Deny(domain.CodeMissingActionScope,
			fmt.Sprintf("scope %s is not granted for action %s", scope, action),
			map[string]any{"domainId": domainID, "action": action, "scope": scope})
	}
	return nil
}

func (a *Authorizer) resolve(domainID string, task any, scope string) (domain.ExecutorSpec, domain.TaskType, error) {
	// 1. Домен
	spec, ok := a.registry.Get(domainID)
	if !ok {
		return spec, "", domain.Deny(domain.CodeUnknownDomain,
			fmt.Sprintf("domain %q is not registered", domainID),
			map[string]any{"domainId": domainID})
	}

	// 2. Задача
	taskType, ok := domain.ParseTaskType(task)
	if !ok {
		return spec, "", domain.Deny(domain.CodeInvalidTask, "task must be a task type or an object with type/task_type", nil)
	}

	// 3. Поддержка типа задачи
	if !spec.Supports(taskType) {
		return spec, taskType, domain.Deny(domain.CodeUnsupportedTaskType,
			fmt.Sprintf("domain %q does not support %s", domainID, taskType),
			map[string]any{"domainId": domainID, "taskType": string(taskType)})
	}

	// 4. Namespace scope (защита от подмены чужим доменом)
	if !domain.HasDomainPrefix(domainID, scope) {
		return spec, taskType, domain.Deny(domain.CodeInvalidScopeNamespace,
			fmt.Sprintf("scope %q is outside namespace %q", scope, domain.ScopePrefix(domainID)),
			map[string]any{"domainId": domainID, "scope": scope})
	}

	// 5. Scope среди требуемых для типа задачи
	if !slices.Contains(spec.RequiredScopes[taskType], scope) {
		return spec, taskType, domain.Deny(domain.CodeMissingScope,
			fmt.Sprintf("scope %s is not required for %s", scope, taskType),
			map[string]any{"domainId": domainID, "taskType": string(taskType), "scope": scope})
	}

	return spec, taskType, nil
}
