package connectors

import (
	"context"

	"github.com/google/uuid"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

const DispatchSchema = "domain-task.dispatch.v1"

// ExecutorLookup — реестр исполнителей доменов.
type ExecutorLookup interface {
	Get(domainID string) (domain.ExecutorSpec, bool)
	ListDomains() []string
}

// TaskTools — по одному инструменту "<domain>.tasks.dispatch" на каждый
// зарегистрированный домен. Шлюз проверяет задачу движком авторизации
// домена до вызова обработчика.
func TaskTools(executors ExecutorLookup) []domain.Tool {
	domains := executors.ListDomains()
	tools := make([]domain.Tool, 0, len(domains))
	for _, d := range domains {
		tools = append(tools, domain.Tool{
			Name:        d + ".tasks.dispatch",
			Version:     toolVersion,
			Description: "Dispatch a task to the " + d + " domain executor.",
			ArgsSchema:  dispatchSchema,
			Binding:     &domain.DomainBinding{DomainID: d},
			Handler:     dispatch(executors, d),
		})
	}
	return tools
}

var dispatchSchema = map[string]any{
	"type":     "object",
	"required": []any{"task"},
	"properties": map[string]any{
		"action":  map[string]any{"type": "string", "minLength": 1},
		"payload": map[string]any{"type": "object"},
	},
}

// dispatch принимает задачу к исполнению и возвращает квитанцию.
func dispatch(executors ExecutorLookup, domainID string) domain.ToolHandler {
	return domain.ToolHandlerFunc(func(ctx context.Context, call domain.ToolCall) (any, error) {
		spec, ok := executors.Get(domainID)
		if !ok {
			return nil, domain.NewToolError(domain.CodeUnknownDomain, "Domain is not registered", map[string]any{"domainId": domainID})
		}
		taskType, _ := domain.ParseTaskType(call.Args["task"])
		action, _ := call.Args["action"].(string)

		return map[string]any{
			"schema":     DispatchSchema,
			"taskId":     uuid.New().String(),
			"domain":     domainID,
			"executorId": spec.ExecutorID,
			"taskType":   string(taskType),
			"action":     action,
			"tenant":     call.Caller.Tenant,
			"status":     "accepted",
		}, nil
	})
}
