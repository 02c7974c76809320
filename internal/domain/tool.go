package domain

import "context"

// ToolCall — уже проверенный вызов, который получает обработчик.
type ToolCall struct {
	Name   string
	Args   map[string]any
	Caller CallerContext
}

// ToolHandler исполняет инструмент. Ошибка *ToolError с известным кодом
// уходит клиенту как есть, остальные нормализуются шлюзом.
type ToolHandler interface {
	Handle(ctx context.Context, call ToolCall) (any, error)
}

type ToolHandlerFunc func(ctx context.Context, call ToolCall) (any, error)

func (f ToolHandlerFunc) Handle(ctx context.Context, call ToolCall) (any, error) {
	return f(ctx, call)
}

// DomainBinding привязывает инструмент к исполнителю домена. Задача и
// действие берутся из args.task и args.action.
type DomainBinding struct {
	DomainID string
}

// Tool — описание инструмента в каталоге шлюза.
type Tool struct {
	Name               string
	Version            string
	Description        string
	MinContractVersion string
	// ArgsSchema — JSON Schema для args; nil — без проверки.
	ArgsSchema map[string]any
	Binding    *DomainBinding
	Handler    ToolHandler
}

// ToolInfo — публичное описание инструмента для /tools и /capabilities.
type ToolInfo struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	Description        string `json:"description"`
	MinContractVersion string `json:"minContractVersion,omitempty"`
}

func (t Tool) Info() ToolInfo {
	return ToolInfo{
		Name:               t.Name,
		Version:            t.Version,
		Description:        t.Description,
		MinContractVersion: t.MinContractVersion,
	}
}

// ActionObservation — одно решение авторизации для монитора аномалий.
type ActionObservation struct {
	AgentID    string
	Tenant     string
	ToolName   string
	Domain     string
	TaskType   string
	Scopes     []string
	Authorized bool
	Code       string
	TraceID    string
}
