package domain

// CallerContext — заявленная личность вызывающего. Не проверяется
// криптографически: значения принимаются как есть.
type CallerContext struct {
	Tenant          string   `json:"tenant"`
	Actor           string   `json:"actor"`
	Purpose         string   `json:"purpose"`
	Classification  string   `json:"classification"`
	TraceID         string   `json:"traceId"`
	ContractVersion string   `json:"contractVersion,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
}

// RequiredCtxFields — поля конверта, без которых запрос не принимается.
var RequiredCtxFields = []string{"tenant", "actor", "purpose", "classification", "traceId"}

// Field возвращает значение обязательного поля по его имени в конверте.
func (c CallerContext) Field(name string) string {
	switch name {
	case "tenant":
		return c.Tenant
	case "actor":
		return c.Actor
	case "purpose":
		return c.Purpose
	case "classification":
		return c.Classification
	case "traceId":
		return c.TraceID
	case "contractVersion":
		return c.ContractVersion
	}
	return ""
}

// ToolRequest — входящий вызов инструмента. Поля не типизированы: конверт
// проверяет шлюз, а не декодер.
type ToolRequest struct {
	Tool any `json:"tool"`
	Args any `json:"args"`
	Ctx  any `json:"ctx"`
}

// ErrorBody — нормализованная ошибка в ответе.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Category  ErrorCategory  `json:"category"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

type ResponseMeta struct {
	TraceID string `json:"traceId,omitempty"`
}

// ToolResponse — единый конверт ответа шлюза.
type ToolResponse struct {
	OK    bool         `json:"ok"`
	Data  any          `json:"data,omitempty"`
	Error *ErrorBody   `json:"error,omitempty"`
	Meta  ResponseMeta `json:"meta"`
}
