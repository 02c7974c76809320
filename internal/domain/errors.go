package domain

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryClient     ErrorCategory = "client"
	CategoryAuth       ErrorCategory = "auth"
	CategoryValidation ErrorCategory = "validation"
	CategoryTool       ErrorCategory = "tool"
	CategoryServer     ErrorCategory = "server"
)

// Коды ошибок реестра и движка авторизации.
const (
	CodeDuplicateExecutor      = "DUPLICATE_EXECUTOR_FOR_DOMAIN"
	CodeMissingRequiredScopes  = "MISSING_REQUIRED_SCOPES"
	CodeInvalidScopeNamespace  = "INVALID_SCOPE_NAMESPACE"
	CodeActionScopeNotAllowed  = "ACTION_SCOPE_NOT_ALLOWED"
	CodeUnknownDomain          = "UNKNOWN_DOMAIN"
	CodeInvalidTask            = "INVALID_TASK"
	CodeUnsupportedTaskType    = "UNSUPPORTED_TASK_TYPE"
	CodeMissingScope           = "MISSING_SCOPE"
	CodeMissingActionScope     = "MISSING_ACTION_SCOPE"
	CodeAgentSuspended         = "AGENT_SUSPENDED"
	CodeInvalidKillSwitchLevel = "INVALID_KILL_SWITCH_LEVEL"
)

// Коды ошибок шлюза инструментов.
const (
	CodeContractVersionMissing   = "CONTRACT_VERSION_MISSING"
	CodeContractVersionMalformed = "CONTRACT_VERSION_MALFORMED"
	CodeContractVersionTooOld    = "CONTRACT_VERSION_TOO_OLD"
	CodeContractVersionTooNew    = "CONTRACT_VERSION_TOO_NEW"
	CodeContractVersionTooLow    = "CONTRACT_VERSION_TOO_LOW"

	CodeTenantNotAllowed  = "TENANT_NOT_ALLOWED"
	CodeInvalidTenant     = "INVALID_TENANT"
	CodeInsufficientScope = "INSUFFICIENT_SCOPE"
	CodeScopeNotGranted   = "SCOPE_NOT_GRANTED"
	CodeForbidden         = "FORBIDDEN"

	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeInvalidArgumentType  = "INVALID_ARGUMENT_TYPE"
	CodeArgumentOutOfRange   = "ARGUMENT_OUT_OF_RANGE"
	CodeInvalidEnumValue     = "INVALID_ENUM_VALUE"
	CodeArgumentTooLong      = "ARGUMENT_TOO_LONG"
	CodeArgumentTooShort     = "ARGUMENT_TOO_SHORT"
	CodeInvalidPattern       = "INVALID_PATTERN"

	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"

	CodeToolNotFound        = "TOOL_NOT_FOUND"
	CodeToolExecutionFailed = "TOOL_EXECUTION_FAILED"
	CodeToolTimeout         = "TOOL_TIMEOUT"

	CodeArtifactNotFound      = "ARTIFACT_NOT_FOUND"
	CodeArtifactAlreadyExists = "ARTIFACT_ALREADY_EXISTS"

	CodeInternal      = "INTERNAL_SERVER_ERROR"
	CodeDatabase      = "DATABASE_ERROR"
	CodeConfiguration = "CONFIGURATION_ERROR"
)

// ErrorSpec — запись каталога ошибок.
type ErrorSpec struct {
	Category   ErrorCategory
	HTTPStatus int
	Retryable  bool
}

var catalog = map[string]ErrorSpec{
	CodeContractVersionMissing:   {CategoryClient, http.StatusBadRequest, false},
	CodeContractVersionMalformed: {CategoryClient, http.StatusBadRequest, false},
	CodeContractVersionTooOld:    {CategoryClient, http.StatusConflict, false},
	CodeContractVersionTooNew:    {CategoryClient, http.StatusConflict, false},
	CodeContractVersionTooLow:    {CategoryClient, http.StatusConflict, false},

	CodeTenantNotAllowed:  {CategoryAuth, http.StatusForbidden, false},
	CodeInvalidTenant:     {CategoryAuth, http.StatusForbidden, false},
	CodeInsufficientScope: {CategoryAuth, http.StatusForbidden, false},
	CodeScopeNotGranted:   {CategoryAuth, http.StatusForbidden, false},
	CodeForbidden:         {CategoryAuth, http.StatusForbidden, false},
	CodeAgentSuspended:    {CategoryAuth, http.StatusForbidden, false},

	CodeUnknownDomain:         {CategoryAuth, http.StatusForbidden, false},
	CodeInvalidTask:           {CategoryAuth, http.StatusForbidden, false},
	CodeUnsupportedTaskType:   {CategoryAuth, http.StatusForbidden, false},
	CodeInvalidScopeNamespace: {CategoryAuth, http.StatusForbidden, false},
	CodeMissingScope:          {CategoryAuth, http.StatusForbidden, false},
	CodeMissingActionScope:    {CategoryAuth, http.StatusForbidden, false},

	CodeMissingRequiredField: {CategoryValidation, http.StatusBadRequest, false},
	CodeInvalidArgumentType:  {CategoryValidation, http.StatusBadRequest, false},
	CodeArgumentOutOfRange:   {CategoryValidation, http.StatusBadRequest, false},
	CodeInvalidEnumValue:     {CategoryValidation, http.StatusBadRequest, false},
	CodeArgumentTooLong:      {CategoryValidation, http.StatusBadRequest, false},
	CodeArgumentTooShort:     {CategoryValidation, http.StatusBadRequest, false},
	CodeInvalidPattern:       {CategoryValidation, http.StatusBadRequest, false},

	CodeBadRequest:             {CategoryClient, http.StatusBadRequest, false},
	CodeNotFound:               {CategoryClient, http.StatusNotFound, false},
	CodeUnauthorized:           {CategoryAuth, http.StatusUnauthorized, false},
	CodeInvalidKillSwitchLevel: {CategoryClient, http.StatusBadRequest, false},

	CodeToolNotFound:        {CategoryTool, http.StatusNotFound, false},
	CodeToolExecutionFailed: {CategoryTool, http.StatusInternalServerError, true},
	CodeToolTimeout:         {CategoryTool, http.StatusGatewayTimeout, true},

	CodeArtifactNotFound:      {CategoryClient, http.StatusNotFound, false},
	CodeArtifactAlreadyExists: {CategoryClient, http.StatusConflict, false},

	CodeDuplicateExecutor:     {CategoryServer, http.StatusInternalServerError, false},
	CodeMissingRequiredScopes: {CategoryServer, http.StatusInternalServerError, false},
	CodeActionScopeNotAllowed: {CategoryServer, http.StatusInternalServerError, false},

	CodeInternal:      {CategoryServer, http.StatusInternalServerError, true},
	CodeDatabase:      {CategoryServer, http.StatusInternalServerError, true},
	CodeConfiguration: {CategoryServer, http.StatusInternalServerError, false},
}

// LookupError возвращает запись каталога по коду.
func LookupError(code string) (ErrorSpec, bool) {
	s, ok := catalog[code]
	return s, ok
}

// DenialError — отказ реестра или движка авторизации.
type DenialError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *DenialError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Deny(code, message string, details map[string]any) *DenialError {
	return &DenialError{Code: code, Message: message, Details: details}
}

// DenialCode достаёт код отказа из цепочки ошибок.
func DenialCode(err error) string {
	var d *DenialError
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}

// ToolError — нормализованная ошибка шлюза: код, категория и HTTP-статус
// всегда взяты из каталога.
type ToolError struct {
	Code       string
	Message    string
	Category   ErrorCategory
	HTTPStatus int
	Retryable  bool
	Details    map[string]any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError собирает ошибку по каталогу. Неизвестный код превращается
// в INTERNAL_SERVER_ERROR, исходный код сохраняется в details.originalCode.
func NewToolError(code, message string, details map[string]any) *ToolError {
	spec, ok := catalog[code]
	if !ok {
		details = withOriginalCode(details, code)
		code = CodeInternal
		spec = catalog[CodeInternal]
	}
	return &ToolError{
		Code:       code,
		Message:    message,
		Category:   spec.Category,
		HTTPStatus: spec.HTTPStatus,
		Retryable:  spec.Retryable,
		Details:    details,
	}
}

// Body — представление ошибки для ответа.
func (e *ToolError) Body() *ErrorBody {
	return &ErrorBody{
		Code:      e.Code,
		Message:   e.Message,
		Category:  e.Category,
		Retryable: e.Retryable,
		Details:   e.Details,
	}
}

// withOriginalCode — копия details с исходным кодом; карту вызывающего не трогаем.
func withOriginalCode(details map[string]any, code string) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["originalCode"] = code
	return out
}

// NormalizeToolError сверяет ToolError с каталогом. У известного кода
// категория, статус и retryable берутся из каталога; неизвестный код
// заменяется на fallback, исходный уходит в details.originalCode.
func NormalizeToolError(te *ToolError, fallback string) *ToolError {
	if spec, ok := catalog[te.Code]; ok {
		if te.Category == spec.Category && te.HTTPStatus == spec.HTTPStatus && te.Retryable == spec.Retryable {
			return te
		}
		return &ToolError{
			Code:       te.Code,
			Message:    te.Message,
			Category:   spec.Category,
			HTTPStatus: spec.HTTPStatus,
			Retryable:  spec.Retryable,
			Details:    te.Details,
		}
	}

	msg := te.Message
	if msg == "" {
		msg = "Tool execution failed"
	}
	return NewToolError(fallback, msg, withOriginalCode(te.Details, te.Code))
}

// AsToolError приводит любую ошибку к ToolError: отказы переносят свой код,
// всё остальное становится INTERNAL_SERVER_ERROR без деталей.
func AsToolError(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return NormalizeToolError(te, CodeInternal)
	}
	var de *DenialError
	if errors.As(err, &de) {
		return NewToolError(de.Code, de.Message, de.Details)
	}
	return NewToolError(CodeInternal, "Internal server error", nil)
}
