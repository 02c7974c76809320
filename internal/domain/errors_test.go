package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolError_UsesCatalog(t *testing.T) {
	e := NewToolError(CodeToolTimeout, "slow handler", nil)

	assert.Equal(t, CodeToolTimeout, e.Code)
	assert.Equal(t, CategoryTool, e.Category)
	assert.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus)
	assert.True(t, e.Retryable)
}

func TestNewToolError_ContractWindowIsConflict(t *testing.T) {
	for _, code := range []string{CodeContractVersionTooOld, CodeContractVersionTooNew, CodeContractVersionTooLow} {
		assert.Equal(t, http.StatusConflict, NewToolError(code, "", nil).HTTPStatus, code)
	}
}

func TestNewToolError_UnknownCodeBecomesInternal(t *testing.T) {
	e := NewToolError("SOMETHING_ODD", "boom", nil)

	assert.Equal(t, CodeInternal, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus)
	assert.Equal(t, "SOMETHING_ODD", e.Details["originalCode"])
}

func TestNewToolError_UnknownCodeLeavesDetailsUntouched(t *testing.T) {
	details := map[string]any{"tool": "chc.artifact_registry.read"}
	e := NewToolError("SOMETHING_ODD", "boom", details)

	assert.Equal(t, map[string]any{"tool": "chc.artifact_registry.read"}, details)
	assert.Equal(t, "SOMETHING_ODD", e.Details["originalCode"])
	assert.Equal(t, "chc.artifact_registry.read", e.Details["tool"])
}

func TestNormalizeToolError(t *testing.T) {
	t.Run("uncatalogued code falls back", func(t *testing.T) {
		e := NormalizeToolError(&ToolError{Code: "LEGACY_TOOL_FAILURE"}, CodeToolExecutionFailed)

		assert.Equal(t, CodeToolExecutionFailed, e.Code)
		assert.Equal(t, CategoryTool, e.Category)
		assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus)
		assert.True(t, e.Retryable)
		assert.Equal(t, "Tool execution failed", e.Message)
		assert.Equal(t, "LEGACY_TOOL_FAILURE", e.Details["originalCode"])
	})

	t.Run("known code takes catalog fields", func(t *testing.T) {
		e := NormalizeToolError(&ToolError{Code: CodeToolTimeout, Message: "slow"}, CodeToolExecutionFailed)

		assert.Equal(t, CodeToolTimeout, e.Code)
		assert.Equal(t, "slow", e.Message)
		assert.Equal(t, http.StatusGatewayTimeout, e.HTTPStatus)
		assert.True(t, e.Retryable)
	})

	t.Run("AsToolError never yields a zero status", func(t *testing.T) {
		e := AsToolError(fmt.Errorf("wrapped: %w", &ToolError{Code: "NOPE", Message: "x"}))

		assert.Equal(t, CodeInternal, e.Code)
		assert.Equal(t, http.StatusInternalServerError, e.HTTPStatus)
	})
}

func TestDenialCode_Unwraps(t *testing.T) {
	err := fmt.Errorf("register: %w", Deny(CodeDuplicateExecutor, "dup", nil))

	assert.Equal(t, CodeDuplicateExecutor, DenialCode(err))
	assert.Empty(t, DenialCode(errors.New("plain")))
}

func TestParseTaskType(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want TaskType
		ok   bool
	}{
		{"bare string", "EXECUTE", TaskExecute, true},
		{"typed", TaskAnalyze, TaskAnalyze, true},
		{"object type", map[string]any{"type": "ESCALATE"}, TaskEscalate, true},
		{"object task_type", map[string]any{"task_type": "ANALYZE"}, TaskAnalyze, true},
		{"descriptor", TaskDescriptor{TaskType: "EXECUTE"}, TaskExecute, true},
		{"lowercase", "execute", "", false},
		{"number", 42, "", false},
		{"nil", nil, "", false},
		{"empty object", map[string]any{}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseTaskType(tc.in)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExecutorSpecClone_IsDeep(t *testing.T) {
	orig := ExecutorSpec{
		DomainID:           "ciag",
		SupportedTaskTypes: []TaskType{TaskExecute},
		RequiredScopes:     map[TaskType][]string{TaskExecute: {"ciag:execute"}},
	}
	cp := orig.Clone()
	cp.RequiredScopes[TaskExecute][0] = "mutated"
	cp.SupportedTaskTypes[0] = TaskAnalyze

	assert.Equal(t, "ciag:execute", orig.RequiredScopes[TaskExecute][0])
	assert.Equal(t, TaskExecute, orig.SupportedTaskTypes[0])
}
