package engine

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/connectors"
	"github.com/xela07ax/sentinel-gateway/internal/contract"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/policy"
	"github.com/xela07ax/sentinel-gateway/internal/registry"
	"github.com/xela07ax/sentinel-gateway/internal/registry/plugins"
	"go.uber.org/zap"
)

var testTenants = []string{"shared", "chc", "ciag", "hospitality"}

var testAllowlist = map[string][]string{
	"shared":      {"shared."},
	"chc":         {"shared.", "chc."},
	"ciag":        {"shared.", "ciag."},
	"hospitality": {"shared.", "hospitality."},
}

type observerStub struct {
	mu  sync.Mutex
	obs []domain.ActionObservation
}

func (o *observerStub) Observe(_ context.Context, obs domain.ActionObservation) {
	o.mu.Lock()
	o.obs = append(o.obs, obs)
	o.mu.Unlock()
}

func (o *observerStub) all() []domain.ActionObservation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.ActionObservation(nil), o.obs...)
}

type harness struct {
	gw       *Gateway
	audit    *audit.Logger
	ksm      *KillSwitchManager
	observer *observerStub
	throttle *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	dir := t.TempDir()
	shared := `{"tenant":"shared","artifacts":[{"id":"doc-1","title":"Onboarding"},{"id":"doc-2","title":"Runbook"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artifacts.shared.json"), []byte(shared), 0o644))
	store := connectors.NewArtifactStore(dir, testTenants, logger)

	reg := registry.New(logger)
	require.NoError(t, reg.Load(plugins.All()...))

	gate, err := contract.NewGate(contract.PhaseComparator{}, "21A.1.0", "21C.1.0")
	require.NoError(t, err)

	perms := append(policy.DefaultPermissions(),
		domain.ToolPermission{ToolName: "shared.test.slow", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: testTenants},
		domain.ToolPermission{ToolName: "shared.test.panic", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: testTenants},
		domain.ToolPermission{ToolName: "shared.test.throttled", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: testTenants},
		domain.ToolPermission{ToolName: "shared.test.restricted", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: []string{"ciag"}},
		domain.ToolPermission{ToolName: "shared.test.legacy", RequiredScopes: []string{"artifacts:read"}, AllowedTenants: testTenants},
	)
	rbac := policy.NewMemoEnforcer(perms, domain.DefaultScopeHierarchy(), nil, nil, nil, logger)

	auditLog := audit.NewLogger(nil, logger)
	ksm := NewKillSwitchManager(nil, nil, logger)

	gw := NewGateway(Options{
		ServiceName:               "sentinel-gateway",
		Tenants:                   testTenants,
		NamespaceAllowlist:        testAllowlist,
		DefaultMinContractVersion: "21A.1.0",
		ToolMinVersions:           map[string]string{"shared.artifact_registry.search": "21C.1.0"},
		Reliability:               ReliabilityConfig{Timeout: 100 * time.Millisecond},
	}, gate, rbac, policy.NewAuthorizer(reg), ksm, auditLog, nil, logger)

	observer := &observerStub{}
	gw.SetMonitor(observer)

	throttle := &atomic.Int32{}
	require.NoError(t, gw.Register(connectors.ArtifactTools(store, testTenants)...))
	require.NoError(t, gw.Register(connectors.TaskTools(reg)...))
	require.NoError(t, gw.Register(
		domain.Tool{Name: "shared.test.slow", Version: "1.0.0", Handler: domain.ToolHandlerFunc(func(ctx context.Context, _ domain.ToolCall) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return "late", nil
			}
		})},
		domain.Tool{Name: "shared.test.panic", Version: "1.0.0", Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) {
			panic("boom")
		})},
		domain.Tool{Name: "shared.test.throttled", Version: "1.0.0", Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) {
			if throttle.Add(1) < 3 {
				return nil, &connectors.ThrottleError{RetryAfter: time.Millisecond, Cause: connectors.ErrRegistryBusy}
			}
			return map[string]any{"attempts": throttle.Load()}, nil
		})},
		domain.Tool{Name: "shared.test.restricted", Version: "1.0.0", Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) {
			return "ok", nil
		})},
		domain.Tool{Name: "shared.test.legacy", Version: "1.0.0", Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) {
			return nil, &domain.ToolError{Code: "LEGACY_TOOL_FAILURE", Message: "upstream said no"}
		})},
	))

	return &harness{gw: gw, audit: auditLog, ksm: ksm, observer: observer, throttle: throttle}
}

// callerCtx — валидный ctx арендатора chc; nil в overrides удаляет поле.
func callerCtx(overrides map[string]any) map[string]any {
	c := map[string]any{
		"tenant":          "chc",
		"actor":           "agent-1",
		"purpose":         "unit-test",
		"classification":  "internal",
		"traceId":         "trace-1",
		"contractVersion": "21B.1.0",
		"scopes":          []any{"artifacts:read", "chc:access"},
	}
	for k, v := range overrides {
		if v == nil {
			delete(c, k)
			continue
		}
		c[k] = v
	}
	return c
}

func request(tool string, args map[string]any, ctx map[string]any) domain.ToolRequest {
	if args == nil {
		args = map[string]any{}
	}
	return domain.ToolRequest{Tool: tool, Args: args, Ctx: ctx}
}

func TestGateway_Success(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("shared.artifact_registry.read", nil, callerCtx(nil)))
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "trace-1", resp.Meta.TraceID)

	reg := resp.Data.(connectors.Registry)
	assert.Equal(t, "shared", reg.Tenant)
	assert.Len(t, reg.Artifacts, 2)

	events := h.audit.Query(audit.Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventExecution, events[0].Type)
	assert.True(t, events[0].Succeeded())
	assert.Equal(t, "agent-1", events[0].Actor.AgentID)
	assert.Equal(t, "trace-1", events[0].TraceID)
}

func TestGateway_UncataloguedHandlerErrorIsNormalized(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("shared.test.legacy", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusInternalServerError, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeToolExecutionFailed, resp.Error.Code)
	assert.Equal(t, domain.CategoryTool, resp.Error.Category)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "LEGACY_TOOL_FAILURE", resp.Error.Details["originalCode"])
	assert.Equal(t, "trace-1", resp.Meta.TraceID)

	events := h.audit.Query(audit.Filter{ToolName: "shared.test.legacy"})
	require.Len(t, events, 1)
	assert.Equal(t, domain.CodeToolExecutionFailed, events[0].Result.ErrorCode)
}

func TestGateway_Envelope(t *testing.T) {
	cases := []struct {
		name    string
		req     domain.ToolRequest
		code    string
		message string
	}{
		{"tool missing", domain.ToolRequest{Args: map[string]any{}, Ctx: callerCtx(nil)}, domain.CodeBadRequest, "Missing tool (string)."},
		{"tool not a string", domain.ToolRequest{Tool: 42.0, Args: map[string]any{}, Ctx: callerCtx(nil)}, domain.CodeBadRequest, "Missing tool (string)."},
		{"args not an object", domain.ToolRequest{Tool: "shared.artifact_registry.read", Args: []any{}, Ctx: callerCtx(nil)}, domain.CodeBadRequest, "Missing args (object)."},
		{"ctx missing", domain.ToolRequest{Tool: "shared.artifact_registry.read", Args: map[string]any{}}, domain.CodeBadRequest, "Missing ctx (object)."},
		{"actor missing", request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"actor": nil})), domain.CodeMissingRequiredField, "Invalid ctx: missing actor"},
		{"purpose blank", request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"purpose": "   "})), domain.CodeMissingRequiredField, "Invalid ctx: missing purpose"},
		{"classification not a string", request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"classification": 1.0})), domain.CodeMissingRequiredField, "Invalid ctx: missing classification"},
		{"unknown tenant", request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"tenant": "mars"})), domain.CodeBadRequest, "Invalid ctx: unknown tenant"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			resp, status := h.gw.Invoke(context.Background(), tc.req)

			assert.Equal(t, http.StatusBadRequest, status)
			assert.False(t, resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, tc.message, resp.Error.Message)
			assert.False(t, resp.Error.Retryable)

			events := h.audit.Query(audit.Filter{Decision: audit.DecisionDenied})
			require.Len(t, events, 1)
			assert.Equal(t, tc.code, events[0].Code)
		})
	}
}

func TestGateway_TraceIDEchoedOnFailure(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.gw.Invoke(context.Background(), request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"actor": nil, "traceId": "t-77"})))
	assert.Equal(t, "t-77", resp.Meta.TraceID)

	// Без traceId в ctx берём идентификатор запроса
	ctx := ContextWithTraceID(context.Background(), "req-9")
	resp, _ = h.gw.Invoke(ctx, request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"traceId": nil})))
	assert.Equal(t, "req-9", resp.Meta.TraceID)
}

func TestGateway_ContractWindow(t *testing.T) {
	cases := []struct {
		version string
		status  int
		code    string
	}{
		{"21A.1.0", http.StatusOK, ""},
		{"21c.1.0", http.StatusOK, ""},
		{"0.0.0", http.StatusConflict, domain.CodeContractVersionTooOld},
		{"99Z.9.9", http.StatusConflict, domain.CodeContractVersionTooNew},
		{"not-a-version", http.StatusBadRequest, domain.CodeContractVersionMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.version, func(t *testing.T) {
			h := newHarness(t)
			resp, status := h.gw.Invoke(context.Background(),
				request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"contractVersion": tc.version})))
			assert.Equal(t, tc.status, status)
			if tc.code != "" {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.code, resp.Error.Code)
				assert.Equal(t, tc.version, resp.Error.Details["got"])
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		h := newHarness(t)
		resp, status := h.gw.Invoke(context.Background(),
			request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"contractVersion": nil})))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, domain.CodeContractVersionMissing, resp.Error.Code)
	})
}

func TestGateway_ToolFloor(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("shared.artifact_registry.search", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeContractVersionTooLow, resp.Error.Code)
	assert.Equal(t, "21C.1.0", resp.Error.Details["toolMin"])
	assert.Equal(t, "21B.1.0", resp.Error.Details["got"])

	resp, status = h.gw.Invoke(context.Background(),
		request("shared.artifact_registry.search", map[string]any{"q": "runbook"}, callerCtx(map[string]any{"contractVersion": "21C.1.0"})))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, resp.Data.(map[string]any)["count"])
}

func TestGateway_NamespaceAllowlist(t *testing.T) {
	h := newHarness(t)

	// Запрет по пространству имён не зависит от существования инструмента
	resp, status := h.gw.Invoke(context.Background(),
		request("chc.secret.read", nil, callerCtx(map[string]any{"tenant": "shared"})))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.CodeForbidden, resp.Error.Code)
	assert.Equal(t, "Tool not allowed for tenant.", resp.Error.Message)
	assert.Equal(t, map[string]any{"tool": "chc.secret.read", "tenant": "shared"}, resp.Error.Details)
	assert.Equal(t, domain.CategoryAuth, resp.Error.Category)

	resp, status = h.gw.Invoke(context.Background(), request("ciag.artifact_registry.read", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.CodeForbidden, resp.Error.Code)
}

func TestGateway_UnknownTool(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("chc.secret.read", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.CodeToolNotFound, resp.Error.Code)
	assert.Equal(t, "Unknown tool", resp.Error.Message)
}

func TestGateway_RBAC(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(),
		request("chc.artifact_registry.read", nil, callerCtx(map[string]any{"scopes": []any{"artifacts:read"}})))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.CodeInsufficientScope, resp.Error.Code)
	assert.Equal(t, []string{"chc:access"}, resp.Error.Details["missingScopes"])

	resp, status = h.gw.Invoke(context.Background(), request("shared.test.restricted", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.CodeTenantNotAllowed, resp.Error.Code)
	assert.Equal(t, "Tenant 'chc' not allowed for tool 'shared.test.restricted'", resp.Error.Message)

	// artifacts:write даёт artifacts:read
	_, status = h.gw.Invoke(context.Background(),
		request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"scopes": []any{"artifacts:write"}})))
	assert.Equal(t, http.StatusOK, status)

	// Scopes из заголовка объединяются с ctx.scopes
	ctx := ContextWithScopes(context.Background(), []string{"chc:access"})
	_, status = h.gw.Invoke(ctx,
		request("chc.artifact_registry.read", nil, callerCtx(map[string]any{"scopes": []any{"artifacts:read"}})))
	assert.Equal(t, http.StatusOK, status)

	obs := h.observer.all()
	require.NotEmpty(t, obs)
	assert.False(t, obs[0].Authorized)
	assert.Equal(t, domain.CodeInsufficientScope, obs[0].Code)
	assert.Equal(t, "chc", obs[0].Domain)
}

func TestGateway_KillSwitch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("shared.artifact_registry.read", nil, callerCtx(nil))

	_, err := h.ksm.Activate(ctx, domain.LevelAgent, "agent-1", "rogue", "ops")
	require.NoError(t, err)
	resp, status := h.gw.Invoke(ctx, req)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, domain.CodeAgentSuspended, resp.Error.Code)
	assert.Equal(t, "Agent 'agent-1' suspended: rogue", resp.Error.Message)

	_, err = h.ksm.Activate(ctx, domain.LevelDomain, "chc", "maintenance", "ops")
	require.NoError(t, err)
	resp, _ = h.gw.Invoke(ctx, req)
	assert.Equal(t, "Domain 'chc' suspended: maintenance", resp.Error.Message)

	_, err = h.ksm.Activate(ctx, domain.LevelGlobal, "", "incident", "ops")
	require.NoError(t, err)
	resp, _ = h.gw.Invoke(ctx, req)
	assert.Equal(t, "Global kill switch active: incident", resp.Error.Message)
	assert.Equal(t, "global", resp.Error.Details["level"])

	events := h.audit.Query(audit.Filter{Decision: audit.DecisionSuspended})
	assert.Len(t, events, 3)

	_, _, _ = h.ksm.Deactivate(ctx, domain.LevelGlobal, "", "ops")
	_, _, _ = h.ksm.Deactivate(ctx, domain.LevelDomain, "chc", "ops")
	_, _, _ = h.ksm.Deactivate(ctx, domain.LevelAgent, "agent-1", "ops")
	_, status = h.gw.Invoke(ctx, req)
	assert.Equal(t, http.StatusOK, status)
}

func TestGateway_DomainBinding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	scopes := callerCtx(map[string]any{"scopes": []any{"chc:access", "chc:analyze"}})

	resp, status := h.gw.Invoke(ctx, request("chc.tasks.dispatch",
		map[string]any{"task": map[string]any{"type": "ANALYZE"}, "action": "CASE_REVIEW"}, scopes))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "chc-executor", resp.Data.(map[string]any)["executorId"])

	cases := []struct {
		name string
		args map[string]any
		code string
	}{
		{"task missing", map[string]any{}, domain.CodeInvalidTask},
		{"unsupported task", map[string]any{"task": "EXECUTE"}, domain.CodeUnsupportedTaskType},
		{"scope not required for task", map[string]any{"task": "ESCALATE"}, domain.CodeMissingScope},
		{"action not granted", map[string]any{"task": "ANALYZE", "action": "PURGE"}, domain.CodeMissingActionScope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, status := h.gw.Invoke(ctx, request("chc.tasks.dispatch", tc.args, scopes))
			assert.Equal(t, http.StatusForbidden, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}

	events := h.audit.Query(audit.Filter{DomainName: "chc", Decision: audit.DecisionDenied})
	assert.Len(t, events, 4)
}

func TestGateway_ArgsValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		tool string
		args map[string]any
		code string
	}{
		{"required", "shared.artifact_registry.readById", map[string]any{}, domain.CodeMissingRequiredField},
		{"type", "shared.artifact_registry.readById", map[string]any{"id": 5.0}, domain.CodeInvalidArgumentType},
		{"too short", "shared.artifact_registry.readById", map[string]any{"id": ""}, domain.CodeArgumentTooShort},
		{"too long", "shared.artifact_registry.readById", map[string]any{"id": strings.Repeat("x", 256)}, domain.CodeArgumentTooLong},
		{"pattern", "shared.artifact_registry.write", map[string]any{"id": "!bad", "content": "c"}, domain.CodeInvalidPattern},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, status := h.gw.Invoke(ctx, request(tc.tool, tc.args, callerCtx(map[string]any{"scopes": []any{"artifacts:write"}})))
			assert.Equal(t, http.StatusBadRequest, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Equal(t, domain.CategoryValidation, resp.Error.Category)
		})
	}

	resp, status := h.gw.Invoke(ctx, request("shared.artifact_registry.readById", map[string]any{}, callerCtx(nil)))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "id", resp.Error.Details["field"])
}

func TestGateway_Timeout(t *testing.T) {
	h := newHarness(t)

	start := time.Now()
	resp, status := h.gw.Invoke(context.Background(), request("shared.test.slow", nil, callerCtx(nil)))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, domain.CodeToolTimeout, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	events := h.audit.Query(audit.Filter{EventType: audit.EventExecution})
	require.Len(t, events, 1)
	assert.Equal(t, "TIMEOUT", events[0].Result.Status)
}

func TestGateway_Cancelled(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, _ = h.gw.Invoke(ctx, request("shared.test.slow", nil, callerCtx(nil)))

	events := h.audit.Query(audit.Filter{EventType: audit.EventExecution})
	require.Len(t, events, 1)
	assert.Equal(t, "CANCELLED", events[0].Result.Status)
	assert.False(t, events[0].Succeeded())
}

func TestGateway_PanicDoesNotBreakGateway(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("shared.test.panic", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, domain.CodeToolExecutionFailed, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "boom")

	_, status = h.gw.Invoke(context.Background(), request("shared.artifact_registry.read", nil, callerCtx(nil)))
	assert.Equal(t, http.StatusOK, status)
}

func TestGateway_ThrottleIsRetried(t *testing.T) {
	h := newHarness(t)

	resp, status := h.gw.Invoke(context.Background(), request("shared.test.throttled", nil, callerCtx(nil)))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, h.throttle.Load())
	assert.True(t, resp.OK)
}

func TestGateway_HandlerToolErrorPassesThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := callerCtx(map[string]any{"scopes": []any{"artifacts:write"}})
	args := map[string]any{"id": "doc-9", "content": "hello"}

	_, status := h.gw.Invoke(ctx, request("shared.artifact_registry.write", args, c))
	require.Equal(t, http.StatusOK, status)

	resp, status := h.gw.Invoke(ctx, request("shared.artifact_registry.write", args, c))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, domain.CodeArtifactAlreadyExists, resp.Error.Code)
}

func TestGateway_EveryOutcomeAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.gw.Invoke(ctx, request("shared.artifact_registry.read", nil, callerCtx(nil)))
	h.gw.Invoke(ctx, request("chc.secret.read", nil, callerCtx(map[string]any{"tenant": "shared"})))
	h.gw.Invoke(ctx, request("shared.artifact_registry.read", nil, callerCtx(map[string]any{"contractVersion": "0.0.0"})))
	h.gw.Invoke(ctx, request("shared.test.panic", nil, callerCtx(nil)))

	events := h.audit.Query(audit.Filter{})
	require.Len(t, events, 4)
	ids := map[string]struct{}{}
	for _, e := range events {
		ids[e.ID] = struct{}{}
	}
	assert.Len(t, ids, 4)

	stats := h.audit.Stats(audit.Filter{})
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 2, stats.DeniedCount)
}

func TestGateway_Catalog(t *testing.T) {
	h := newHarness(t)

	tools := h.gw.Tools()
	require.NotEmpty(t, tools)
	for i := 1; i < len(tools); i++ {
		assert.Less(t, tools[i-1].Name, tools[i].Name)
	}

	caps := h.gw.Capabilities()
	assert.Equal(t, "mcp.capabilities.v1", caps.Schema)
	assert.Equal(t, "21C.1.0", caps.ContractVersion)
	assert.Equal(t, "21A.1.0", caps.MinSupportedContractVersion)
	assert.Equal(t, []string{"tenant", "actor", "purpose", "classification", "traceId"}, caps.RequiredCtxFields)
	assert.Equal(t, testAllowlist, caps.NamespaceAllowlistByTenant)

	err := h.gw.Register(domain.Tool{Name: "shared.test.slow", Handler: domain.ToolHandlerFunc(nil)})
	assert.Error(t, err)
	err = h.gw.Register(domain.Tool{Name: "shared.x", MinContractVersion: "v1", Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) { return nil, nil })})
	assert.Error(t, err)
	err = h.gw.Register(domain.Tool{Name: "shared.y", ArgsSchema: map[string]any{"type": 12}, Handler: domain.ToolHandlerFunc(func(context.Context, domain.ToolCall) (any, error) { return nil, nil })})
	assert.Error(t, err)
}
