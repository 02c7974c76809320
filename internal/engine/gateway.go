package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/contract"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RBACAuthorizer — таблица прав инструментов (policy.MemoEnforcer).
type RBACAuthorizer interface {
	Authorize(caller domain.CallerContext, toolName string) domain.RBACResult
}

// DomainAuthorizer — движок авторизации доменов (policy.Authorizer).
type DomainAuthorizer interface {
	Authorize(domainID string, task any, scope string) error
	AuthorizeAction(domainID string, task any, action, scope string) error
}

// AgentChecker — проверка рубильников для агента.
type AgentChecker interface {
	CheckAgent(agentID, domainID string) domain.CheckResult
}

type Auditor interface {
	Log(event audit.AuditEvent) audit.AuditEvent
}

// AnomalyObserver получает каждое решение авторизации.
type AnomalyObserver interface {
	Observe(ctx context.Context, obs domain.ActionObservation)
}

// Options — статическая конфигурация шлюза.
type Options struct {
	ServiceName        string
	Tenants            []string
	NamespaceAllowlist map[string][]string
	// Порог версии для инструментов без своего значения
	DefaultMinContractVersion string
	// Переопределения порога по имени инструмента
	ToolMinVersions map[string]string
	Reliability     ReliabilityConfig
}

type registeredTool struct {
	tool      domain.Tool
	handler   domain.ToolHandler
	validator *ArgsValidator
}

// Gateway — точка входа для вызова инструментов. Проверки идут строго по
// порядку, первый отказ завершает вызов; каждый исход попадает в аудит до
// того, как ответ уходит клиенту.
type Gateway struct {
	opts    Options
	gate    *contract.Gate
	rbac    RBACAuthorizer
	authz   DomainAuthorizer
	ks      AgentChecker
	auditor Auditor
	monitor AnomalyObserver
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

func NewGateway(opts Options, gate *contract.Gate, rbac RBACAuthorizer, authz DomainAuthorizer, ks AgentChecker, auditor Auditor, metrics *Metrics, logger *zap.Logger) *Gateway {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gateway{
		opts:    opts,
		gate:    gate,
		rbac:    rbac,
		authz:   authz,
		ks:      ks,
		auditor: auditor,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/xela07ax/sentinel-gateway/internal/engine"),
		logger:  logger.Named("gateway"),
		tools:   make(map[string]*registeredTool),
	}
}

// SetMonitor подключает монитор аномалий. Вызывается до старта трафика.
func (g *Gateway) SetMonitor(m AnomalyObserver) {
	g.monitor = m
}

// Register добавляет инструменты в каталог. Порог версии и схема args
// проверяются здесь, а не на первом вызове.
func (g *Gateway) Register(tools ...domain.Tool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("register tool %q: name and handler are required", t.Name)
		}
		if _, exists := g.tools[t.Name]; exists {
			return fmt.Errorf("register tool %q: already registered", t.Name)
		}

		if v, ok := g.opts.ToolMinVersions[t.Name]; ok && v != "" {
			t.MinContractVersion = v
		}
		if t.MinContractVersion == "" {
			t.MinContractVersion = g.opts.DefaultMinContractVersion
		}
		if t.MinContractVersion != "" {
			if err := g.gate.Validate(t.MinContractVersion); err != nil {
				return fmt.Errorf("register tool %q: %w", t.Name, err)
			}
		}

		validator, err := NewArgsValidator(t.ArgsSchema)
		if err != nil {
			return fmt.Errorf("register tool %q: %w", t.Name, err)
		}

		g.tools[t.Name] = &registeredTool{
			tool:      t,
			handler:   NewReliabilityWrapper(t.Name, t.Handler, g.opts.Reliability, g.metrics, g.logger),
			validator: validator,
		}
	}
	return nil
}

func (g *Gateway) lookup(name string) (*registeredTool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rt, ok := g.tools[name]
	return rt, ok
}

// Tools — каталог инструментов, отсортированный по имени.
func (g *Gateway) Tools() []domain.ToolInfo {
	g.mu.RLock()
	out := make([]domain.ToolInfo, 0, len(g.tools))
	for _, rt := range g.tools {
		out = append(out, rt.tool.Info())
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Capabilities — ответ /capabilities.
type Capabilities struct {
	OK                          bool                `json:"ok"`
	Schema                      string              `json:"schema"`
	ContractVersion             string              `json:"contractVersion"`
	MinSupportedContractVersion string              `json:"minSupportedContractVersion"`
	RequiredCtxFields           []string            `json:"requiredCtxFields"`
	Tenants                     []string            `json:"tenants"`
	NamespaceAllowlistByTenant  map[string][]string `json:"namespaceAllowlistByTenant"`
	Tools                       []domain.ToolInfo   `json:"tools"`
}

func (g *Gateway) Capabilities() Capabilities {
	return Capabilities{
		OK:                          true,
		Schema:                      "mcp.capabilities.v1",
		ContractVersion:             g.gate.Current(),
		MinSupportedContractVersion: g.gate.Min(),
		RequiredCtxFields:           domain.RequiredCtxFields,
		Tenants:                     g.opts.Tenants,
		NamespaceAllowlistByTenant:  g.opts.NamespaceAllowlist,
		Tools:                       g.Tools(),
	}
}

// ServiceName — имя сервиса для /health.
func (g *Gateway) ServiceName() string {
	return g.opts.ServiceName
}

// invocation — состояние одного вызова для аудита и метрик.
type invocation struct {
	start    time.Time
	toolName string
	label    string
	caller   domain.CallerContext
	traceID  string
	domainID string
	taskType string
	args     map[string]any
}

// Invoke проводит вызов через все проверки и возвращает конверт ответа
// вместе с HTTP-статусом.
func (g *Gateway) Invoke(ctx context.Context, req domain.ToolRequest) (domain.ToolResponse, int) {
	inv := &invocation{start: time.Now(), label: "unknown", traceID: TraceIDFromContext(ctx)}

	ctx, span := g.tracer.Start(ctx, "gateway.invoke")
	defer span.End()

	// 1. Конверт
	toolName, args, caller, terr := g.parseEnvelope(ctx, req)
	inv.toolName, inv.args, inv.caller = toolName, args, caller
	if caller.TraceID != "" {
		inv.traceID = caller.TraceID
	}
	span.SetAttributes(
		attribute.String("sentinel.tool", toolName),
		attribute.String("sentinel.tenant", caller.Tenant),
		attribute.String("sentinel.trace_id", inv.traceID),
	)
	if terr != nil {
		return g.deny(ctx, span, inv, terr)
	}

	rt, known := g.lookup(toolName)
	if known {
		inv.label = toolName
	}
	g.metrics.TotalRequests.WithLabelValues(inv.label, caller.Tenant).Inc()

	// 2. Окно версий контракта
	if err := g.gate.CheckWindow(caller.ContractVersion); err != nil {
		return g.deny(ctx, span, inv, domain.AsToolError(err))
	}

	// 3. Пространства имён арендатора
	if !g.toolAllowed(toolName, caller.Tenant) {
		return g.deny(ctx, span, inv, domain.NewToolError(domain.CodeForbidden, "Tool not allowed for tenant.",
			map[string]any{"tool": toolName, "tenant": caller.Tenant}))
	}

	// 4. Каталог и порог версии инструмента
	if !known {
		return g.deny(ctx, span, inv, domain.NewToolError(domain.CodeToolNotFound, "Unknown tool",
			map[string]any{"tool": toolName}))
	}
	if err := g.gate.CheckToolFloor(caller.ContractVersion, rt.tool.MinContractVersion, toolName); err != nil {
		return g.deny(ctx, span, inv, domain.AsToolError(err))
	}

	inv.domainID = caller.Tenant
	if rt.tool.Binding != nil {
		inv.domainID = rt.tool.Binding.DomainID
		if tt, ok := domain.ParseTaskType(args["task"]); ok {
			inv.taskType = string(tt)
		}
	}

	// 5. RBAC
	if res := g.rbac.Authorize(caller, toolName); !res.Authorized {
		g.observe(ctx, inv, false, res.Code)
		details := map[string]any{"tool": toolName, "tenant": caller.Tenant}
		if len(res.MissingScopes) > 0 {
			details["missingScopes"] = res.MissingScopes
		}
		return g.deny(ctx, span, inv, domain.NewToolError(res.Code, res.Reason, details))
	}

	// 5b. Рубильники: global > domain > agent
	if chk := g.ks.CheckAgent(caller.Actor, inv.domainID); !chk.Success {
		details := map[string]any{"agentId": caller.Actor}
		if chk.State != nil {
			details["level"] = string(chk.State.Level)
			details["target"] = chk.State.TargetID
		}
		return g.deny(ctx, span, inv, domain.NewToolError(domain.CodeAgentSuspended, chk.Message, details))
	}

	// 5c. Движок авторизации домена
	if rt.tool.Binding != nil {
		if err := g.authorizeBinding(rt.tool.Binding, args, caller.Scopes); err != nil {
			te := domain.AsToolError(err)
			g.observe(ctx, inv, false, te.Code)
			return g.deny(ctx, span, inv, te)
		}
	}
	g.observe(ctx, inv, true, "")

	// 5d. Схема args
	if err := rt.validator.Validate(args); err != nil {
		return g.deny(ctx, span, inv, domain.AsToolError(err))
	}

	// 6. Обработчик
	return g.execute(ctx, span, inv, rt)
}

func (g *Gateway) execute(ctx context.Context, span trace.Span, inv *invocation, rt *registeredTool) (domain.ToolResponse, int) {
	data, err := rt.handler.Handle(ctx, domain.ToolCall{Name: inv.toolName, Args: inv.args, Caller: inv.caller})

	result := &audit.ExecutionResult{Success: err == nil, Status: "SUCCESS"}
	var te *domain.ToolError
	if err != nil {
		te = domain.AsToolError(err)
		result.ErrorCode = te.Code
		result.ErrorMessage = te.Message
		switch {
		case ctx.Err() != nil:
			result.Status = "CANCELLED"
		case te.Code == domain.CodeToolTimeout:
			result.Status = "TIMEOUT"
		default:
			result.Status = "FAILED"
		}
	}

	// Аудит пишется и для брошенного клиентом вызова
	g.auditor.Log(audit.AuditEvent{
		Type:       audit.EventExecution,
		Tenant:     inv.caller.Tenant,
		ToolName:   inv.toolName,
		TraceID:    inv.traceID,
		Actor:      audit.Actor{AgentID: inv.caller.Actor},
		Target:     audit.Target{DomainName: inv.domainID, TaskType: inv.taskType},
		Decision:   audit.DecisionAllowed,
		Args:       inv.args,
		Result:     result,
		DurationMs: time.Since(inv.start).Milliseconds(),
		Scopes:     inv.caller.Scopes,
		Authorized: true,
		Metadata:   g.callMetadata(inv),
	})

	if te != nil {
		g.metrics.DenialTotal.WithLabelValues(te.Code).Inc()
		g.metrics.RequestDuration.WithLabelValues(inv.label, te.Code).Observe(time.Since(inv.start).Seconds())
		span.SetStatus(otelcodes.Error, te.Code)
		g.logger.Warn("tool execution failed",
			zap.String("tool", inv.toolName),
			zap.String("code", te.Code),
			zap.String("status", result.Status),
			zap.String("trace_id", inv.traceID),
		)
		return domain.ToolResponse{Error: te.Body(), Meta: domain.ResponseMeta{TraceID: inv.traceID}}, te.HTTPStatus
	}

	g.metrics.RequestDuration.WithLabelValues(inv.label, "ok").Observe(time.Since(inv.start).Seconds())
	span.SetStatus(otelcodes.Ok, "")
	return domain.ToolResponse{OK: true, Data: data, Meta: domain.ResponseMeta{TraceID: inv.traceID}}, http.StatusOK
}

// deny пишет отказ в аудит и только потом собирает ответ.
func (g *Gateway) deny(ctx context.Context, span trace.Span, inv *invocation, te *domain.ToolError) (domain.ToolResponse, int) {
	decision := audit.DecisionDenied
	if te.Code == domain.CodeAgentSuspended {
		decision = audit.DecisionSuspended
	}

	g.auditor.Log(audit.AuditEvent{
		Type:       audit.EventAuthorization,
		Tenant:     inv.caller.Tenant,
		ToolName:   inv.toolName,
		TraceID:    inv.traceID,
		Actor:      audit.Actor{AgentID: inv.caller.Actor},
		Target:     audit.Target{DomainName: inv.domainID, TaskType: inv.taskType},
		Decision:   decision,
		Reason:     te.Message,
		Code:       te.Code,
		DurationMs: time.Since(inv.start).Milliseconds(),
		Scopes:     inv.caller.Scopes,
		Metadata:   g.callMetadata(inv),
	})

	g.metrics.DenialTotal.WithLabelValues(te.Code).Inc()
	g.metrics.RequestDuration.WithLabelValues(inv.label, te.Code).Observe(time.Since(inv.start).Seconds())
	span.SetStatus(otelcodes.Error, te.Code)

	g.logger.Info("tool call denied",
		zap.String("tool", inv.toolName),
		zap.String("tenant", inv.caller.Tenant),
		zap.String("actor", inv.caller.Actor),
		zap.String("code", te.Code),
		zap.String("trace_id", inv.traceID),
	)

	return domain.ToolResponse{Error: te.Body(), Meta: domain.ResponseMeta{TraceID: inv.traceID}}, te.HTTPStatus
}

func (g *Gateway) callMetadata(inv *invocation) map[string]any {
	md := map[string]any{}
	if inv.caller.Purpose != "" {
		md["purpose"] = inv.caller.Purpose
	}
	if inv.caller.Classification != "" {
		md["classification"] = inv.caller.Classification
	}
	if inv.caller.ContractVersion != "" {
		md["contractVersion"] = inv.caller.ContractVersion
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

func (g *Gateway) observe(ctx context.Context, inv *invocation, authorized bool, code string) {
	if g.monitor == nil {
		return
	}
	g.monitor.Observe(ctx, domain.ActionObservation{
		AgentID:    inv.caller.Actor,
		Tenant:     inv.caller.Tenant,
		ToolName:   inv.toolName,
		Domain:     inv.domainID,
		TaskType:   inv.taskType,
		Scopes:     inv.caller.Scopes,
		Authorized: authorized,
		Code:       code,
		TraceID:    inv.traceID,
	})
}

func (g *Gateway) toolAllowed(tool, tenant string) bool {
	for _, prefix := range g.opts.NamespaceAllowlist[tenant] {
		if strings.HasPrefix(tool, prefix) {
			return true
		}
	}
	return false
}

// authorizeBinding предъявляет движку домена scopes вызывающего. Достаточно
// одного подходящего. Если scopes из пространства домена нет, предъявляются
// все, и отказ покажет чужое пространство.
func (g *Gateway) authorizeBinding(b *domain.DomainBinding, args map[string]any, scopes []string) error {
	task := args["task"]
	action, _ := args["action"].(string)

	candidates := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if domain.HasDomainPrefix(b.DomainID, s) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		candidates = scopes
	}
	if len(candidates) == 0 {
		candidates = []string{""}
	}

	// Возвращаем отказ кандидата, прошедшего дальше остальных
	var best error
	bestRank := -1
	for _, s := range candidates {
		var err error
		if action != "" {
			err = g.authz.AuthorizeAction(b.DomainID, task, action, s)
		} else {
			err = g.authz.Authorize(b.DomainID, task, s)
		}
		if err == nil {
			return nil
		}
		if r := slices.Index(bindingDenialOrder, domain.DenialCode(err)); r > bestRank {
			best, bestRank = err, r
		} else if best == nil {
			best = err
		}
	}
	return best
}

// bindingDenialOrder — коды движка домена в порядке проверок.
var bindingDenialOrder = []string{
	domain.CodeUnknownDomain,
	domain.CodeInvalidTask,
	domain.CodeUnsupportedTaskType,
	domain.CodeInvalidScopeNamespace,
	domain.CodeMissingScope,
	domain.CodeMissingActionScope,
}

// parseEnvelope проверяет tool, args и ctx. CallerContext заполняется
// настолько, насколько удалось, чтобы traceId попал в ответ и аудит.
func (g *Gateway) parseEnvelope(ctx context.Context, req domain.ToolRequest) (string, map[string]any, domain.CallerContext, *domain.ToolError) {
	var caller domain.CallerContext

	rawCtx, ctxOK := req.Ctx.(map[string]any)
	if ctxOK {
		caller.TraceID = ctxString(rawCtx, "traceId")
		caller.Tenant = ctxString(rawCtx, "tenant")
		caller.Actor = ctxString(rawCtx, "actor")
		caller.Purpose = ctxString(rawCtx, "purpose")
		caller.Classification = ctxString(rawCtx, "classification")
		if v, ok := rawCtx["contractVersion"]; ok && v != nil {
			if s, isStr := v.(string); isStr {
				caller.ContractVersion = s
			} else {
				caller.ContractVersion = fmt.Sprint(v)
			}
		}
	}

	tool, ok := req.Tool.(string)
	if !ok || strings.TrimSpace(tool) == "" {
		return "", nil, caller, domain.NewToolError(domain.CodeBadRequest, "Missing tool (string).", nil)
	}
	args, ok := req.Args.(map[string]any)
	if !ok {
		return tool, nil, caller, domain.NewToolError(domain.CodeBadRequest, "Missing args (object).", nil)
	}
	if !ctxOK {
		return tool, args, caller, domain.NewToolError(domain.CodeBadRequest, "Missing ctx (object).", nil)
	}

	for _, k := range domain.RequiredCtxFields {
		if strings.TrimSpace(caller.Field(k)) == "" {
			return tool, args, caller, domain.NewToolError(domain.CodeMissingRequiredField,
				"Invalid ctx: missing "+k, map[string]any{"field": k})
		}
	}
	if !slices.Contains(g.opts.Tenants, caller.Tenant) {
		return tool, args, caller, domain.NewToolError(domain.CodeBadRequest, "Invalid ctx: unknown tenant",
			map[string]any{"tenant": caller.Tenant})
	}

	scopes, err := ctxScopes(rawCtx["scopes"])
	if err != nil {
		return tool, args, caller, domain.NewToolError(domain.CodeBadRequest, "Invalid ctx: "+err.Error(), nil)
	}
	caller.Scopes = mergeScopes(scopes, ScopesFromContext(ctx))

	return tool, args, caller, nil
}

func ctxString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func ctxScopes(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.New("scopes must be an array of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("scopes must be an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// mergeScopes объединяет списки без повторов, сохраняя порядок.
func mergeScopes(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, s := range l {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
