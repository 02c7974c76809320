package policy

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/infra"
	"go.uber.org/zap"
)

// PermissionRepository — долговременное хранилище таблицы прав.
type PermissionRepository interface {
	ListToolPermissions(ctx context.Context) ([]domain.ToolPermission, error)
	ListScopeHierarchy(ctx context.Context) (domain.ScopeHierarchy, error)
}

// ChangeRecorder фиксирует перезагрузки таблицы в аудите.
type ChangeRecorder interface {
	LogPolicyChange(source string, permissions int) audit.AuditEvent
}

// MemoEnforcer — RBAC над таблицей прав в памяти. Горячий путь работает
// только с RAM; Postgres нужен лишь для Refresh.
type MemoEnforcer struct {
	mu sync.RWMutex
	// Кэш: имя инструмента -> правило
	permissions map[string]domain.ToolPermission
	hierarchy   domain.ScopeHierarchy

	// seed — таблица из конфига, поверх неё накладываются строки из БД
	seed          []domain.ToolPermission
	seedHierarchy domain.ScopeHierarchy

	repo     PermissionRepository // может быть nil
	rdb      redis.UniversalClient
	recorder ChangeRecorder
	logger   *zap.Logger
}

func NewMemoEnforcer(seed []domain.ToolPermission, hierarchy domain.ScopeHierarchy, repo PermissionRepository, rdb redis.UniversalClient, recorder ChangeRecorder, logger *zap.Logger) *MemoEnforcer {
	e := &MemoEnforcer{
		seed:          slices.Clone(seed),
		seedHierarchy: hierarchy,
		repo:          repo,
		rdb:           rdb,
		recorder:      recorder,
		logger:        logger.Named("enforcer"),
	}
	e.permissions, e.hierarchy = merge(e.seed, e.seedHierarchy, nil, nil)
	return e
}

// Authorize решает, может ли вызывающий выполнить инструмент.
// Порядок: наличие правила, арендатор, scopes.
func (e *MemoEnforcer) Authorize(caller domain.CallerContext, toolName string) domain.RBACResult {
	e.mu.RLock()
	perm, ok := e.permissions[toolName]
	hierarchy := e.hierarchy
	e.mu.RUnlock()

	// Default Deny (Zero Trust)
	if !ok {
		return domain.RBACResult{
			Reason: "No permissions defined for tool: " + toolName,
			Code:   domain.CodeInsufficientScope,
		}
	}

	if !slices.Contains(perm.AllowedTenants, caller.Tenant) {
		return domain.RBACResult{
			Reason: fmt.Sprintf("Tenant '%s' not allowed for tool '%s'", caller.Tenant, toolName),
			Code:   domain.CodeTenantNotAllowed,
		}
	}

	effective := ExpandScopes(caller.Scopes, hierarchy)
	var missing []string
	for _, s := range perm.RequiredScopes {
		if _, ok := effective[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return domain.RBACResult{
			Reason:        "Missing required scopes",
			Code:          domain.CodeInsufficientScope,
			MissingScopes: missing,
		}
	}

	return domain.RBACResult{Authorized: true}
}

// ExpandScopes раскрывает scopes по иерархии ровно на один уровень:
// импликации импликаций не добавляются.
func ExpandScopes(scopes []string, h domain.ScopeHierarchy) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		out[s] = struct{}{}
	}
	for _, s := range scopes {
		for _, implied := range h[s] {
			out[implied] = struct{}{}
		}
	}
	return out
}

// Permission возвращает правило инструмента.
func (e *MemoEnforcer) Permission(toolName string) (domain.ToolPermission, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.permissions[toolName]
	return p, ok
}

// Permissions — вся таблица, отсортированная по имени инструмента.
func (e *MemoEnforcer) Permissions() []domain.ToolPermission {
	e.mu.RLock()
	out := make([]domain.ToolPermission, 0, len(e.permissions))
	for _, p := range e.permissions {
		out = append(out, p)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out
}

// Refresh выполняет «холодную загрузку» правил из PostgreSQL поверх таблицы из конфига.
func (e *MemoEnforcer) Refresh(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}

	perms, err := e.repo.ListToolPermissions(ctx)
	if err != nil {
		return fmt.Errorf("refresh permissions: %w", err)
	}
	hierarchy, err := e.repo.ListScopeHierarchy(ctx)
	if err != nil {
		return fmt.Errorf("refresh scope hierarchy: %w", err)
	}

	newPerms, newHierarchy := merge(e.seed, e.seedHierarchy, perms, hierarchy)

	e.mu.Lock()
	e.permissions = newPerms
	e.hierarchy = newHierarchy
	e.mu.Unlock()

	e.logger.Info("permission cache refreshed", zap.Int("count", len(newPerms)))
	if e.recorder != nil {
		e.recorder.LogPolicyChange("postgres", len(newPerms))
	}
	return nil
}

// StartListener перечитывает таблицу по сигналу из Redis (и при каждом переподключении).
func (e *MemoEnforcer) StartListener(ctx context.Context) {
	if e.rdb == nil {
		return
	}
	infra.ListenStateResilient(ctx, e.rdb, e.logger, infra.RedisChanPolicyUpdate,
		e.Refresh,
		func(payload string) {
			e.logger.Info("policy update signal", zap.String("payload", payload))
			if err := e.Refresh(ctx); err != nil {
				e.logger.Error("policy refresh failed", zap.Error(err))
			}
		},
	)
}

// PublishUpdate оповещает все инстансы шлюза о смене таблицы.
func (e *MemoEnforcer) PublishUpdate(ctx context.Context, reason string) error {
	if e.rdb == nil {
		return nil
	}
	return e.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, reason).Err()
}

func merge(seed []domain.ToolPermission, seedH domain.ScopeHierarchy, extra []domain.ToolPermission, extraH domain.ScopeHierarchy) (map[string]domain.ToolPermission, domain.ScopeHierarchy) {
	perms := make(map[string]domain.ToolPermission, len(seed)+len(extra))
	for _, p := range seed {
		perms[p.ToolName] = p
	}
	for _, p := range extra {
		perms[p.ToolName] = p
	}

	h := make(domain.ScopeHierarchy, len(seedH)+len(extraH))
	for k, v := range seedH {
		h[k] = slices.Clone(v)
	}
	for k, v := range extraH {
		h[k] = slices.Clone(v)
	}
	return perms, h
}
