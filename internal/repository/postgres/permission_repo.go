package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// PermissionRepo хранит таблицу прав инструментов. MemoEnforcer читает её
// целиком при Refresh, горячий путь в базу не ходит.
type PermissionRepo struct {
	db *sql.DB
}

func NewPermissionRepo(db *sql.DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

func (r *PermissionRepo) ListToolPermissions(ctx context.Context) ([]domain.ToolPermission, error) {
	query := `SELECT tool_name, required_scopes, allowed_tenants, description FROM tool_permissions ORDER BY tool_name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tool permissions: %w", err)
	}
	defer rows.Close()

	var results []domain.ToolPermission
	for rows.Next() {
		var (
			p               domain.ToolPermission
			scopes, tenants []byte
		)
		if err := rows.Scan(&p.ToolName, &scopes, &tenants, &p.Description); err != nil {
			return nil, fmt.Errorf("postgres: scan tool permission: %w", err)
		}
		if err := json.Unmarshal(scopes, &p.RequiredScopes); err != nil {
			return nil, fmt.Errorf("postgres: tool %s required_scopes: %w", p.ToolName, err)
		}
		if err := json.Unmarshal(tenants, &p.AllowedTenants); err != nil {
			return nil, fmt.Errorf("postgres: tool %s allowed_tenants: %w", p.ToolName, err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tool permissions: %w", err)
	}
	return results, nil
}

func (r *PermissionRepo) ListScopeHierarchy(ctx context.Context) (domain.ScopeHierarchy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT scope, implies FROM scope_hierarchy`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scope hierarchy: %w", err)
	}
	defer rows.Close()

	h := make(domain.ScopeHierarchy)
	for rows.Next() {
		var (
			scope   string
			implies []byte
		)
		if err := rows.Scan(&scope, &implies); err != nil {
			return nil, fmt.Errorf("postgres: scan scope hierarchy: %w", err)
		}
		var list []string
		if err := json.Unmarshal(implies, &list); err != nil {
			return nil, fmt.Errorf("postgres: scope %s implies: %w", scope, err)
		}
		h[scope] = list
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list scope hierarchy: %w", err)
	}
	return h, nil
}

// UpsertToolPermission создаёт или заменяет правило инструмента.
func (r *PermissionRepo) UpsertToolPermission(ctx context.Context, p domain.ToolPermission) error {
	scopes, err := json.Marshal(nonNil(p.RequiredScopes))
	if err != nil {
		return err
	}
	tenants, err := json.Marshal(nonNil(p.AllowedTenants))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tool_permissions (tool_name, required_scopes, allowed_tenants, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tool_name) DO UPDATE
		SET required_scopes = EXCLUDED.required_scopes,
		    allowed_tenants = EXCLUDED.allowed_tenants,
		    description = EXCLUDED.description`

	if _, err := r.db.ExecContext(ctx, query, p.ToolName, scopes, tenants, p.Description); err != nil {
		return fmt.Errorf("postgres: upsert tool permission %s: %w", p.ToolName, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
