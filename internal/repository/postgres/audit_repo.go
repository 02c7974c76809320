package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"go.uber.org/zap"
)

// Количество колонок в таблице audit_events
const auditColumns = 13

// AuditRepo — долговременное хранилище аудита, приёмник для AgentFS.
type AuditRepo struct {
	db       *sql.DB
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

func NewAuditRepo(db *sql.DB, logger *zap.Logger) *AuditRepo {
	return &AuditRepo{db: db, attempts: 3, delay: 100 * time.Millisecond, logger: logger.Named("audit-repo")}
}

// WriteBatch вставляет пачку одним запросом. Повтор безопасен: уже
// записанные id пропускаются.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	vals := make([]any, 0, len(events)*auditColumns)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("postgres: encode audit event %s: %w", e.ID, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		p := i * auditColumns
		sb.WriteString("(")
		for c := 1; c <= auditColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p+c)
		}
		sb.WriteString(")")

		vals = append(vals,
			e.ID, e.Timestamp, string(e.Type), e.Tenant, e.ToolName, e.TraceID,
			e.Actor.AgentID, e.Actor.HumanID, e.Target.DomainName, string(e.Decision),
			e.Code, e.DurationMs, payload,
		)
	}

	query := "INSERT INTO audit_events (id, timestamp, type, tenant, tool_name, trace_id, agent_id, human_id, domain_name, decision, code, duration_ms, payload) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"

	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !isPermanent(err) }),
	).Do(func() error {
		_, err := r.db.ExecContext(ctx, query, vals...)
		if err != nil {
			r.logger.Warn("audit batch write failed", zap.Int("events", len(events)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: write audit batch (%d events): %w", len(events), err)
	}
	return nil
}

// isPermanent — ошибка, которую повтор не исправит: данные, ограничения,
// синтаксис или права.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23", "42":
		return true
	}
	return false
}
