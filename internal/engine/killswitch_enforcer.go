package engine

import (
	"context"

	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// KillSwitchEnforcer — вход для операторов и монитора аномалий: каждое
// изменение рубильника попадает в аудит до возврата.
type KillSwitchEnforcer struct {
	ksm     *KillSwitchManager
	auditor *audit.Logger
}

func NewKillSwitchEnforcer(ksm *KillSwitchManager, auditor *audit.Logger) *KillSwitchEnforcer {
	return &KillSwitchEnforcer{ksm: ksm, auditor: auditor}
}

func (e *KillSwitchEnforcer) Activate(ctx context.Context, level domain.KillSwitchLevel, target, reason, by string) (domain.KillSwitchState, error) {
	st, err := e.ksm.Activate(ctx, level, target, reason, by)
	if err != nil {
		return st, err
	}
	e.auditor.LogKillSwitch(by, "activate", string(st.Level), st.TargetID, reason)
	return st, nil
}

func (e *KillSwitchEnforcer) Deactivate(ctx context.Context, level domain.KillSwitchLevel, target, by string) (domain.KillSwitchState, bool, error) {
	st, ok, err := e.ksm.Deactivate(ctx, level, target, by)
	if err != nil || !ok {
		return st, ok, err
	}
	e.auditor.LogKillSwitch(by, "deactivate", string(st.Level), st.TargetID, "resumed")
	return st, true, nil
}

// SuspendAgent — короткий путь для автоматической блокировки агента.
func (e *KillSwitchEnforcer) SuspendAgent(ctx context.Context, agentID, reason, by string) error {
	_, err := e.Activate(ctx, domain.LevelAgent, agentID, reason, by)
	return err
}

func (e *KillSwitchEnforcer) CheckAgent(agentID, domainID string) domain.CheckResult {
	return e.ksm.CheckAgent(agentID, domainID)
}

func (e *KillSwitchEnforcer) Status() domain.KillSwitchReport {
	return e.ksm.Status()
}

func (e *KillSwitchEnforcer) All() []domain.KillSwitchState {
	return e.ksm.All()
}
