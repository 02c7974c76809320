package domain

import (
	"fmt"
	"time"
)

type KillSwitchLevel string

const (
	LevelGlobal KillSwitchLevel = "global"
	LevelDomain KillSwitchLevel = "domain"
	LevelAgent  KillSwitchLevel = "agent"
)

// GlobalTarget — единственный допустимый target для глобального уровня.
const GlobalTarget = "global"

func (l KillSwitchLevel) Valid() bool {
	return l == LevelGlobal || l == LevelDomain || l == LevelAgent
}

func ParseKillSwitchLevel(s string) (KillSwitchLevel, error) {
	l := KillSwitchLevel(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown kill switch level %q", s)
	}
	return l, nil
}

type KillSwitchStatus string

const (
	SwitchActive    KillSwitchStatus = "active"
	SwitchSuspended KillSwitchStatus = "suspended"
)

// KillSwitchState — запись о рубильнике. Ключ (Level, TargetID).
// Записи не удаляются: деактивация только меняет статус.
type KillSwitchState struct {
	Level       KillSwitchLevel  `json:"level"`
	TargetID    string           `json:"target_id"`
	Status      KillSwitchStatus `json:"status"`
	Reason      string           `json:"reason"`
	SuspendedBy string           `json:"suspended_by"`
	SuspendedAt time.Time        `json:"suspended_at"`
	ResumedBy   string           `json:"resumed_by,omitempty"`
	ResumedAt   *time.Time       `json:"resumed_at,omitempty"`
}

// Key — ключ записи "level:target".
func (s KillSwitchState) Key() string {
	return KillSwitchKey(s.Level, s.TargetID)
}

func (s KillSwitchState) Suspended() bool {
	return s.Status == SwitchSuspended
}

// ChangedAt — момент последнего изменения записи: снятие или включение.
func (s KillSwitchState) ChangedAt() time.Time {
	if s.ResumedAt != nil && s.ResumedAt.After(s.SuspendedAt) {
		return *s.ResumedAt
	}
	return s.SuspendedAt
}

// NewerThan — запись изменена позже other. При равенстве побеждает other.
func (s KillSwitchState) NewerThan(other KillSwitchState) bool {
	return s.ChangedAt().After(other.ChangedAt())
}

func KillSwitchKey(level KillSwitchLevel, target string) string {
	return string(level) + ":" + target
}

// CheckResult — результат проверки агента по иерархии рубильников.
type CheckResult struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	State   *KillSwitchState `json:"state,omitempty"`
}
