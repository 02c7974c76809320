package contract

import (
	"fmt"
	"strings"

	"github.com/xela07ax/sentinel-gateway/internal/domain"
)

// Gate проверяет версию контракта клиента: окно [min, current] и порог инструмента.
type Gate struct {
	cmp     Comparator
	min     string
	current string
}

func NewGate(cmp Comparator, minVersion, current string) (*Gate, error) {
	c, err := cmp.Compare(minVersion, current)
	if err != nil {
		return nil, fmt.Errorf("contract window: %w", err)
	}
	if c > 0 {
		return nil, fmt.Errorf("contract window: min %s is newer than current %s", minVersion, current)
	}
	return &Gate{cmp: cmp, min: minVersion, current: current}, nil
}

func (g *Gate) Min() string     { return g.min }
func (g *Gate) Current() string { return g.current }

// CheckWindow возвращает *domain.ToolError или nil.
func (g *Gate) CheckWindow(version string) error {
	if strings.TrimSpace(version) == "" {
		return domain.NewToolError(domain.CodeContractVersionMissing,
			"ctx.contractVersion is required",
			map[string]any{"minSupported": g.min, "current": g.current})
	}

	lo, err := g.cmp.Compare(version, g.min)
	if err != nil {
		return malformed(version)
	}
	hi, err := g.cmp.Compare(version, g.current)
	if err != nil {
		return malformed(version)
	}

	if lo < 0 {
		return domain.NewToolError(domain.CodeContractVersionTooOld,
			fmt.Sprintf("contract version %s is older than minimum supported %s", version, g.min),
			map[string]any{"minSupported": g.min, "got": version})
	}
	if hi > 0 {
		return domain.NewToolError(domain.CodeContractVersionTooNew,
			fmt.Sprintf("contract version %s is newer than current %s", version, g.current),
			map[string]any{"current": g.current, "got": version})
	}
	return nil
}

// CheckToolFloor — версия не ниже минимальной для инструмента. Пустой floor — без порога.
func (g *Gate) CheckToolFloor(version, floor, toolName string) error {
	if floor == "" {
		return nil
	}
	c, err := g.cmp.Compare(version, floor)
	if err != nil {
		return malformed(version)
	}
	if c < 0 {
		return domain.NewToolError(domain.CodeContractVersionTooLow,
			fmt.Sprintf("tool %s requires contract version %s or newer", toolName, floor),
			map[string]any{"tool": toolName, "toolMin": floor, "got": version})
	}
	return nil
}

// Validate проверяет версию из конфигурации инструмента.
func (g *Gate) Validate(version string) error {
	return g.cmp.Validate(version)
}

func malformed(version string) error {
	return domain.NewToolError(domain.CodeContractVersionMalformed,
		fmt.Sprintf("contract version %q is malformed", version),
		map[string]any{"got": version})
}
