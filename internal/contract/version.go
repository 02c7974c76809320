// Package contract сравнивает версии контракта клиента с окном, которое
// поддерживает шлюз.
package contract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Comparator сравнивает две версии: -1, 0, 1. Ошибка — версия не разобрана.
type Comparator interface {
	Compare(a, b string) (int, error)
	Validate(v string) error
}

// ErrMalformed — версия не соответствует схеме.
type ErrMalformed struct {
	Version string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed contract version %q", e.Version)
}

var phasePattern = regexp.MustCompile(`^([0-9]+)([A-Za-z]?)\.([0-9]+)\.([0-9]+)$`)

// PhaseVersion — версия вида "21A.1.0": фаза, буква подфазы, minor, patch.
type PhaseVersion struct {
	Phase      int
	Suffix     string
	SuffixRank int // A=1, B=2 ...; без буквы 0
	Minor      int
	Patch      int
	Raw        string
}

// ParsePhase разбирает версию. Буква подфазы нечувствительна к регистру.
func ParsePhase(v string) (PhaseVersion, error) {
	raw := strings.TrimSpace(v)
	m := phasePattern.FindStringSubmatch(raw)
	if m == nil {
		return PhaseVersion{}, &ErrMalformed{Version: v}
	}

	phase, err1 := strconv.Atoi(m[1])
	minor, err2 := strconv.Atoi(m[3])
	patch, err3 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || err3 != nil {
		return PhaseVersion{}, &ErrMalformed{Version: v}
	}

	suffix := strings.ToUpper(m[2])
	rank := 0
	if suffix != "" {
		rank = int(suffix[0]-'A') + 1
	}

	return PhaseVersion{Phase: phase, Suffix: suffix, SuffixRank: rank, Minor: minor, Patch: patch, Raw: raw}, nil
}

// Compare: фаза, подфаза, minor, patch.
func (a PhaseVersion) Compare(b PhaseVersion) int {
	if c := cmpInt(a.Phase, b.Phase); c != 0 {
		return c
	}
	if c := cmpInt(a.SuffixRank, b.SuffixRank); c != 0 {
		return c
	}
	if c := cmpInt(a.Minor, b.Minor); c != 0 {
		return c
	}
	return cmpInt(a.Patch, b.Patch)
}

// PhaseComparator — схема по умолчанию.
type PhaseComparator struct{}

func (PhaseComparator) Validate(v string) error {
	_, err := ParsePhase(v)
	return err
}

func (PhaseComparator) Compare(a, b string) (int, error) {
	va, err := ParsePhase(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParsePhase(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// SemverComparator — альтернативная схема на обычном semver ("1.4.2").
type SemverComparator struct{}

func (SemverComparator) Validate(v string) error {
	if _, err := semver.StrictNewVersion(strings.TrimSpace(v)); err != nil {
		return &ErrMalformed{Version: v}
	}
	return nil
}

func (SemverComparator) Compare(a, b string) (int, error) {
	va, err := semver.StrictNewVersion(strings.TrimSpace(a))
	if err != nil {
		return 0, &ErrMalformed{Version: a}
	}
	vb, err := semver.StrictNewVersion(strings.TrimSpace(b))
	if err != nil {
		return 0, &ErrMalformed{Version: b}
	}
	return va.Compare(vb), nil
}

// ComparatorFor выбирает схему по имени из конфига.
func ComparatorFor(scheme string) (Comparator, error) {
	switch scheme {
	case "", "phase":
		return PhaseComparator{}, nil
	case "semver":
		return SemverComparator{}, nil
	}
	return nil, fmt.Errorf("unknown contract version scheme %q", scheme)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
