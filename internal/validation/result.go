// Package validation decides whether the live trading state is consistent
// enough to be snapshotted.
package validation

import (
	"MarginTrading/internal/state"
	"fmt"
	"strings"
)

// StrategyType selects how hard validation tries to reach a consistent state.
type StrategyType int32

const (
	StrategyAsSoonAsPossible StrategyType = iota
	StrategyWaitPlatformConsistency
)

func (s StrategyType) String() string {
	switch s {
	case StrategyAsSoonAsPossible:
		return "AsSoonAsPossible"
	case StrategyWaitPlatformConsistency:
		return "WaitPlatformConsistency"
	default:
		return "Unknown"
	}
}

// ParseStrategyType accepts the String() form, case-insensitively.
func ParseStrategyType(s string) (StrategyType, error) {
	switch strings.ToLower(s) {
	case "assoonaspossible", "asap":
		return StrategyAsSoonAsPossible, nil
	case "waitplatformconsistency", "preferconsistency":
		return StrategyWaitPlatformConsistency, nil
	default:
		return 0, fmt.Errorf("unknown validation strategy %q", s)
	}
}

func (s StrategyType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StrategyType) UnmarshalText(b []byte) error {
	v, err := ParseStrategyType(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Kind separates bad data from a bad environment.
type Kind int32

const (
	KindInconsistentData Kind = iota
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindInconsistentData:
		return "InconsistentData"
	case KindUnknown:
		return "Unknown"
	default:
		return "Invalid"
	}
}

// Violation is one broken structural invariant.
type Violation struct {
	Rule     string `json:"rule"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

// Error is carried by an invalid Result.
type Error struct {
	Kind          Kind
	CorrelationID string
	Violations    []Violation
	Cause         error
}

func (e *Error) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("validation %s (%s): %v", e.CorrelationID, e.Kind, e.Cause)
	case len(e.Violations) > 0:
		v := e.Violations[0]
		return fmt.Sprintf("validation %s (%s): %d violation(s), first: %s %s: %s",
			e.CorrelationID, e.Kind, len(e.Violations), v.Rule, v.EntityID, v.Detail)
	default:
		return fmt.Sprintf("validation %s (%s)", e.CorrelationID, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Result is the outcome of one validation attempt. Invalidity is data,
// never a returned error.
type Result struct {
	Valid bool
	// Cache is the frozen orders/positions view that was validated.
	Cache state.OrderReader
	Err   error
}

func validResult(cache state.OrderReader) Result {
	return Result{Valid: true, Cache: cache}
}

func invalidResult(cache state.OrderReader, err *Error) Result {
	return Result{Valid: false, Cache: cache, Err: err}
}
