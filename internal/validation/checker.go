package validation

import (
	"MarginTrading/internal/state"
	"context"
	"fmt"
)

// Rule names reported in violations.
const (
	RuleDuplicateOrder    = "duplicate_order"
	RuleDuplicatePosition = "duplicate_position"
	RuleClosedOrder       = "closed_order_status"
	RuleOrphanedOrder     = "orphaned_order"
	RuleOrphanedPosition  = "orphaned_position"
	RuleDanglingRelation  = "dangling_relation"
	RuleZeroVolume        = "zero_volume_position"
)

// ConsistencyChecker inspects a frozen cache for structural violations.
// A returned error means the check itself could not run.
type ConsistencyChecker interface {
	Check(ctx context.Context, orders state.OrderReader) ([]Violation, error)
}

// CheckerFunc adapts a function to ConsistencyChecker.
type CheckerFunc func(ctx context.Context, orders state.OrderReader) ([]Violation, error)

func (f CheckerFunc) Check(ctx context.Context, orders state.OrderReader) ([]Violation, error) {
	return f(ctx, orders)
}

// StructuralChecker is the default checker. Accounts may be nil, which
// disables the orphan rules.
type StructuralChecker struct {
	accounts state.AccountReader
}

func NewStructuralChecker(accounts state.AccountReader) *StructuralChecker {
	return &StructuralChecker{accounts: accounts}
}

func (c *StructuralChecker) Check(ctx context.Context, orders state.OrderReader) ([]Violation, error) {
	allOrders := orders.GetAllOrders()
	positions := orders.GetPositions()

	var violations []Violation
	add := func(rule, id, format string, args ...any) {
		violations = append(violations, Violation{Rule: rule, EntityID: id, Detail: fmt.Sprintf(format, args...)})
	}

	positionIDs := make(map[string]int, len(positions))
	for _, p := range positions {
		positionIDs[p.ID]++
	}
	orderIDs := make(map[string]int, len(allOrders))
	for _, o := range allOrders {
		orderIDs[o.ID]++
	}

	for id, n := range orderIDs {
		if n > 1 {
			add(RuleDuplicateOrder, id, "order present %d times", n)
		}
	}
	for id, n := range positionIDs {
		if n > 1 {
			add(RuleDuplicatePosition, id, "position present %d times", n)
		}
	}

	for _, o := range allOrders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !o.Status.IsOpen() {
			add(RuleClosedOrder, o.ID, "order in status %s", o.Status)
		}
		if c.accounts != nil {
			if _, ok := c.accounts.TryGet(o.AccountID); !ok {
				add(RuleOrphanedOrder, o.ID, "account %s not found", o.AccountID)
			}
		}
		if o.ParentPositionID != "" && positionIDs[o.ParentPositionID] == 0 {
			add(RuleDanglingRelation, o.ID, "parent position %s not found", o.ParentPositionID)
		}
		for _, rel := range o.RelatedOrderIDs {
			if orderIDs[rel] == 0 {
				add(RuleDanglingRelation, o.ID, "related order %s not found", rel)
			}
		}
	}

	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.IsFlat() {
			add(RuleZeroVolume, p.ID, "position has zero volume")
		}
		if c.accounts != nil {
			if _, ok := c.accounts.TryGet(p.AccountID); !ok {
				add(RuleOrphanedPosition, p.ID, "account %s not found", p.AccountID)
			}
		}
		for _, rel := range p.RelatedOrderIDs {
			if orderIDs[rel] == 0 {
				add(RuleDanglingRelation, p.ID, "related order %s not found", rel)
			}
		}
	}

	return violations, nil
}
