package engine

import "github.com/seplitza/backend-rejuvena/internal/domain"

// EvaluateCondition resolves a step's predicate against the referenced prior
// step's delivery-log entry. It is total: every predicate value yields a
// boolean, and a missing referenced entry is "not met" for every
// engagement-based predicate, including prior_not_opened (a step that was
// never sent has no engagement state to assert over).
func EvaluateCondition(cond *domain.Condition, ref *domain.DeliveryLogEntry) bool {
	if cond == nil || cond.Predicate == domain.PredicateUnconditional {
		return true
	}
	if ref == nil {
		return false
	}
	switch cond.Predicate {
	case domain.PredicateOpened:
		return ref.OpenedAt != nil
	case domain.PredicateClicked:
		return ref.ClickedAt != nil
	case domain.PredicateNotOpened:
		return ref.OpenedAt == nil
	default:
		return false
	}
}
