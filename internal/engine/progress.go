package engine

import (
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

// Policy holds the execution knobs that were implicit in the original
// product behavior and are exposed here as explicit choices.
type Policy struct {
	// RetryFailedSteps controls whether a failed send permanently occupies
	// its step slot (false, the historical behavior) or the step is offered
	// again on subsequent runs (true).
	RetryFailedSteps bool
}

// NextEligibleStep determines which step, if any, is currently due for a
// recipient given their delivery-log history for the campaign. It is a pure
// function over history and now; all side effects belong to the dispatcher.
//
// A recipient advances strictly in ordinal order. The entry step (position 0)
// has no delay gate: it goes out on the run that resolves the trigger. Later
// steps are gated on the previous entry's sent time plus the candidate's
// delay, then on the candidate's condition. A failed condition returns nil
// for this run only; the step is re-evaluated on every subsequent run while
// the campaign stays active.
func NextEligibleStep(c *domain.Campaign, history []domain.DeliveryLogEntry, now time.Time, policy Policy) *domain.Step {
	if len(c.Steps) == 0 {
		return nil
	}
	if len(history) == 0 {
		return &c.Steps[0]
	}

	last := latestEntry(c, history)
	if last == nil {
		// History references steps the campaign no longer defines.
		return nil
	}
	lastStep := c.StepByID(last.StepID)

	if last.Status == domain.DeliveryFailed {
		if !policy.RetryFailedSteps {
			// A failed send occupies the slot; the sequence is frozen here.
			return nil
		}
		// Re-offer the failed step. Its delay gate was already satisfied
		// when the failed attempt was made.
		return lastStep
	}

	if lastStep.Position >= c.LastPosition() {
		return nil // sequence complete
	}

	candidate := &c.Steps[lastStep.Position+1]
	if now.Before(last.SentAt.Add(candidate.Delay())) {
		return nil // not yet time
	}

	if cond := candidate.Condition; cond != nil && cond.Predicate != domain.PredicateUnconditional {
		ref := entryForStep(history, cond.ReferencedStepID)
		if !EvaluateCondition(cond, ref) {
			return nil
		}
	}
	return candidate
}

// latestEntry returns the history entry with the highest step ordinal.
func latestEntry(c *domain.Campaign, history []domain.DeliveryLogEntry) *domain.DeliveryLogEntry {
	var best *domain.DeliveryLogEntry
	bestPos := -1
	for i := range history {
		step := c.StepByID(history[i].StepID)
		if step == nil {
			continue
		}
		if step.Position > bestPos {
			bestPos = step.Position
			best = &history[i]
		}
	}
	return best
}

func entryForStep(history []domain.DeliveryLogEntry, stepID string) *domain.DeliveryLogEntry {
	for i := range history {
		if history[i].StepID == stepID {
			return &history[i]
		}
	}
	return nil
}
