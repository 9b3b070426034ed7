package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

// enrollmentWindow is how far back the enrollment and account-event triggers
// look on each run. With an hourly loop every event is seen by multiple runs;
// the delivery log's uniqueness constraint makes the overlap harmless.
const enrollmentWindow = 24 * time.Hour

// TriggerResolver maps a campaign's trigger spec to the candidate recipient
// list for the current run. All windows are evaluated against the asOf
// timestamp injected by the orchestrator, so a single run is internally
// time-consistent even if resolution takes time.
type TriggerResolver struct {
	source RecipientSource
}

// NewTriggerResolver creates a resolver over the given recipient source.
func NewTriggerResolver(source RecipientSource) *TriggerResolver {
	return &TriggerResolver{source: source}
}

// Resolve returns the recipients the trigger selects as of the given time.
// Manual campaigns always resolve to an empty list; they are seeded by an
// operator action, never by the loop.
func (r *TriggerResolver) Resolve(ctx context.Context, trigger domain.TriggerSpec, asOf time.Time) ([]domain.Recipient, error) {
	switch trigger.Kind {
	case domain.TriggerEnrollment:
		return r.source.EnrolledInWindow(ctx, trigger.ProgramID, asOf.Add(-enrollmentWindow), asOf)

	case domain.TriggerProgramStart:
		sched, err := r.source.ProgramSchedule(ctx, trigger.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("program schedule: %w", err)
		}
		if sched == nil || !sameCalendarDay(sched.StartDate, asOf) {
			return nil, nil
		}
		return r.source.EnrolledInProgram(ctx, trigger.ProgramID)

	case domain.TriggerProgramDay:
		sched, err := r.source.ProgramSchedule(ctx, trigger.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("program schedule: %w", err)
		}
		if sched == nil || !sameCalendarDay(sched.DayDate(trigger.DayNumber), asOf) {
			return nil, nil
		}
		return r.source.EnrolledInProgram(ctx, trigger.ProgramID)

	case domain.TriggerProgramCompletion:
		sched, err := r.source.ProgramSchedule(ctx, trigger.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("program schedule: %w", err)
		}
		// Completion is evaluated one day in arrears so it never fires
		// mid-program-day.
		if sched == nil || !sameCalendarDay(sched.LastDay(), asOf.AddDate(0, 0, -1)) {
			return nil, nil
		}
		return r.source.EnrolledInProgram(ctx, trigger.ProgramID)

	case domain.TriggerAccountEvent:
		return r.source.EventedInWindow(ctx, trigger.EventType, asOf.Add(-enrollmentWindow), asOf)

	case domain.TriggerManual:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown trigger kind %q", trigger.Kind)
	}
}

// sameCalendarDay reports whether both instants fall on the same UTC
// calendar day.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
