package domain

// TriggerKind enumerates the domain events that seed a campaign's recipient
// list for a run.
type TriggerKind string

const (
	// TriggerEnrollment fires for recipients who enrolled in a program
	// within the last 24 hours.
	TriggerEnrollment TriggerKind = "program_enrollment"
	// TriggerProgramStart fires on the calendar day a program starts.
	TriggerProgramStart TriggerKind = "program_start"
	// TriggerProgramDay fires on the Nth calendar day of a program.
	TriggerProgramDay TriggerKind = "program_day"
	// TriggerProgramCompletion fires the day after a program's last day.
	TriggerProgramCompletion TriggerKind = "program_completion"
	// TriggerAccountEvent fires for recipients who produced a named account
	// event within the last 24 hours.
	TriggerAccountEvent TriggerKind = "account_event"
	// TriggerManual is never auto-resolved; sends are seeded by an operator.
	TriggerManual TriggerKind = "manual"
)

// TriggerSpec is a tagged variant: Kind selects which of the parameter
// fields are meaningful. Structural validity (program id present for
// program-scoped kinds, day number >= 1) is enforced at campaign-activation
// time by the campaign CRUD layer, not by the engine.
type TriggerSpec struct {
	Kind      TriggerKind `json:"kind"`
	ProgramID string      `json:"program_id,omitempty"`
	DayNumber int         `json:"day_number,omitempty"`
	EventType string      `json:"event_type,omitempty"`
}
