package domain

import "time"

// DelayUnit is the unit for a step's delay gate.
type DelayUnit string

const (
	DelayHours DelayUnit = "hours"
	DelayDays  DelayUnit = "days"
)

// ConditionPredicate enumerates the backward-looking predicates a step may
// carry. The set is closed: the condition evaluator switches exhaustively
// over these values.
type ConditionPredicate string

const (
	PredicateUnconditional ConditionPredicate = "unconditional"
	PredicateOpened        ConditionPredicate = "prior_opened"
	PredicateClicked       ConditionPredicate = "prior_clicked"
	PredicateNotOpened     ConditionPredicate = "prior_not_opened"
)

// Condition gates a step on a prior step's engagement state.
type Condition struct {
	ReferencedStepID string             `json:"referenced_step_id"`
	Predicate        ConditionPredicate `json:"predicate"`
}

// Step is one message in a campaign sequence. Position is the ordinal index
// within the campaign and determines "next step" for a recipient.
type Step struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	DelayValue int        `json:"delay_value"`
	DelayUnit  DelayUnit  `json:"delay_unit"`
	Condition  *Condition `json:"condition,omitempty"`
	Position   int        `json:"position"`
}

// Delay returns the step's delay gate as a duration.
func (s Step) Delay() time.Duration {
	switch s.DelayUnit {
	case DelayDays:
		return time.Duration(s.DelayValue) * 24 * time.Hour
	default:
		return time.Duration(s.DelayValue) * time.Hour
	}
}

// StatName identifies one of the aggregate campaign counters.
type StatName string

const (
	StatSent         StatName = "sent"
	StatDelivered    StatName = "delivered"
	StatOpened       StatName = "opened"
	StatClicked      StatName = "clicked"
	StatBounced      StatName = "bounced"
	StatUnsubscribed StatName = "unsubscribed"
)

// Stats holds a campaign's aggregate counters. Counters are monotonically
// non-decreasing and are incremented exactly once per qualifying delivery-log
// transition.
type Stats struct {
	Sent         int64 `json:"sent" db:"sent_count"`
	Delivered    int64 `json:"delivered" db:"delivered_count"`
	Opened       int64 `json:"opened" db:"opened_count"`
	Clicked      int64 `json:"clicked" db:"clicked_count"`
	Bounced      int64 `json:"bounced" db:"bounced_count"`
	Unsubscribed int64 `json:"unsubscribed" db:"unsubscribed_count"`
}

// Campaign is a named, ordered sequence of steps seeded by a trigger. The
// engine treats campaigns as read-mostly; only the Stats counters are written
// back, through atomic increments at the store layer.
type Campaign struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Trigger   TriggerSpec `json:"trigger"`
	Steps     []Step      `json:"steps"`
	Active    bool        `json:"active"`
	Stats     Stats       `json:"stats"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StepByID returns the step with the given id, or nil.
func (c *Campaign) StepByID(id string) *Step {
	for i := range c.Steps {
		if c.Steps[i].ID == id {
			return &c.Steps[i]
		}
	}
	return nil
}

// LastPosition returns the ordinal of the final step, or -1 for an empty
// campaign.
func (c *Campaign) LastPosition() int {
	return len(c.Steps) - 1
}
