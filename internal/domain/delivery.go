package domain

import "time"

// DeliveryStatus is the lifecycle state of a delivery-log entry. Status only
// moves forward: sent -> delivered/bounced. A failed entry never advances.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryLogEntry records one attempted delivery of a campaign step to a
// recipient. The (CampaignID, StepID, RecipientID) triple is unique: the
// store enforces it with a uniqueness constraint so concurrent dispatchers
// cannot double-send a step.
//
// Engagement timestamps are first-occurrence-wins; repeated provider
// callbacks for the same event type are no-ops after the first.
type DeliveryLogEntry struct {
	CampaignID     string         `json:"campaign_id" db:"campaign_id"`
	StepID         string         `json:"step_id" db:"step_id"`
	RecipientID    string         `json:"recipient_id" db:"recipient_id"`
	RecipientEmail string         `json:"recipient_email" db:"recipient_email"`
	Status         DeliveryStatus `json:"status" db:"status"`
	SentAt         time.Time      `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt       *time.Time     `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt      *time.Time     `json:"clicked_at,omitempty" db:"clicked_at"`
	BouncedAt      *time.Time     `json:"bounced_at,omitempty" db:"bounced_at"`
	UnsubscribedAt *time.Time     `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	ExternalID     string         `json:"external_id" db:"external_id"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
}

// EventType enumerates the provider callback event classes the ingestor
// understands.
type EventType string

const (
	EventDelivered  EventType = "delivered"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
)

// EngagementEvent is a normalized delivery-provider status callback. The
// ExternalID correlates it with the delivery-log entry created at dispatch.
type EngagementEvent struct {
	ExternalID string            `json:"external_id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Reason returns the failure reason carried in the event metadata, if any.
func (e EngagementEvent) Reason() string {
	return e.Metadata["reason"]
}
