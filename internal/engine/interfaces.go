package engine

import (
	"context"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

// CampaignStore provides the active campaign definitions and their aggregate
// counters. Campaign CRUD lives elsewhere; the engine only reads definitions
// and increments stats.
type CampaignStore interface {
	// ListActive returns all campaigns eligible for this run.
	ListActive(ctx context.Context) ([]domain.Campaign, error)

	// Get returns a single campaign. Returns ErrCampaignNotFound if it
	// doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// IncrementStat atomically increments one aggregate counter. Must be an
	// atomic counter operation at the store, not read-modify-write.
	IncrementStat(ctx context.Context, campaignID string, stat domain.StatName) error
}

// RecipientSource answers the domain-specific queries that turn a trigger
// spec into candidate recipients. Time windows are half-open (from, to].
type RecipientSource interface {
	// EnrolledInWindow returns recipients whose enrollment in the program
	// occurred within (from, to].
	EnrolledInWindow(ctx context.Context, programID string, from, to time.Time) ([]domain.Recipient, error)

	// EnrolledInProgram returns all recipients enrolled in the program.
	EnrolledInProgram(ctx context.Context, programID string) ([]domain.Recipient, error)

	// ProgramSchedule returns the program's start date and day count.
	// Returns nil if the program doesn't exist.
	ProgramSchedule(ctx context.Context, programID string) (*domain.ProgramSchedule, error)

	// EventedInWindow returns recipients who produced the named account
	// event within (from, to].
	EventedInWindow(ctx context.Context, eventType string, from, to time.Time) ([]domain.Recipient, error)
}

// RenderedMessage is the output of template rendering.
type RenderedMessage struct {
	Subject string
	HTML    string
}

// TemplateRenderer resolves a step's template and substitutes the recipient
// context. Returns ErrTemplateUnavailable when the template is missing or
// inactive; that is transient, no delivery-log entry is created for it.
type TemplateRenderer interface {
	Render(ctx context.Context, templateID string, vars map[string]any) (*RenderedMessage, error)
}

// DeliveryChannel sends a rendered message and returns the provider's
// delivery identifier. A *SendRejectedError means the provider permanently
// rejected this message; any other error is transient (timeout, transport)
// and leaves no trace in the delivery log.
type DeliveryChannel interface {
	Send(ctx context.Context, to, subject, html string) (externalID string, err error)
}

// DeliveryLog is the append/update-only record of what was sent to whom and
// how they engaged. It is the sole source of truth for per-recipient
// progress, and the store behind it must support atomic conditional writes.
type DeliveryLog interface {
	// Insert creates an entry if and only if none exists for the entry's
	// (campaign, step, recipient) key. Returns ErrDuplicateEntry when the
	// key is already occupied; concurrent dispatchers treat that as
	// "already sent", not as a failure.
	Insert(ctx context.Context, e *domain.DeliveryLogEntry) error

	// ReplaceFailed overwrites an existing entry for the entry's key only
	// if its status is failed. Used by the retry-failed-steps policy.
	// Returns ErrDuplicateEntry if the existing entry is not failed.
	ReplaceFailed(ctx context.Context, e *domain.DeliveryLogEntry) error

	// FindByExternalID returns the entry carrying the provider delivery id,
	// or nil if none matches.
	FindByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error)

	// History returns a recipient's entries for a campaign.
	History(ctx context.Context, campaignID, recipientID string) ([]domain.DeliveryLogEntry, error)

	// Recipients returns every recipient with at least one entry for the
	// campaign. The orchestrator unions these with trigger-resolved
	// recipients so mid-sequence recipients keep advancing after their
	// trigger window has passed.
	Recipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)

	// Entries returns all entries for a campaign, for read-side analytics.
	Entries(ctx context.Context, campaignID string) ([]domain.DeliveryLogEntry, error)

	// ApplyEngagement applies the idempotent transition for the event to the
	// entry matching its external id and increments the corresponding
	// campaign counter in the same transaction (both or neither). Returns
	// applied=false when the event is a duplicate no-op, and
	// ErrUnknownDelivery when no entry matches.
	ApplyEngagement(ctx context.Context, ev domain.EngagementEvent) (applied bool, err error)
}

// RunLock serializes orchestration runs across processes. It is an
// optimization to keep overlapping scheduled runs from walking the same
// campaigns twice; correctness never depends on holding it.
type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
