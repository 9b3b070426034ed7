package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
)

// DefaultSendTimeout bounds one dispatch attempt: context-building queries,
// template rendering, and the outbound send share the budget. A timeout is a
// transient dispatch failure: no log entry, retried next run.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher renders a step's template against recipient context, invokes
// the delivery channel, and records the outcome in the delivery log.
type Dispatcher struct {
	campaigns   CampaignStore
	log         DeliveryLog
	renderer    TemplateRenderer
	channel     DeliveryChannel
	source      RecipientSource
	trackingURL string
	sendTimeout time.Duration
	policy      Policy
	clock       func() time.Time
}

// NewDispatcher wires a dispatcher. source may be nil when no program
// context is needed (tests); trackingURL is the base for computed links.
func NewDispatcher(campaigns CampaignStore, log DeliveryLog, renderer TemplateRenderer, channel DeliveryChannel, source RecipientSource, trackingURL string) *Dispatcher {
	return &Dispatcher{
		campaigns:   campaigns,
		log:         log,
		renderer:    renderer,
		channel:     channel,
		source:      source,
		trackingURL: trackingURL,
		sendTimeout: DefaultSendTimeout,
		clock:       time.Now,
	}
}

// SetPolicy sets the execution policy knobs.
func (d *Dispatcher) SetPolicy(p Policy) { d.policy = p }

// SetSendTimeout overrides the per-attempt timeout.
func (d *Dispatcher) SetSendTimeout(t time.Duration) { d.sendTimeout = t }

// SetClock injects the time source (tests).
func (d *Dispatcher) SetClock(clock func() time.Time) { d.clock = clock }

// Dispatch sends one step to one recipient and records the outcome.
//
// Outcomes:
//   - success: a status=sent entry is inserted, the campaign's sent counter
//     is incremented, and the entry is returned.
//   - permanent rejection by the channel: a status=failed entry is inserted
//     (occupying the step's slot unless RetryFailedSteps) and returned.
//   - transient failure (template unavailable, timeout, transport error):
//     no entry is created and the error is returned; the step stays
//     eligible for the next run.
//   - lost race with a concurrent dispatcher: the existing entry wins and
//     (nil, nil) is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, c *domain.Campaign, step *domain.Step, rcpt domain.Recipient) (*domain.DeliveryLogEntry, error) {
	// One deadline covers the context-building queries, the render, and the
	// send, so a hung query cannot pin the recipient goroutine. Recording
	// stays on the caller's context: once the channel accepted the message
	// the entry must land even if the attempt budget is spent.
	attemptCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	vars, err := d.contextVars(attemptCtx, c, step, rcpt)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	msg, err := d.renderer.Render(attemptCtx, step.TemplateID, vars)
	if err != nil {
		if errors.Is(err, ErrTemplateUnavailable) {
			return nil, ErrTemplateUnavailable
		}
		return nil, fmt.Errorf("render template %s: %w", step.TemplateID, err)
	}

	externalID, err := d.channel.Send(attemptCtx, rcpt.Email, msg.Subject, msg.HTML)
	if err != nil {
		var rej *SendRejectedError
		if errors.As(err, &rej) {
			return d.recordFailure(ctx, c, step, rcpt, rej.Reason)
		}
		return nil, fmt.Errorf("send: %w", err)
	}

	entry := &domain.DeliveryLogEntry{
		CampaignID:     c.ID,
		StepID:         step.ID,
		RecipientID:    rcpt.ID,
		RecipientEmail: rcpt.Email,
		Status:         domain.DeliverySent,
		SentAt:         d.clock(),
		ExternalID:     externalID,
	}
	if err := d.record(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			logger.Debug("step already sent, keeping existing entry",
				"campaign", c.ID, "step", step.ID, "recipient", rcpt.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("record delivery: %w", err)
	}

	if err := d.campaigns.IncrementStat(ctx, c.ID, domain.StatSent); err != nil {
		logger.Warn("sent counter increment failed", "campaign", c.ID, "error", err)
	}
	return entry, nil
}

// recordFailure persists a failed entry, consuming the step's slot under the
// default policy. The permanent rejection is not retried automatically.
func (d *Dispatcher) recordFailure(ctx context.Context, c *domain.Campaign, step *domain.Step, rcpt domain.Recipient, reason string) (*domain.DeliveryLogEntry, error) {
	entry := &domain.DeliveryLogEntry{
		CampaignID:     c.ID,
		StepID:         step.ID,
		RecipientID:    rcpt.ID,
		RecipientEmail: rcpt.Email,
		Status:         domain.DeliveryFailed,
		SentAt:         d.clock(),
		LastError:      reason,
	}
	if err := d.record(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return nil, nil
		}
		return nil, fmt.Errorf("record failure: %w", err)
	}
	logger.Warn("send rejected", "campaign", c.ID, "step", step.ID,
		"recipient", rcpt.ID, "reason", reason)
	return entry, nil
}

// record inserts the entry, replacing a prior failed attempt when the retry
// policy allows it.
func (d *Dispatcher) record(ctx context.Context, entry *domain.DeliveryLogEntry) error {
	err := d.log.Insert(ctx, entry)
	if errors.Is(err, ErrDuplicateEntry) && d.policy.RetryFailedSteps {
		return d.log.ReplaceFailed(ctx, entry)
	}
	return err
}

// contextVars builds the substitution map for template rendering: recipient
// identity, campaign name, program schedule context when the trigger is
// program-scoped, and computed URLs.
func (d *Dispatcher) contextVars(ctx context.Context, c *domain.Campaign, step *domain.Step, rcpt domain.Recipient) (map[string]any, error) {
	vars := map[string]any{
		"first_name":   rcpt.FirstName,
		"last_name":    rcpt.LastName,
		"display_name": rcpt.DisplayName(),
		"email":        rcpt.Email,
		"campaign":     c.Name,
	}
	if d.trackingURL != "" {
		vars["unsubscribe_url"] = fmt.Sprintf("%s/unsubscribe?rcpt=%s&campaign=%s",
			d.trackingURL, url.QueryEscape(rcpt.ID), url.QueryEscape(c.ID))
	}

	if d.source != nil && c.Trigger.ProgramID != "" {
		sched, err := d.source.ProgramSchedule(ctx, c.Trigger.ProgramID)
		if err != nil {
			return nil, err
		}
		if sched != nil {
			vars["program_title"] = sched.Title
			vars["program_days"] = sched.NumberOfDays
			if c.Trigger.DayNumber > 0 {
				vars["program_day"] = c.Trigger.DayNumber
			}
		}
	}
	return vars, nil
}
