package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

// =============================================================================
// TEST FAKES
// =============================================================================

type fakeCampaignStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	stats     map[string]map[domain.StatName]int64
}

func newFakeCampaignStore(cs ...*domain.Campaign) *fakeCampaignStore {
	s := &fakeCampaignStore{
		campaigns: make(map[string]*domain.Campaign),
		stats:     make(map[string]map[domain.StatName]int64),
	}
	for _, c := range cs {
		s.campaigns[c.ID] = c
	}
	return s
}

func (s *fakeCampaignStore) ListActive(ctx context.Context) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Active {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *fakeCampaignStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCampaignStore) IncrementStat(ctx context.Context, campaignID string, stat domain.StatName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats[campaignID] == nil {
		s.stats[campaignID] = make(map[domain.StatName]int64)
	}
	s.stats[campaignID][stat]++
	return nil
}

func (s *fakeCampaignStore) stat(campaignID string, stat domain.StatName) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[campaignID][stat]
}

type fakeSource struct {
	enrolledInWindow []domain.Recipient
	enrolled         []domain.Recipient
	evented          []domain.Recipient
	schedule         *domain.ProgramSchedule

	lastFrom, lastTo time.Time
}

func (s *fakeSource) EnrolledInWindow(ctx context.Context, programID string, from, to time.Time) ([]domain.Recipient, error) {
	s.lastFrom, s.lastTo = from, to
	return s.enrolledInWindow, nil
}

func (s *fakeSource) EnrolledInProgram(ctx context.Context, programID string) ([]domain.Recipient, error) {
	return s.enrolled, nil
}

func (s *fakeSource) ProgramSchedule(ctx context.Context, programID string) (*domain.ProgramSchedule, error) {
	return s.schedule, nil
}

func (s *fakeSource) EventedInWindow(ctx context.Context, eventType string, from, to time.Time) ([]domain.Recipient, error) {
	s.lastFrom, s.lastTo = from, to
	return s.evented, nil
}

// fakeDeliveryLog is an in-memory delivery log with the same uniqueness and
// idempotency behavior the Postgres implementation enforces.
type fakeDeliveryLog struct {
	mu      sync.Mutex
	entries map[string]*domain.DeliveryLogEntry // keyed campaign|step|recipient
	stats   *fakeCampaignStore                  // optional, for engagement counters
}

func newFakeDeliveryLog() *fakeDeliveryLog {
	return &fakeDeliveryLog{entries: make(map[string]*domain.DeliveryLogEntry)}
}

func logKey(campaignID, stepID, recipientID string) string {
	return fmt.Sprintf("%s|%s|%s", campaignID, stepID, recipientID)
}

func (l *fakeDeliveryLog) Insert(ctx context.Context, e *domain.DeliveryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := logKey(e.CampaignID, e.StepID, e.RecipientID)
	if _, exists := l.entries[k]; exists {
		return ErrDuplicateEntry
	}
	cp := *e
	l.entries[k] = &cp
	return nil
}

func (l *fakeDeliveryLog) ReplaceFailed(ctx context.Context, e *domain.DeliveryLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := logKey(e.CampaignID, e.StepID, e.RecipientID)
	existing, ok := l.entries[k]
	if !ok || existing.Status != domain.DeliveryFailed {
		return ErrDuplicateEntry
	}
	cp := *e
	l.entries[k] = &cp
	return nil
}

func (l *fakeDeliveryLog) FindByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.ExternalID == externalID && externalID != "" {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *fakeDeliveryLog) History(ctx context.Context, campaignID, recipientID string) ([]domain.DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.DeliveryLogEntry
	for _, e := range l.entries {
		if e.CampaignID == campaignID && e.RecipientID == recipientID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (l *fakeDeliveryLog) Recipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	var out []domain.Recipient
	for _, e := range l.entries {
		if e.CampaignID == campaignID && !seen[e.RecipientID] {
			seen[e.RecipientID] = true
			out = append(out, domain.Recipient{ID: e.RecipientID, Email: e.RecipientEmail})
		}
	}
	return out, nil
}

func (l *fakeDeliveryLog) Entries(ctx context.Context, campaignID string) ([]domain.DeliveryLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.DeliveryLogEntry
	for _, e := range l.entries {
		if e.CampaignID == campaignID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (l *fakeDeliveryLog) ApplyEngagement(ctx context.Context, ev domain.EngagementEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entry *domain.DeliveryLogEntry
	for _, e := range l.entries {
		if e.ExternalID == ev.ExternalID && ev.ExternalID != "" {
			entry = e
			break
		}
	}
	if entry == nil {
		return false, ErrUnknownDelivery
	}

	at := ev.OccurredAt
	var applied bool
	var stat domain.StatName
	switch ev.Type {
	case domain.EventDelivered:
		if entry.DeliveredAt == nil {
			entry.DeliveredAt = &at
			entry.Status = domain.DeliveryDelivered
			applied, stat = true, domain.StatDelivered
		}
	case domain.EventOpened:
		if entry.OpenedAt == nil {
			entry.OpenedAt = &at
			applied, stat = true, domain.StatOpened
		}
	case domain.EventClicked:
		if entry.ClickedAt == nil {
			entry.ClickedAt = &at
			applied, stat = true, domain.StatClicked
		}
	case domain.EventBounced:
		if entry.BouncedAt == nil {
			entry.BouncedAt = &at
			entry.Status = domain.DeliveryBounced
			entry.LastError = ev.Reason()
			applied, stat = true, domain.StatBounced
		}
	case domain.EventComplained:
		if entry.UnsubscribedAt == nil {
			entry.UnsubscribedAt = &at
			applied, stat = true, domain.StatUnsubscribed
		}
	}
	if applied && l.stats != nil {
		l.stats.mu.Lock()
		if l.stats.stats[entry.CampaignID] == nil {
			l.stats.stats[entry.CampaignID] = make(map[domain.StatName]int64)
		}
		l.stats.stats[entry.CampaignID][stat]++
		l.stats.mu.Unlock()
	}
	return applied, nil
}

func (l *fakeDeliveryLog) get(campaignID, stepID, recipientID string) *domain.DeliveryLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[logKey(campaignID, stepID, recipientID)]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (l *fakeDeliveryLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type fakeRenderer struct {
	err   error
	calls int64
}

func (r *fakeRenderer) Render(ctx context.Context, templateID string, vars map[string]any) (*RenderedMessage, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	name, _ := vars["display_name"].(string)
	return &RenderedMessage{
		Subject: "hello " + name,
		HTML:    "<p>" + templateID + "</p>",
	}, nil
}

type fakeChannel struct {
	mu    sync.Mutex
	err   error
	sends []string // recipient emails in send order
	seq   int
}

func (c *fakeChannel) Send(ctx context.Context, to, subject, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.seq++
	c.sends = append(c.sends, to)
	return fmt.Sprintf("ext-%d", c.seq), nil
}

func (c *fakeChannel) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

// testCampaign builds a three-step campaign: immediate entry step, a +48h
// follow-up conditioned on opening the entry step, and a +24h closer.
func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:     "camp-1",
		Name:   "Morning Routine Welcome",
		Active: true,
		Trigger: domain.TriggerSpec{
			Kind:      domain.TriggerEnrollment,
			ProgramID: "prog-1",
		},
		Steps: []domain.Step{
			{ID: "step-1", TemplateID: "tpl-welcome", Position: 0},
			{
				ID: "step-2", TemplateID: "tpl-tips", Position: 1,
				DelayValue: 48, DelayUnit: domain.DelayHours,
				Condition: &domain.Condition{
					ReferencedStepID: "step-1",
					Predicate:        domain.PredicateOpened,
				},
			},
			{
				ID: "step-3", TemplateID: "tpl-close", Position: 2,
				DelayValue: 1, DelayUnit: domain.DelayDays,
			},
		},
	}
}

func testRecipient() domain.Recipient {
	return domain.Recipient{ID: "rcpt-1", Email: "anna@example.com", FirstName: "Anna"}
}

func sentEntry(c *domain.Campaign, stepID, recipientID string, sentAt time.Time) domain.DeliveryLogEntry {
	return domain.DeliveryLogEntry{
		CampaignID:  c.ID,
		StepID:      stepID,
		RecipientID: recipientID,
		Status:      domain.DeliverySent,
		SentAt:      sentAt,
		ExternalID:  "ext-" + stepID,
	}
}
