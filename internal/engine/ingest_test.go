package engine

import (
	"context"
	"testing"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

func seedSentEntry(t *testing.T, log *fakeDeliveryLog, externalID string) {
	t.Helper()
	c := testCampaign()
	e := sentEntry(c, "step-1", "rcpt-1", baseTime)
	e.ExternalID = externalID
	if err := log.Insert(context.Background(), &e); err != nil {
		t.Fatal(err)
	}
}

func TestIngest_DeliveredTransition(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{
		ExternalID: "ext-100",
		Type:       domain.EventDelivered,
		OccurredAt: baseTime.Add(time.Minute),
	}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.Status != domain.DeliveryDelivered || entry.DeliveredAt == nil {
		t.Fatalf("entry not transitioned: %+v", entry)
	}
	if n := store.stat("camp-1", domain.StatDelivered); n != 1 {
		t.Errorf("delivered counter = %d, want 1", n)
	}
	ingested, dups, unknown := ing.Counters()
	if ingested != 1 || dups != 0 || unknown != 0 {
		t.Errorf("counters = %d/%d/%d", ingested, dups, unknown)
	}
}

func TestIngest_DuplicateEventIsNoop(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{
		ExternalID: "ext-100",
		Type:       domain.EventOpened,
		OccurredAt: baseTime.Add(time.Minute),
	}
	for i := 0; i < 3; i++ {
		if err := ing.Ingest(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.OpenedAt == nil || !entry.OpenedAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("opened_at = %v, want first occurrence kept", entry.OpenedAt)
	}
	if n := store.stat("camp-1", domain.StatOpened); n != 1 {
		t.Errorf("opened counter = %d, want exactly 1 after replays", n)
	}
	ingested, dups, _ := ing.Counters()
	if ingested != 1 || dups != 2 {
		t.Errorf("ingested/duplicates = %d/%d, want 1/2", ingested, dups)
	}
}

func TestIngest_UnknownExternalIDDiscarded(t *testing.T) {
	log := newFakeDeliveryLog()
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{ExternalID: "no-such-id", Type: domain.EventClicked, OccurredAt: baseTime}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("unknown delivery must be acknowledged, got %v", err)
	}
	_, _, unknown := ing.Counters()
	if unknown != 1 {
		t.Errorf("unknown counter = %d, want 1", unknown)
	}
}

func TestIngest_EmptyExternalIDDiscarded(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	// Failed entries occupy the log with an empty external id; an event
	// without a delivery id must never match them.
	c := testCampaign()
	failed := sentEntry(c, "step-1", "rcpt-1", baseTime)
	failed.Status = domain.DeliveryFailed
	failed.ExternalID = ""
	if err := log.Insert(context.Background(), &failed); err != nil {
		t.Fatal(err)
	}
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{ExternalID: "", Type: domain.EventOpened, OccurredAt: baseTime.Add(time.Minute)}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("empty delivery id must be acknowledged, got %v", err)
	}

	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.OpenedAt != nil || entry.Status != domain.DeliveryFailed {
		t.Fatalf("failed entry must stay untouched: %+v", entry)
	}
	if n := store.stat("camp-1", domain.StatOpened); n != 0 {
		t.Errorf("opened counter = %d, want 0", n)
	}
	_, _, unknown := ing.Counters()
	if unknown != 1 {
		t.Errorf("unknown counter = %d, want 1", unknown)
	}
}

func TestIngest_UnrecognizedTypeIgnored(t *testing.T) {
	log := newFakeDeliveryLog()
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{ExternalID: "ext-100", Type: "forwarded", OccurredAt: baseTime}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	ingested, dups, unknown := ing.Counters()
	if ingested != 0 || dups != 0 || unknown != 0 {
		t.Errorf("counters moved for ignored type: %d/%d/%d", ingested, dups, unknown)
	}
}

func TestIngest_BounceSetsStatusAndReason(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{
		ExternalID: "ext-100",
		Type:       domain.EventBounced,
		OccurredAt: baseTime.Add(time.Minute),
		Metadata:   map[string]string{"reason": "550 mailbox unavailable"},
	}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.Status != domain.DeliveryBounced {
		t.Errorf("status = %s, want bounced", entry.Status)
	}
	if entry.LastError != "550 mailbox unavailable" {
		t.Errorf("last error = %q", entry.LastError)
	}
	if n := store.stat("camp-1", domain.StatBounced); n != 1 {
		t.Errorf("bounced counter = %d, want 1", n)
	}
}

func TestIngest_ComplaintCountsAsUnsubscribe(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	ev := domain.EngagementEvent{ExternalID: "ext-100", Type: domain.EventComplained, OccurredAt: baseTime}
	if err := ing.Ingest(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.UnsubscribedAt == nil {
		t.Fatal("unsubscribed_at not set")
	}
	if n := store.stat("camp-1", domain.StatUnsubscribed); n != 1 {
		t.Errorf("unsubscribed counter = %d, want 1", n)
	}
}

func TestIngest_OutOfOrderOpenBeforeDelivered(t *testing.T) {
	store := newFakeCampaignStore(testCampaign())
	log := newFakeDeliveryLog()
	log.stats = store
	seedSentEntry(t, log, "ext-100")
	ing := NewIngestor(log)

	// Providers replay events out of order; each transition is independent.
	open := domain.EngagementEvent{ExternalID: "ext-100", Type: domain.EventOpened, OccurredAt: baseTime.Add(2 * time.Minute)}
	deliver := domain.EngagementEvent{ExternalID: "ext-100", Type: domain.EventDelivered, OccurredAt: baseTime.Add(time.Minute)}
	if err := ing.Ingest(context.Background(), open); err != nil {
		t.Fatal(err)
	}
	if err := ing.Ingest(context.Background(), deliver); err != nil {
		t.Fatal(err)
	}

	entry := log.get("camp-1", "step-1", "rcpt-1")
	if entry.OpenedAt == nil || entry.DeliveredAt == nil {
		t.Fatalf("both transitions must apply: %+v", entry)
	}
	if entry.Status != domain.DeliveryDelivered {
		t.Errorf("status = %s, want delivered", entry.Status)
	}
}
