package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
)

// Ingestor consumes asynchronous delivery-provider status callbacks and
// updates the delivery log and aggregate campaign stats. All transitions are
// idempotent: the same event delivered twice mutates nothing the second time
// and increments no counter. The store applies the entry update and the stat
// increment as a single atomic unit.
type Ingestor struct {
	log DeliveryLog

	ingested   int64
	duplicates int64
	unknown    int64
}

// NewIngestor creates an ingestor over the given delivery log.
func NewIngestor(log DeliveryLog) *Ingestor {
	return &Ingestor{log: log}
}

// Ingest processes one provider callback. Events for unknown delivery ids
// are acknowledged and discarded: providers retry callbacks and replay them
// out of order, so absence of a local record is expected, not an error.
func (i *Ingestor) Ingest(ctx context.Context, ev domain.EngagementEvent) error {
	// Failed entries carry an empty external_id, so an empty id must never
	// reach the store's external_id lookup.
	if ev.ExternalID == "" {
		atomic.AddInt64(&i.unknown, 1)
		logger.Debug("discarding event without delivery id", "type", string(ev.Type))
		return nil
	}
	switch ev.Type {
	case domain.EventDelivered, domain.EventOpened, domain.EventClicked,
		domain.EventBounced, domain.EventComplained:
	default:
		logger.Debug("ignoring unrecognized event type", "type", string(ev.Type), "external_id", ev.ExternalID)
		return nil
	}

	applied, err := i.log.ApplyEngagement(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUnknownDelivery) {
			atomic.AddInt64(&i.unknown, 1)
			logger.Debug("discarding event for unknown delivery", "external_id", ev.ExternalID, "type", string(ev.Type))
			return nil
		}
		return fmt.Errorf("apply %s event: %w", ev.Type, err)
	}

	if applied {
		atomic.AddInt64(&i.ingested, 1)
	} else {
		atomic.AddInt64(&i.duplicates, 1)
	}
	return nil
}

// Counters returns running ingestion totals for health reporting.
func (i *Ingestor) Counters() (ingested, duplicates, unknown int64) {
	return atomic.LoadInt64(&i.ingested), atomic.LoadInt64(&i.duplicates), atomic.LoadInt64(&i.unknown)
}
