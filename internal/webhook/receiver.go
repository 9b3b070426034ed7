// Package webhook receives delivery-provider status callbacks over HTTP and
// normalizes them into engagement events for the ingestor.
//
// Providers retry callbacks aggressively and replay them out of order, so
// every handler acknowledges with 200 once the payload parses; per-event
// problems are logged, never surfaced to the provider.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
)

// ingestTimeout bounds the store work for one webhook request. Handlers
// answer 200 regardless, so the provider will not resend; ingestion must
// survive a client disconnect mid-batch.
const ingestTimeout = 30 * time.Second

// Ingestor consumes normalized engagement events.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.EngagementEvent) error
}

// Receiver handles inbound provider webhooks.
type Receiver struct {
	ingestor Ingestor

	received int64
	dropped  int64
}

// NewReceiver creates a receiver feeding the given ingestor.
func NewReceiver(ingestor Ingestor) *Receiver {
	return &Receiver{ingestor: ingestor}
}

// Mount registers the webhook routes on the router.
func (rcv *Receiver) Mount(r chi.Router) {
	r.Post("/webhooks/sparkpost", rcv.HandleSparkPost)
	r.Post("/webhooks/ses", rcv.HandleSES)
}

// Counters returns running webhook totals for health reporting.
func (rcv *Receiver) Counters() (received, dropped int64) {
	return atomic.LoadInt64(&rcv.received), atomic.LoadInt64(&rcv.dropped)
}

// HandleSparkPost processes a SparkPost webhook batch. SparkPost wraps each
// event in an msys envelope keyed by event category.
func (rcv *Receiver) HandleSparkPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var batch []map[string]json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestTimeout)
	defer cancel()

	for _, wrapper := range batch {
		msys, ok := wrapper["msys"]
		if !ok {
			continue
		}
		var categories map[string]sparkPostEvent
		if err := json.Unmarshal(msys, &categories); err != nil {
			atomic.AddInt64(&rcv.dropped, 1)
			continue
		}
		for _, ev := range categories {
			rcv.ingestSparkPost(ctx, ev)
		}
	}

	w.WriteHeader(http.StatusOK)
}

type sparkPostEvent struct {
	Type           string `json:"type"`
	TransmissionID string `json:"transmission_id"`
	MessageID      string `json:"message_id"`
	Timestamp      string `json:"timestamp"`
	Reason         string `json:"reason"`
	BounceClass    string `json:"bounce_class"`
}

func (rcv *Receiver) ingestSparkPost(ctx context.Context, ev sparkPostEvent) {
	kind, ok := sparkPostEventType(ev.Type)
	if !ok {
		return
	}

	externalID := ev.TransmissionID
	if externalID == "" {
		externalID = ev.MessageID
	}
	if externalID == "" {
		atomic.AddInt64(&rcv.dropped, 1)
		return
	}

	occurredAt, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil || occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	event := domain.EngagementEvent{
		ExternalID: externalID,
		Type:       kind,
		OccurredAt: occurredAt,
	}
	if ev.Reason != "" {
		event.Metadata = map[string]string{"reason": ev.Reason}
	}

	atomic.AddInt64(&rcv.received, 1)
	if err := rcv.ingestor.Ingest(ctx, event); err != nil {
		logger.Warn("sparkpost event ingest failed", "external_id", externalID, "type", string(kind), "error", err)
	}
}

func sparkPostEventType(t string) (domain.EventType, bool) {
	switch t {
	case "delivery":
		return domain.EventDelivered, true
	case "open", "initial_open":
		return domain.EventOpened, true
	case "click":
		return domain.EventClicked, true
	case "bounce", "out_of_band":
		return domain.EventBounced, true
	case "spam_complaint":
		return domain.EventComplained, true
	default:
		return "", false
	}
}

// snsMessage is the SNS notification wrapper AWS delivers SES events in.
type snsMessage struct {
	Type         string `json:"Type"`
	SubscribeURL string `json:"SubscribeURL"`
	Message      string `json:"Message"`
}

// HandleSES processes AWS SES notifications delivered through SNS.
func (rcv *Receiver) HandleSES(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var sns snsMessage
	if err := json.Unmarshal(body, &sns); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if sns.Type == "SubscriptionConfirmation" {
		logger.Info("confirming SNS subscription")
		resp, err := http.Get(sns.SubscribeURL)
		if err != nil {
			logger.Warn("SNS subscription confirm failed", "error", err)
		} else {
			resp.Body.Close()
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	var notification struct {
		NotificationType string `json:"notificationType"`
		Mail             struct {
			MessageID string `json:"messageId"`
		} `json:"mail"`
		Bounce *struct {
			BouncedRecipients []struct {
				DiagnosticCode string `json:"diagnosticCode"`
			} `json:"bouncedRecipients"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"bounce"`
		Complaint *struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"complaint"`
		Delivery *struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"delivery"`
	}
	if err := json.Unmarshal([]byte(sns.Message), &notification); err != nil {
		logger.Warn("unparseable SES notification", "error", err)
		// Still 200 so SNS doesn't retry a payload that will never parse.
		w.WriteHeader(http.StatusOK)
		return
	}

	event := domain.EngagementEvent{
		ExternalID: notification.Mail.MessageID,
		OccurredAt: time.Now(),
	}
	switch notification.NotificationType {
	case "Delivery":
		event.Type = domain.EventDelivered
		if notification.Delivery != nil && !notification.Delivery.Timestamp.IsZero() {
			event.OccurredAt = notification.Delivery.Timestamp
		}
	case "Bounce":
		event.Type = domain.EventBounced
		if notification.Bounce != nil {
			if !notification.Bounce.Timestamp.IsZero() {
				event.OccurredAt = notification.Bounce.Timestamp
			}
			if len(notification.Bounce.BouncedRecipients) > 0 {
				event.Metadata = map[string]string{
					"reason": notification.Bounce.BouncedRecipients[0].DiagnosticCode,
				}
			}
		}
	case "Complaint":
		event.Type = domain.EventComplained
		if notification.Complaint != nil && !notification.Complaint.Timestamp.IsZero() {
			event.OccurredAt = notification.Complaint.Timestamp
		}
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.ExternalID == "" {
		atomic.AddInt64(&rcv.dropped, 1)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ingestTimeout)
	defer cancel()

	atomic.AddInt64(&rcv.received, 1)
	if err := rcv.ingestor.Ingest(ctx, event); err != nil {
		logger.Warn("ses event ingest failed", "external_id", event.ExternalID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
