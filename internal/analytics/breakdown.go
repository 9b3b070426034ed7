// Package analytics derives the read-side reporting views: per-campaign
// aggregate stats plus per-step breakdowns computed by grouping delivery-log
// entries. Breakdowns are never stored; recomputing them from the log avoids
// double-bookkeeping against the campaign counters.
package analytics

import (
	"context"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// StepBreakdown aggregates one step's delivery-log entries.
type StepBreakdown struct {
	StepID    string  `json:"step_id"`
	Position  int     `json:"position"`
	Sent      int     `json:"sent"`
	Delivered int     `json:"delivered"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	Bounced   int     `json:"bounced"`
	Failed    int     `json:"failed"`
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
}

// CampaignReport is the full read-side view for one campaign.
type CampaignReport struct {
	CampaignID string          `json:"campaign_id"`
	Name       string          `json:"name"`
	Stats      domain.Stats    `json:"stats"`
	Steps      []StepBreakdown `json:"steps"`
}

// Compute groups entries by step. Failed attempts don't count as sent; rates
// are against sent counts.
func Compute(steps []domain.Step, entries []domain.DeliveryLogEntry) []StepBreakdown {
	byStep := make(map[string]*StepBreakdown, len(steps))
	out := make([]StepBreakdown, len(steps))
	for i, s := range steps {
		out[i] = StepBreakdown{StepID: s.ID, Position: s.Position}
		byStep[s.ID] = &out[i]
	}

	for _, e := range entries {
		b, ok := byStep[e.StepID]
		if !ok {
			continue // entry for a step removed since
		}
		if e.Status == domain.DeliveryFailed {
			b.Failed++
			continue
		}
		b.Sent++
		if e.DeliveredAt != nil {
			b.Delivered++
		}
		if e.OpenedAt != nil {
			b.Opened++
		}
		if e.ClickedAt != nil {
			b.Clicked++
		}
		if e.BouncedAt != nil {
			b.Bounced++
		}
	}

	for i := range out {
		if out[i].Sent > 0 {
			out[i].OpenRate = float64(out[i].Opened) / float64(out[i].Sent)
			out[i].ClickRate = float64(out[i].Clicked) / float64(out[i].Sent)
		}
	}
	return out
}

// Service assembles campaign reports from the campaign store and delivery
// log.
type Service struct {
	campaigns engine.CampaignStore
	log       engine.DeliveryLog
}

// NewService creates a reporting service.
func NewService(campaigns engine.CampaignStore, log engine.DeliveryLog) *Service {
	return &Service{campaigns: campaigns, log: log}
}

// CampaignReport builds the full report for one campaign. Returns
// engine.ErrCampaignNotFound for unknown ids.
func (s *Service) CampaignReport(ctx context.Context, campaignID string) (*CampaignReport, error) {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	entries, err := s.log.Entries(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignReport{
		CampaignID: c.ID,
		Name:       c.Name,
		Stats:      c.Stats,
		Steps:      Compute(c.Steps, entries),
	}, nil
}
