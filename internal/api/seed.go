// Package api exposes the engine's operational endpoints: seeding manual
// campaigns and reporting loop status. Campaign CRUD lives in the admin
// backend, not here.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/engine"
	"github.com/seplitza/backend-rejuvena/internal/pkg/httputil"
)

// Seeder starts a manual campaign for a chosen recipient list.
type Seeder interface {
	SeedManual(ctx context.Context, campaignID string, recipients []domain.Recipient) error
	LastRunAt() time.Time
}

// Handlers carries the operational endpoint dependencies.
type Handlers struct {
	seeder Seeder
}

// NewHandlers creates the operational handlers.
func NewHandlers(seeder Seeder) *Handlers {
	return &Handlers{seeder: seeder}
}

// Mount registers the operational routes.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/api/campaigns/{campaignID}/seed", h.handleSeed)
}

type seedRequest struct {
	Recipients []domain.Recipient `json:"recipients"`
}

// handleSeed dispatches a manual campaign's entry step to the posted
// recipients. Re-posting the same recipients is harmless; the delivery log
// keeps each step at one attempt per recipient.
func (h *Handlers) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.Recipients) == 0 {
		httputil.BadRequest(w, "recipients required")
		return
	}
	for _, rcpt := range req.Recipients {
		if rcpt.ID == "" || rcpt.Email == "" {
			httputil.BadRequest(w, "every recipient needs an id and an email")
			return
		}
	}

	campaignID := chi.URLParam(r, "campaignID")
	if err := h.seeder.SeedManual(r.Context(), campaignID, req.Recipients); err != nil {
		if errors.Is(err, engine.ErrCampaignNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]any{
		"campaign_id": campaignID,
		"seeded":      len(req.Recipients),
	})
}
