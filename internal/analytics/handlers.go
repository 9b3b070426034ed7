package analytics

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seplitza/backend-rejuvena/internal/engine"
	"github.com/seplitza/backend-rejuvena/internal/pkg/httputil"
)

// Mount registers the read-only reporting routes.
func (s *Service) Mount(r chi.Router) {
	r.Get("/api/campaigns/{campaignID}/report", s.handleReport)
	r.Get("/api/campaigns/{campaignID}/stats", s.handleStats)
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.CampaignReport(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, engine.ErrCampaignNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, report)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		if errors.Is(err, engine.ErrCampaignNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c.Stats)
}
