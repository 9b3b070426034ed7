package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/engine"
)

type stubSeeder struct {
	campaignID string
	recipients []domain.Recipient
	err        error
}

func (s *stubSeeder) SeedManual(ctx context.Context, campaignID string, recipients []domain.Recipient) error {
	s.campaignID = campaignID
	s.recipients = recipients
	return s.err
}

func (s *stubSeeder) LastRunAt() time.Time { return time.Time{} }

func newSeedServer(seeder *stubSeeder) *httptest.Server {
	r := chi.NewRouter()
	NewHandlers(seeder).Mount(r)
	return httptest.NewServer(r)
}

func TestHandleSeed(t *testing.T) {
	seeder := &stubSeeder{}
	srv := newSeedServer(seeder)
	defer srv.Close()

	body := `{"recipients": [
		{"id": "rcpt-1", "email": "anna@example.com", "first_name": "Anna"},
		{"id": "rcpt-2", "email": "ben@example.com"}
	]}`
	resp, err := http.Post(srv.URL+"/api/campaigns/camp-9/seed", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if seeder.campaignID != "camp-9" || len(seeder.recipients) != 2 {
		t.Errorf("seeded %q with %d recipients", seeder.campaignID, len(seeder.recipients))
	}
}

func TestHandleSeed_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{nope"},
		{"empty recipients", `{"recipients": []}`},
		{"missing id", `{"recipients": [{"email": "a@b.com"}]}`},
		{"missing email", `{"recipients": [{"id": "rcpt-1"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seeder := &stubSeeder{}
			srv := newSeedServer(seeder)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/campaigns/camp-9/seed", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if seeder.campaignID != "" {
				t.Error("seeder must not be called on invalid input")
			}
		})
	}
}

func TestHandleSeed_UnknownCampaign(t *testing.T) {
	seeder := &stubSeeder{err: engine.ErrCampaignNotFound}
	srv := newSeedServer(seeder)
	defer srv.Close()

	body := `{"recipients": [{"id": "rcpt-1", "email": "anna@example.com"}]}`
	resp, err := http.Post(srv.URL+"/api/campaigns/nope/seed", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
