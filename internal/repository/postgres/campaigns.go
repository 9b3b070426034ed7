package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// CampaignStore is the Postgres implementation of engine.CampaignStore.
// Campaign CRUD is owned by the admin API; the engine only reads definitions
// and bumps counters.
type CampaignStore struct {
	db *sql.DB
}

// NewCampaignStore creates the store over an open database handle.
func NewCampaignStore(db *sql.DB) *CampaignStore {
	return &CampaignStore{db: db}
}

const campaignColumns = `id, name, trigger_spec, steps, active,
	sent_count, delivered_count, opened_count, clicked_count, bounced_count, unsubscribed_count,
	created_at, updated_at`

// ListActive returns all campaigns flagged active, with steps ordered by
// position.
func (s *CampaignStore) ListActive(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE active = TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Get returns a single campaign by id.
func (s *CampaignStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// IncrementStat bumps one aggregate counter with column arithmetic, so
// concurrent increments from dispatch and ingestion never lose updates.
func (s *CampaignStore) IncrementStat(ctx context.Context, campaignID string, stat domain.StatName) error {
	col := statColumn(stat)
	if col == "" {
		return fmt.Errorf("unknown stat %q", stat)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, col, col),
		campaignID)
	if err != nil {
		return fmt.Errorf("increment %s: %w", stat, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrCampaignNotFound
	}
	return nil
}

// statColumn maps a stat name onto its campaigns column. The switch is the
// whole allow-list; stat names never reach SQL text any other way.
func statColumn(stat domain.StatName) string {
	switch stat {
	case domain.StatSent:
		return "sent_count"
	case domain.StatDelivered:
		return "delivered_count"
	case domain.StatOpened:
		return "opened_count"
	case domain.StatClicked:
		return "clicked_count"
	case domain.StatBounced:
		return "bounced_count"
	case domain.StatUnsubscribed:
		return "unsubscribed_count"
	}
	return ""
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var triggerJSON, stepsJSON []byte
	err := row.Scan(&c.ID, &c.Name, &triggerJSON, &stepsJSON, &c.Active,
		&c.Stats.Sent, &c.Stats.Delivered, &c.Stats.Opened, &c.Stats.Clicked,
		&c.Stats.Bounced, &c.Stats.Unsubscribed,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggerJSON, &c.Trigger); err != nil {
		return nil, fmt.Errorf("campaign %s: decode trigger: %w", c.ID, err)
	}
	if err := json.Unmarshal(stepsJSON, &c.Steps); err != nil {
		return nil, fmt.Errorf("campaign %s: decode steps: %w", c.ID, err)
	}
	return &c, nil
}
