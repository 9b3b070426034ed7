package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/seplitza/backend-rejuvena/internal/domain"
	"github.com/seplitza/backend-rejuvena/internal/engine"
)

// DeliveryLog is the Postgres implementation of engine.DeliveryLog, backed
// by the campaign_delivery_log table. The table carries a UNIQUE constraint
// on (campaign_id, step_id, recipient_id).
type DeliveryLog struct {
	db *sql.DB
}

// NewDeliveryLog creates the store over an open database handle.
func NewDeliveryLog(db *sql.DB) *DeliveryLog {
	return &DeliveryLog{db: db}
}

const entryColumns = `campaign_id, step_id, recipient_id, recipient_email, status,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, unsubscribed_at,
	external_id, COALESCE(last_error, '')`

// Insert creates an entry if none occupies the key yet. The conflict target
// is the table's uniqueness constraint, so concurrent inserts for the same
// key resolve to exactly one winner.
func (s *DeliveryLog) Insert(ctx context.Context, e *domain.DeliveryLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_delivery_log
			(campaign_id, step_id, recipient_id, recipient_email, status, sent_at, external_id, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		ON CONFLICT (campaign_id, step_id, recipient_id) DO NOTHING`,
		e.CampaignID, e.StepID, e.RecipientID, e.RecipientEmail, e.Status, e.SentAt, e.ExternalID, e.LastError)
	if err != nil {
		return fmt.Errorf("insert delivery log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrDuplicateEntry
	}
	return nil
}

// ReplaceFailed overwrites an entry only while its status is failed,
// clearing any stale engagement fields from the failed attempt.
func (s *DeliveryLog) ReplaceFailed(ctx context.Context, e *domain.DeliveryLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_delivery_log
		SET recipient_email = $4, status = $5, sent_at = $6, external_id = $7,
			last_error = NULLIF($8, ''),
			delivered_at = NULL, opened_at = NULL, clicked_at = NULL,
			bounced_at = NULL, unsubscribed_at = NULL,
			updated_at = NOW()
		WHERE campaign_id = $1 AND step_id = $2 AND recipient_id = $3 AND status = 'failed'`,
		e.CampaignID, e.StepID, e.RecipientID, e.RecipientEmail, e.Status, e.SentAt, e.ExternalID, e.LastError)
	if err != nil {
		return fmt.Errorf("replace failed entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrDuplicateEntry
	}
	return nil
}

// FindByExternalID returns the entry carrying the provider delivery id, or
// nil when none matches.
func (s *DeliveryLog) FindByExternalID(ctx context.Context, externalID string) (*domain.DeliveryLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM campaign_delivery_log WHERE external_id = $1`, externalID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// History returns a recipient's entries for a campaign in sent order.
func (s *DeliveryLog) History(ctx context.Context, campaignID, recipientID string) ([]domain.DeliveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM campaign_delivery_log
		WHERE campaign_id = $1 AND recipient_id = $2
		ORDER BY sent_at`, campaignID, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Recipients returns every recipient with at least one entry for the
// campaign, with names joined in when the recipient record still exists.
func (s *DeliveryLog) Recipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (l.recipient_id)
			l.recipient_id, l.recipient_email,
			COALESCE(r.first_name, ''), COALESCE(r.last_name, '')
		FROM campaign_delivery_log l
		LEFT JOIN recipients r ON r.id = l.recipient_id
		WHERE l.campaign_id = $1
		ORDER BY l.recipient_id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.Email, &r.FirstName, &r.LastName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Entries returns all entries for a campaign, for read-side analytics.
func (s *DeliveryLog) Entries(ctx context.Context, campaignID string) ([]domain.DeliveryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM campaign_delivery_log
		WHERE campaign_id = $1
		ORDER BY sent_at`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ApplyEngagement applies the event's idempotent transition and the matching
// campaign counter inside one transaction. The guarded UPDATE only matches
// while the transition hasn't happened, so a duplicate event updates zero
// rows and increments nothing.
func (s *DeliveryLog) ApplyEngagement(ctx context.Context, ev domain.EngagementEvent) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var campaignID string
	// Failed entries carry an empty external_id; an empty event id must not
	// match them.
	err = tx.QueryRowContext(ctx,
		`SELECT campaign_id FROM campaign_delivery_log WHERE external_id = $1 AND external_id <> ''`,
		ev.ExternalID).Scan(&campaignID)
	if err == sql.ErrNoRows {
		return false, engine.ErrUnknownDelivery
	}
	if err != nil {
		return false, fmt.Errorf("locate entry: %w", err)
	}

	var res sql.Result
	var stat domain.StatName

	switch ev.Type {
	case domain.EventDelivered:
		stat = domain.StatDelivered
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_delivery_log
			SET status = 'delivered', delivered_at = $2, updated_at = NOW()
			WHERE external_id = $1 AND delivered_at IS NULL`,
			ev.ExternalID, ev.OccurredAt)
	case domain.EventOpened:
		stat = domain.StatOpened
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_delivery_log
			SET opened_at = $2, updated_at = NOW()
			WHERE external_id = $1 AND opened_at IS NULL`,
			ev.ExternalID, ev.OccurredAt)
	case domain.EventClicked:
		stat = domain.StatClicked
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_delivery_log
			SET clicked_at = $2, updated_at = NOW()
			WHERE external_id = $1 AND clicked_at IS NULL`,
			ev.ExternalID, ev.OccurredAt)
	case domain.EventBounced:
		stat = domain.StatBounced
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_delivery_log
			SET status = 'bounced', bounced_at = $2, last_error = NULLIF($3, ''), updated_at = NOW()
			WHERE external_id = $1 AND bounced_at IS NULL`,
			ev.ExternalID, ev.OccurredAt, ev.Reason())
	case domain.EventComplained:
		stat = domain.StatUnsubscribed
		res, err = tx.ExecContext(ctx, `
			UPDATE campaign_delivery_log
			SET unsubscribed_at = $2, updated_at = NOW()
			WHERE external_id = $1 AND unsubscribed_at IS NULL`,
			ev.ExternalID, ev.OccurredAt)
	default:
		return false, fmt.Errorf("unsupported event type %q", ev.Type)
	}
	if err != nil {
		return false, fmt.Errorf("apply transition: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Duplicate callback; nothing changed, nothing to count.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1`,
			statColumn(stat), statColumn(stat)),
		campaignID); err != nil {
		return false, fmt.Errorf("increment %s stat: %w", stat, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*domain.DeliveryLogEntry, error) {
	var e domain.DeliveryLogEntry
	err := row.Scan(
		&e.CampaignID, &e.StepID, &e.RecipientID, &e.RecipientEmail, &e.Status,
		&e.SentAt, &e.DeliveredAt, &e.OpenedAt, &e.ClickedAt, &e.BouncedAt,
		&e.UnsubscribedAt, &e.ExternalID, &e.LastError)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]domain.DeliveryLogEntry, error) {
	var out []domain.DeliveryLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
