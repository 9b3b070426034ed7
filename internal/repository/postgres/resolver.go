package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seplitza/backend-rejuvena/internal/domain"
)

// RecipientSource is the Postgres implementation of engine.RecipientSource,
// answering trigger queries over the recipients, program_enrollments,
// programs, and account_events tables.
type RecipientSource struct {
	db *sql.DB
}

// NewRecipientSource creates the source over an open database handle.
func NewRecipientSource(db *sql.DB) *RecipientSource {
	return &RecipientSource{db: db}
}

const recipientColumns = `r.id, r.email, COALESCE(r.first_name, ''), COALESCE(r.last_name, '')`

// EnrolledInWindow returns recipients whose enrollment in the program
// occurred within (from, to].
func (s *RecipientSource) EnrolledInWindow(ctx context.Context, programID string, from, to time.Time) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM program_enrollments e
		JOIN recipients r ON r.id = e.recipient_id
		WHERE e.program_id = $1 AND e.enrolled_at > $2 AND e.enrolled_at <= $3`,
		programID, from, to)
	if err != nil {
		return nil, fmt.Errorf("enrollments in window: %w", err)
	}
	defer rows.Close()
	return collectRecipients(rows)
}

// EnrolledInProgram returns all recipients enrolled in the program.
func (s *RecipientSource) EnrolledInProgram(ctx context.Context, programID string) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM program_enrollments e
		JOIN recipients r ON r.id = e.recipient_id
		WHERE e.program_id = $1`, programID)
	if err != nil {
		return nil, fmt.Errorf("enrollments: %w", err)
	}
	defer rows.Close()
	return collectRecipients(rows)
}

// ProgramSchedule returns the program's dates, or nil when the program
// doesn't exist.
func (s *RecipientSource) ProgramSchedule(ctx context.Context, programID string) (*domain.ProgramSchedule, error) {
	var p domain.ProgramSchedule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, start_date, number_of_days
		FROM programs WHERE id = $1`, programID).
		Scan(&p.ProgramID, &p.Title, &p.StartDate, &p.NumberOfDays)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("program schedule: %w", err)
	}
	return &p, nil
}

// EventedInWindow returns recipients who produced the named account event
// within (from, to].
func (s *RecipientSource) EventedInWindow(ctx context.Context, eventType string, from, to time.Time) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT `+recipientColumns+`
		FROM account_events ev
		JOIN recipients r ON r.id = ev.recipient_id
		WHERE ev.event_type = $1 AND ev.occurred_at > $2 AND ev.occurred_at <= $3`,
		eventType, from, to)
	if err != nil {
		return nil, fmt.Errorf("account events in window: %w", err)
	}
	defer rows.Close()
	return collectRecipients(rows)
}

func collectRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
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
