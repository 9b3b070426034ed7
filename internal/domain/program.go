package domain

import "time"

// Recipient is the minimal recipient context the resolver returns: enough to
// address and personalize a message, nothing more.
type Recipient struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName returns the recipient's name for template personalization,
// falling back to the local part of the email address.
func (r Recipient) DisplayName() string {
	if r.FirstName != "" {
		return r.FirstName
	}
	for i := 0; i < len(r.Email); i++ {
		if r.Email[i] == '@' {
			return r.Email[:i]
		}
	}
	return r.Email
}

// ProgramSchedule holds the program dates the trigger resolver needs to
// day-scope program_start, program_day, and program_completion campaigns.
type ProgramSchedule struct {
	ProgramID    string    `json:"program_id"`
	Title        string    `json:"title"`
	StartDate    time.Time `json:"start_date"`
	NumberOfDays int       `json:"number_of_days"`
}

// LastDay returns the calendar date of the program's final day.
func (p ProgramSchedule) LastDay() time.Time {
	return p.StartDate.AddDate(0, 0, p.NumberOfDays-1)
}

// DayDate returns the calendar date of the program's Nth day (1-based).
func (p ProgramSchedule) DayDate(n int) time.Time {
	return p.StartDate.AddDate(0, 0, n-1)
}
