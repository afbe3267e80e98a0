package bookaware

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// PortalDateLayout is how the library portal prints due dates.
	PortalDateLayout = "02.01.2006"
	// DateLayout is the ISO calendar date used on the wire.
	DateLayout = "2006-01-02"
)

// Loan is a single borrowed item as listed in the account overview.
type Loan struct {
	DueDate  time.Time
	Library  string
	Title    string
	Hint     string
	DaysLeft int
}

type loanJSON struct {
	DueDate  string `json:"due_date"`
	Library  string `json:"library"`
	Title    string `json:"title"`
	Hint     string `json:"hint"`
	DaysLeft int    `json:"days_left"`
}

func (l Loan) MarshalJSON() ([]byte, error) {
	return json.Marshal(loanJSON{
		DueDate:  l.DueDate.Format(DateLayout),
		Library:  l.Library,
		Title:    l.Title,
		Hint:     l.Hint,
		DaysLeft: l.DaysLeft,
	})
}

func (l *Loan) UnmarshalJSON(data []byte) error {
	var raw loanJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	due, err := time.ParseInLocation(DateLayout, raw.DueDate, time.Local)
	if err != nil {
		return fmt.Errorf("bad due_date %q: %w", raw.DueDate, err)
	}
	*l = Loan{
		DueDate:  due,
		Library:  raw.Library,
		Title:    raw.Title,
		Hint:     raw.Hint,
		DaysLeft: raw.DaysLeft,
	}
	return nil
}

// ParseDueDate parses a DD.MM.YYYY portal date as local midnight.
func ParseDueDate(s string) (time.Time, error) {
	return time.ParseInLocation(PortalDateLayout, strings.TrimSpace(s), time.Local)
}

// DaysUntil returns the number of calendar days from now's date to due.
func DaysUntil(due, now time.Time) int {
	// Dates are rebuilt in UTC so DST shifts cannot skew the division.
	dy, dm, dd := due.Date()
	ny, nm, nd := now.In(due.Location()).Date()
	a := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}
