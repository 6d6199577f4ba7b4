package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/rs/xid"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	idStrip      = regexp.MustCompile(`[^A-Za-z0-9 ]`)
	// datePart matches digits joined by a date separator, e.g. "2026-10" or "10/17".
	datePart = regexp.MustCompile(`\d[-/]\d`)
)

// layouts tried before falling back to now.ParseInLocation.
var dueLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// NormalizeID derives a store key from a title. Titles with nothing
// usable left get a time-ordered fallback so two of them never collide.
func NormalizeID(title string) string {
	id := StripID(title)
	if id == "" {
		return "task-" + xid.New().String()
	}
	return id
}

// StripID is NormalizeID without the fallback; it may return "".
// Stripped ids never contain '-', fallback ids always do.
func StripID(title string) string {
	return strings.TrimSpace(idStrip.ReplaceAllString(title, ""))
}

// ValidateEmail checks the basic local@domain shape.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return nil
}

// ValidateTitle rejects blank titles.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}

// ParseDueDate accepts ISO-8601 instants, HTML datetime-local values and
// the looser forms understood by jinzhu/now. Zone-less input is read in loc.
func ParseDueDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: due date is required", ErrValidation)
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	// jinzhu/now reads a bare "5" or "12:30" as a time today.
	if !datePart.MatchString(raw) {
		return time.Time{}, fmt.Errorf("%w: due date %q has no date", ErrValidation, raw)
	}
	t, err := now.ParseInLocation(loc, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid due date %q", ErrValidation, raw)
	}
	return t, nil
}

// Event projects a task onto the calendar view.
func (t Task) Event(url string) CalendarEvent {
	return CalendarEvent{
		Title:   t.Title,
		Start:   t.DueDate.UTC().Format(time.RFC3339),
		URL:     url,
		Details: t.Details,
	}
}
