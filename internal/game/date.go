package game

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DisplayLayout is the date format used by the schedule source and in messages.
const DisplayLayout = "02.01.2006"

var dateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"02.01.06",
	"2006-01-02",
}

// ParseDate parses a civil date such as "07.03.2026" into midnight UTC.
func ParseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", text)
}

var kickoffPattern = regexp.MustCompile(`\d{1,2}:\d{2}`)

// ParseKickoff extracts "HH:MM" from a source time cell. The source appends
// markers such as " v" (postponed) or " t" (time to be confirmed).
// Returns "" when no time is present.
func ParseKickoff(text string) string {
	match := kickoffPattern.FindString(text)
	if match == "" {
		return ""
	}
	t, err := time.Parse("15:04", match)
	if err != nil {
		return ""
	}
	return t.Format("15:04")
}

// Day truncates t to its civil date at midnight UTC, using t's own location
// to decide which day it is.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns the number of whole days from today to date. Both are
// expected to be civil dates as produced by Day or ParseDate.
func DaysUntil(today, date time.Time) int {
	return int(Day(date).Sub(Day(today)).Hours() / 24)
}

// Season is a playing season that starts in July of StartYear.
type Season struct {
	StartYear int
}

// SeasonOf returns the season a date falls into. Months from July onwards
// belong to the season starting that year.
func SeasonOf(t time.Time) Season {
	if t.Month() >= time.July {
		return Season{StartYear: t.Year()}
	}
	return Season{StartYear: t.Year() - 1}
}

// Label renders the season as "2025/26".
func (s Season) Label() string {
	return fmt.Sprintf("%d/%02d", s.StartYear, (s.StartYear+1)%100)
}

// Suffix renders the season as "2025_26" for file names.
func (s Season) Suffix() string {
	return fmt.Sprintf("%d_%02d", s.StartYear, (s.StartYear+1)%100)
}

// From is the first day of the fetch window (1 September).
func (s Season) From() time.Time {
	return time.Date(s.StartYear, time.September, 1, 0, 0, 0, 0, time.UTC)
}

// To is the last day of the fetch window (1 July of the following year).
func (s Season) To() time.Time {
	return time.Date(s.StartYear+1, time.July, 1, 0, 0, 0, 0, time.UTC)
}
