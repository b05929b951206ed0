package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
)

// Options control how games are rendered.
type Options struct {
	// Club names the calendar and forms the UID domain.
	Club string
	// Location is the time zone kickoff times are given in.
	Location *time.Location
	// Duration is the length of a game slot.
	Duration time.Duration
	// RoleLabels maps role names to the labels used in descriptions.
	RoleLabels map[string]string
}

const defaultDuration = 90 * time.Minute

// Generate renders games as one iCalendar feed. Cancelled games stay in the
// feed with STATUS:CANCELLED so subscribed calendars drop them.
func Generate(games []*game.Game, opts Options, stamp time.Time) string {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Duration == 0 {
		opts.Duration = defaultDuration
	}

	var ics strings.Builder
	writeLine(&ics, "BEGIN:VCALENDAR")
	writeLine(&ics, "VERSION:2.0")
	writeLine(&ics, "PRODID:-//homegames//homegames//DE")
	writeLine(&ics, "CALSCALE:GREGORIAN")
	writeLine(&ics, "METHOD:PUBLISH")
	if opts.Club != "" {
		writeLine(&ics, "X-WR-CALNAME:"+escapeICS("Heimspiele "+opts.Club))
	}

	for _, g := range games {
		writeEvent(&ics, g, opts, stamp)
	}

	writeLine(&ics, "END:VCALENDAR")
	return ics.String()
}

func writeEvent(ics *strings.Builder, g *game.Game, opts Options, stamp time.Time) {
	writeLine(ics, "BEGIN:VEVENT")
	writeLine(ics, fmt.Sprintf("UID:%s@%s", g.Key, uidDomain(opts.Club)))
	writeLine(ics, "DTSTAMP:"+formatICSTime(stamp))
	if !g.UpdatedAt.IsZero() {
		writeLine(ics, "LAST-MODIFIED:"+formatICSTime(g.UpdatedAt))
	}

	if start, ok := kickoff(g, opts.Location); ok {
		writeLine(ics, "DTSTART:"+formatICSTime(start))
		writeLine(ics, "DTEND:"+formatICSTime(start.Add(opts.Duration)))
	} else {
		// no kickoff yet: all-day event
		writeLine(ics, "DTSTART;VALUE=DATE:"+g.Date.Format("20060102"))
		writeLine(ics, "DTEND;VALUE=DATE:"+g.Date.AddDate(0, 0, 1).Format("20060102"))
	}

	summary := fmt.Sprintf("%s - %s", g.Home, g.Opponent)
	if g.Team != "" {
		summary = fmt.Sprintf("%s: %s", g.Team, summary)
	}
	writeLine(ics, "SUMMARY:"+escapeICS(summary))

	if desc := description(g, opts.RoleLabels); desc != "" {
		writeLine(ics, "DESCRIPTION:"+escapeICS(desc))
	}
	if g.Venue != "" {
		writeLine(ics, "LOCATION:"+escapeICS("Halle "+g.Venue))
	}

	if g.Cancelled {
		writeLine(ics, "STATUS:CANCELLED")
		writeLine(ics, "SEQUENCE:1")
	} else {
		writeLine(ics, "STATUS:CONFIRMED")
		writeLine(ics, "SEQUENCE:0")
	}
	writeLine(ics, "TRANSP:OPAQUE")
	writeLine(ics, "END:VEVENT")
}

func kickoff(g *game.Game, loc *time.Location) (time.Time, bool) {
	if g.Kickoff == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04", g.Kickoff)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(g.Date.Year(), g.Date.Month(), g.Date.Day(), t.Hour(), t.Minute(), 0, 0, loc), true
}

func description(g *game.Game, labels map[string]string) string {
	var lines []string
	if g.Number != "" {
		lines = append(lines, "Spiel-Nr. "+g.Number)
	}
	for _, a := range g.Assignments {
		label := labels[a.Role]
		if label == "" {
			label = a.Role
		}
		line := fmt.Sprintf("%s: %s", label, a.Recipient)
		if a.Task != "" {
			line = fmt.Sprintf("%s (%s)", line, a.Task)
		}
		lines = append(lines, line)
	}
	if g.Note != "" {
		lines = append(lines, g.Note)
	}
	return strings.Join(lines, "\n")
}

func uidDomain(club string) string {
	domain := strings.ToLower(strings.Join(strings.Fields(club), "-"))
	if domain == "" {
		return "homegames"
	}
	return domain + ".homegames"
}

// formatICSTime formats a time.Time as an iCalendar datetime string
func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeICS escapes special characters for iCalendar format
func escapeICS(s string) string {
	// Replace special characters according to RFC 5545
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// maxLineOctets is the RFC 5545 content line limit, excluding CRLF.
const maxLineOctets = 75

// writeLine writes one content line, folding it so that no physical line
// exceeds 75 octets. Folds never split a UTF-8 sequence.
func writeLine(b *strings.Builder, line string) {
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\r\n ")
		line = line[cut:]
		// continuation lines start with a space
		limit = maxLineOctets - 1
	}
	b.WriteString(line)
	b.WriteString("\r\n")
}

func isRuneStart(c byte) bool {
	return c&0xC0 != 0x80
}
