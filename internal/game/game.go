package game

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is returned for a fetched row that lacks a required field.
var ErrMalformed = errors.New("malformed game record")

// IdentityPolicy selects which fields make up a game's identity key.
type IdentityPolicy string

const (
	// IdentityOpponentDate keys by team, opponent and date. A venue change is
	// an in-place update.
	IdentityOpponentDate IdentityPolicy = "opponent-date"
	// IdentityOpponentDateVenue adds the venue, so a venue change cancels the
	// old game and creates a new one.
	IdentityOpponentDateVenue IdentityPolicy = "opponent-date-venue"
	// IdentityNumber keys by the source's game number, falling back to
	// IdentityOpponentDate for rows without one.
	IdentityNumber IdentityPolicy = "number"
)

// Valid reports whether p is a known policy.
func (p IdentityPolicy) Valid() bool {
	switch p {
	case IdentityOpponentDate, IdentityOpponentDateVenue, IdentityNumber:
		return true
	}
	return false
}

// Assignment sources.
const (
	SourceAuto     = "auto"
	SourceOverride = "override"
)

// Assignment binds a duty role on a game to a recipient by name.
type Assignment struct {
	Role      string `json:"role"`
	Recipient string `json:"recipient"`
	Task      string `json:"task,omitempty"`
	Source    string `json:"source"`
}

// Recipient is a person or group that can be notified.
type Recipient struct {
	Name  string `json:"name" mapstructure:"name"`
	Email string `json:"email,omitempty" mapstructure:"email"`
	Phone string `json:"phone,omitempty" mapstructure:"phone"`
}

// HasChannel reports whether the recipient has at least one address.
func (r Recipient) HasChannel() bool {
	return r.Email != "" || r.Phone != ""
}

// Game is a single home fixture.
type Game struct {
	Key         string       `json:"key"`
	Number      string       `json:"number,omitempty"`
	Date        time.Time    `json:"date"`
	Kickoff     string       `json:"kickoff,omitempty"`
	Team        string       `json:"team,omitempty"`
	Home        string       `json:"home,omitempty"`
	Opponent    string       `json:"opponent"`
	Venue       string       `json:"venue,omitempty"`
	Note        string       `json:"note,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
	Cancelled   bool         `json:"cancelled,omitempty"`
	CancelledAt time.Time    `json:"cancelled_at,omitempty"`
	FirstSeen   time.Time    `json:"first_seen"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Raw is one row as delivered by the schedule source, before validation.
type Raw struct {
	Day    string `json:"day,omitempty"`
	Date   string `json:"date"`
	Time   string `json:"time,omitempty"`
	Hall   string `json:"hall,omitempty"`
	Number string `json:"number,omitempty"`
	Team   string `json:"team,omitempty"`
	Home   string `json:"home,omitempty"`
	Guest  string `json:"guest"`
	Note   string `json:"note,omitempty"`
}

// Key derives the identity key for the given fields under policy p.
func Key(p IdentityPolicy, team, opponent string, date time.Time, venue, number string) string {
	var parts []string
	switch {
	case p == IdentityNumber && strings.TrimSpace(number) != "":
		parts = []string{"nr", strings.TrimSpace(number)}
	case p == IdentityOpponentDateVenue:
		parts = []string{normalize(team), normalize(opponent), date.Format(dateKeyLayout), normalize(venue)}
	default:
		parts = []string{normalize(team), normalize(opponent), date.Format(dateKeyLayout)}
	}

	h := sha1.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", h.Sum(nil))
}

const dateKeyLayout = "2006-01-02"

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Parse validates a raw row and converts it into a Game keyed under policy p.
// Timestamps are left zero; the reconciler owns them.
func Parse(raw Raw, p IdentityPolicy) (*Game, error) {
	opponent := strings.TrimSpace(raw.Guest)
	if opponent == "" {
		return nil, fmt.Errorf("%w: missing opponent", ErrMalformed)
	}
	if strings.TrimSpace(raw.Date) == "" {
		return nil, fmt.Errorf("%w: missing date for %q", ErrMalformed, opponent)
	}
	date, err := ParseDate(raw.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	g := &Game{
		Number:   strings.TrimSpace(raw.Number),
		Date:     date,
		Kickoff:  ParseKickoff(raw.Time),
		Team:     strings.TrimSpace(raw.Team),
		Home:     strings.TrimSpace(raw.Home),
		Opponent: opponent,
		Venue:    strings.TrimSpace(raw.Hall),
		Note:     strings.TrimSpace(raw.Note),
	}
	g.Key = Key(p, g.Team, g.Opponent, g.Date, g.Venue, g.Number)
	return g, nil
}

// Assignment returns the assignment for role, if any.
func (g *Game) Assignment(role string) (Assignment, bool) {
	for _, a := range g.Assignments {
		if a.Role == role {
			return a, true
		}
	}
	return Assignment{}, false
}

// Assign sets the assignment for a.Role, replacing an existing one.
func (g *Game) Assign(a Assignment) {
	for i := range g.Assignments {
		if g.Assignments[i].Role == a.Role {
			g.Assignments[i] = a
			return
		}
	}
	g.Assignments = append(g.Assignments, a)
}

// Label is a short human-readable description used in logs and messages.
func (g *Game) Label() string {
	label := fmt.Sprintf("%s %s vs %s", g.Date.Format(DisplayLayout), g.Home, g.Opponent)
	if g.Team != "" {
		label = fmt.Sprintf("%s (%s)", label, g.Team)
	}
	return strings.Join(strings.Fields(label), " ")
}

// Less orders games by date, kickoff and key.
func Less(a, b *Game) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Kickoff != b.Kickoff {
		return a.Kickoff < b.Kickoff
	}
	return a.Key < b.Key
}
