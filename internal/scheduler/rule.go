package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/notifier"
)

// ChannelPreferred sends by email when the recipient has an address and by
// SMS otherwise.
const ChannelPreferred = "preferred"

// ErrNoAddress is returned when a recipient has no address for the channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// MissedPolicy decides what happens to a notification whose trigger day has
// passed without a delivery, typically because a daily run did not happen.
type MissedPolicy string

const (
	// MissedLate sends the notification on the next run, marked as late.
	MissedLate MissedPolicy = "late"
	// MissedSkip reports the missed notification and never sends it.
	MissedSkip MissedPolicy = "skip"
)

// AlertPolicy decides how often a missing referee is escalated.
type AlertPolicy string

const (
	// AlertDaily alerts once per day until the duty is filled.
	AlertDaily AlertPolicy = "daily"
	// AlertOnce alerts once per game.
	AlertOnce AlertPolicy = "once"
)

// Rule is a notification sent Offset days before a game to the holders of
// Roles. A Digest rule sends one message per recipient and game day listing
// every game of that day; delivery is still recorded per game.
type Rule struct {
	ID      string
	Offset  int
	Channel string
	Roles   []string
	Digest  bool
	Subject *template.Template
	Body    *template.Template
}

// RefereeCheck escalates games within LeadDays whose judge Roles are empty.
// A zero LeadDays or an empty Escalation list disables the check.
type RefereeCheck struct {
	LeadDays   int
	Roles      []string
	Escalation []string
	Policy     AlertPolicy
	Channel    string
	Subject    *template.Template
	Body       *template.Template
}

// RefereeRuleID is the ledger rule id of missing-referee alerts. Under
// AlertDaily the date of the alert is appended.
const RefereeRuleID = "missing-referee"

func (c RefereeCheck) enabled() bool {
	return c.LeadDays > 0 && len(c.Escalation) > 0 && len(c.Roles) > 0
}

func (c RefereeCheck) ruleID(today time.Time) string {
	if c.Policy == AlertOnce {
		return RefereeRuleID
	}
	return RefereeRuleID + "@" + today.Format("2006-01-02")
}

// MessageData is what subject and body templates see.
type MessageData struct {
	Recipient   game.Recipient
	Role        string
	Task        string
	Game        *game.Game
	Date        string
	Weekday     string
	Kickoff     string
	DaysUntil   int
	Late        bool
	Season      string
	Assignments []game.Assignment
	// Games are the games a digest covers, in schedule order. Otherwise it
	// holds just Game.
	Games []*game.Game
	// Missing lists the empty judge roles in a missing-referee alert.
	Missing []string
}

var weekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

var templateFuncs = template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(game.DisplayLayout) },
	"join":  strings.Join,
	"upper": strings.ToUpper,
}

// ParseTemplate parses a message template. Unknown fields are an error at
// render time.
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
}

// MustParseTemplate is like ParseTemplate but panics on error.
func MustParseTemplate(name, text string) *template.Template {
	return template.Must(ParseTemplate(name, text))
}

func newMessageData(g *game.Game, r game.Recipient, role string, today time.Time, late bool) MessageData {
	d := MessageData{
		Recipient:   r,
		Role:        role,
		Game:        g,
		Date:        g.Date.Format(game.DisplayLayout),
		Weekday:     weekdays[g.Date.Weekday()],
		Kickoff:     g.Kickoff,
		DaysUntil:   game.DaysUntil(today, g.Date),
		Late:        late,
		Season:      game.SeasonOf(g.Date).Label(),
		Assignments: g.Assignments,
		Games:       []*game.Game{g},
	}
	if a, ok := g.Assignment(role); ok {
		d.Task = a.Task
	}
	return d
}

func render(t *template.Template, data MessageData) (string, error) {
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// address picks the transport channel and address for r.
func address(channel string, r game.Recipient) (notifier.Channel, string, error) {
	switch channel {
	case string(notifier.ChannelEmail):
		if r.Email != "" {
			return notifier.ChannelEmail, r.Email, nil
		}
	case string(notifier.ChannelSMS):
		if r.Phone != "" {
			return notifier.ChannelSMS, r.Phone, nil
		}
	case ChannelPreferred, "":
		if strings.Contains(r.Email, "@") {
			return notifier.ChannelEmail, r.Email, nil
		}
		if r.Phone != "" {
			return notifier.ChannelSMS, r.Phone, nil
		}
		channel = ChannelPreferred
	default:
		return "", "", fmt.Errorf("unknown channel %q", channel)
	}
	return "", "", fmt.Errorf("%w %s: %s", ErrNoAddress, channel, r.Name)
}
