package scheduler

import (
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/state"
)

// ErrUnknownRecipient is returned when a duty names a recipient that is not
// in the directory.
var ErrUnknownRecipient = errors.New("recipient not configured")

// Config is the static notification setup.
type Config struct {
	Rules   []Rule
	Missed  MissedPolicy
	Referee RefereeCheck
	// StaticRoles maps roles that are not per-game duties, such as press, to
	// recipient names.
	StaticRoles map[string][]string
	Recipients  map[string]game.Recipient
	// LatePrefix is put in front of the subject of late sends, or of the body
	// of an SMS without subject.
	LatePrefix string
}

// Scheduler evaluates rules against the state and sends what is due.
type Scheduler struct {
	cfg    Config
	sender notifier.Notifier
	clock  func() time.Time
	log    *logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used to stamp delivery records.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New creates a Scheduler sending through sender.
func New(cfg Config, sender notifier.Notifier, opts ...Option) *Scheduler {
	if cfg.Missed == "" {
		cfg.Missed = MissedLate
	}
	if cfg.Referee.Policy == "" {
		cfg.Referee.Policy = AlertDaily
	}
	s := &Scheduler{cfg: cfg, sender: sender, clock: time.Now, log: logger.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// candidate is one possible delivery.
type candidate struct {
	game      *game.Game
	ruleID    string
	class     state.Class
	recipient string
	role      string
	channel   string
	subject   *template.Template
	body      *template.Template
	late      bool
	missing   []string
}

func (c candidate) key() state.DeliveryKey {
	return state.DeliveryKey{Game: c.game.Key, Rule: c.ruleID, Recipient: c.recipient}
}

func (c candidate) outcome() Outcome {
	return Outcome{
		GameKey:   c.game.Key,
		Game:      c.game.Label(),
		Rule:      c.ruleID,
		Recipient: c.recipient,
		Class:     c.class,
		Late:      c.late,
	}
}

// Run sends every notification due on today and records each successful
// handoff in st's ledger. A single failure never stops the run; failures are
// collected in the report.
func (s *Scheduler) Run(ctx context.Context, st *state.State, today time.Time) *Report {
	today = game.Day(today)
	rep := &Report{}
	var digests []*digest
	byDigest := make(map[string]*digest)

	for _, g := range st.ActiveGames() {
		if g.Cancelled || g.Date.Before(today) {
			continue
		}
		for _, rule := range s.cfg.Rules {
			trigger := g.Date.AddDate(0, 0, -rule.Offset)
			if today.Before(trigger) {
				continue
			}
			for _, t := range s.targets(g, rule.Roles) {
				c := candidate{
					game:      g,
					ruleID:    rule.ID,
					class:     state.ClassRule,
					recipient: t.recipient,
					role:      t.role,
					channel:   rule.Channel,
					subject:   rule.Subject,
					body:      rule.Body,
					late:      today.After(trigger),
				}
				if !rule.Digest {
					s.consider(ctx, st, today, rep, c)
					continue
				}
				id := rule.ID + "|" + t.recipient + "|" + g.Date.Format("2006-01-02")
				d, ok := byDigest[id]
				if !ok {
					d = &digest{}
					byDigest[id] = d
					digests = append(digests, d)
				}
				d.candidates = append(d.candidates, c)
			}
		}
	}

	for _, d := range digests {
		s.considerDigest(ctx, st, today, rep, d)
	}

	s.checkReferees(ctx, st, today, rep)
	return rep
}

// digest collects the candidates of one digest rule, recipient and game day.
type digest struct {
	candidates []candidate
}

// considerDigest sends one message for every game of the digest that is
// still owed and records each of them.
func (s *Scheduler) considerDigest(ctx context.Context, st *state.State, today time.Time, rep *Report, d *digest) {
	var owed []candidate
	for _, c := range d.candidates {
		if !s.owed(st, rep, c) {
			continue
		}
		owed = append(owed, c)
	}
	if len(owed) > 0 {
		s.deliver(ctx, st, today, rep, owed)
	}
}

type target struct {
	recipient string
	role      string
}

// targets resolves roles to recipients on g. Duty roles come from the game's
// assignments, other roles from the static role table. Each recipient appears
// once, under the first role that names them.
func (s *Scheduler) targets(g *game.Game, roles []string) []target {
	var out []target
	seen := make(map[string]bool)
	add := func(name, role string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, target{recipient: name, role: role})
	}

	for _, role := range roles {
		if a, ok := g.Assignment(role); ok {
			add(a.Recipient, role)
			continue
		}
		for _, name := range s.cfg.StaticRoles[role] {
			add(name, role)
		}
	}
	return out
}

// checkReferees alerts the escalation list about upcoming games whose judge
// roles are still empty.
func (s *Scheduler) checkReferees(ctx context.Context, st *state.State, today time.Time, rep *Report) {
	check := s.cfg.Referee
	if !check.enabled() {
		return
	}

	for _, g := range st.ActiveGames() {
		if g.Cancelled {
			continue
		}
		days := game.DaysUntil(today, g.Date)
		if days < 0 || days > check.LeadDays {
			continue
		}

		var missing []string
		for _, role := range check.Roles {
			if _, ok := g.Assignment(role); !ok {
				missing = append(missing, role)
			}
		}
		if len(missing) == 0 {
			continue
		}

		for _, name := range check.Escalation {
			s.consider(ctx, st, today, rep, candidate{
				game:      g,
				ruleID:    check.ruleID(today),
				class:     state.ClassRefereeAlert,
				recipient: name,
				role:      missing[0],
				channel:   check.Channel,
				subject:   check.Subject,
				body:      check.Body,
				missing:   missing,
			})
		}
	}
}

// consider applies the ledger and the missed-window policy to c and sends it
// if it is still owed.
func (s *Scheduler) consider(ctx context.Context, st *state.State, today time.Time, rep *Report, c candidate) {
	if s.owed(st, rep, c) {
		s.deliver(ctx, st, today, rep, []candidate{c})
	}
}

// owed reports whether c still has to be sent. Recorded and skipped
// candidates are accounted for in rep.
func (s *Scheduler) owed(st *state.State, rep *Report, c candidate) bool {
	if st.Ledger.Has(c.key()) {
		rep.AlreadyDelivered++
		return false
	}
	if c.late && s.cfg.Missed == MissedSkip {
		o := c.outcome()
		o.Reason = "trigger day passed"
		rep.Skipped = append(rep.Skipped, o)
		s.log.Warn("missed notification window", c.fields())
		return false
	}
	return true
}

func (c candidate) fields() logger.Fields {
	return logger.Fields{
		"game":      c.game.Key,
		"rule":      c.ruleID,
		"recipient": c.recipient,
	}
}

// deliver sends one message covering cs, which share rule and recipient, and
// records a delivery for each of them.
func (s *Scheduler) deliver(ctx context.Context, st *state.State, today time.Time, rep *Report, cs []candidate) {
	first := cs[0]
	fields := first.fields()
	if len(cs) > 1 {
		fields["games"] = len(cs)
	}

	fail := func(err error) {
		for _, c := range cs {
			o := c.outcome()
			o.Err = err
			rep.Failed = append(rep.Failed, o)
		}
	}

	msg, err := s.message(cs, today)
	if err != nil {
		fail(err)
		s.log.Error("cannot build notification", fields, err)
		return
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		fail(apperr.Transport("send "+first.ruleID, err))
		s.log.Error("send failed", fields, err)
		return
	}

	sentAt := s.clock().UTC()
	for _, c := range cs {
		d := state.Delivery{
			Game:      c.game.Key,
			Rule:      c.ruleID,
			Recipient: c.recipient,
			Class:     c.class,
			Channel:   string(msg.Channel),
			SentAt:    sentAt,
			Late:      c.late,
		}
		if err := st.Ledger.Record(d); err != nil {
			s.log.Warn("delivery already recorded", c.fields())
		}

		o := c.outcome()
		o.Channel = string(msg.Channel)
		if c.late {
			rep.Late = append(rep.Late, o)
		} else {
			rep.Sent = append(rep.Sent, o)
		}
	}
	fields["channel"] = string(msg.Channel)
	fields["late"] = first.late
	s.log.Info("notification sent", fields)
}

// message resolves the address and renders the templates for cs. The first
// candidate supplies Game; a digest lists all of them in Games.
func (s *Scheduler) message(cs []candidate, today time.Time) (notifier.Message, error) {
	c := cs[0]
	r, ok := s.cfg.Recipients[c.recipient]
	if !ok {
		return notifier.Message{}, apperr.Transport("resolve recipient", fmt.Errorf("%w: %s", ErrUnknownRecipient, c.recipient))
	}

	channel, to, err := address(c.channel, r)
	if err != nil {
		return notifier.Message{}, apperr.Transport("resolve address", err)
	}

	data := newMessageData(c.game, r, c.role, today, c.late)
	data.Missing = c.missing
	if len(cs) > 1 {
		data.Games = make([]*game.Game, 0, len(cs))
		for _, other := range cs {
			data.Games = append(data.Games, other.game)
		}
	}

	subject, err := render(c.subject, data)
	if err != nil {
		return notifier.Message{}, apperr.Render("subject "+c.ruleID, err)
	}
	body, err := render(c.body, data)
	if err != nil {
		return notifier.Message{}, apperr.Render("body "+c.ruleID, err)
	}

	if c.late && s.cfg.LatePrefix != "" {
		// an SMS carries the subject as its first line, if there is one
		if channel == notifier.ChannelSMS && subject == "" {
			body = s.cfg.LatePrefix + body
		} else {
			subject = s.cfg.LatePrefix + subject
		}
	}

	return notifier.Message{
		Channel: channel,
		To:      to,
		Name:    r.Name,
		Subject: subject,
		Body:    body,
	}, nil
}
