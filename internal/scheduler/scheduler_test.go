package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/state"
)

type mockNotifier struct {
	SendFunc func(ctx context.Context, msg notifier.Message) error
	sent     []notifier.Message
}

func (m *mockNotifier) Send(ctx context.Context, msg notifier.Message) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

var (
	gameDay = time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)
	sentAt  = time.Date(2026, time.March, 6, 7, 0, 0, 0, time.UTC)
)

func day(offset int) time.Time {
	return gameDay.AddDate(0, 0, offset)
}

func judgeReminder() Rule {
	return Rule{
		ID:      "judge-reminder",
		Offset:  1,
		Channel: "email",
		Roles:   []string{"judge"},
		Subject: MustParseTemplate("subject", "Kampfgericht am {{.Weekday}}, {{.Date}}"),
		Body:    MustParseTemplate("body", "Hallo {{.Recipient.Name}}, {{.Game.Home}} gegen {{.Game.Opponent}} um {{.Kickoff}}."),
	}
}

func testConfig() Config {
	return Config{
		Rules: []Rule{judgeReminder()},
		Recipients: map[string]game.Recipient{
			"Anna":   {Name: "Anna", Email: "anna@example.org"},
			"Ben":    {Name: "Ben", Email: "ben@example.org", Phone: "+4915100001"},
			"Carla":  {Name: "Carla", Phone: "+4915100002"},
			"Presse": {Name: "Presse", Email: "presse@example.org"},
			"Obmann": {Name: "Obmann", Email: "obmann@example.org"},
		},
		LatePrefix: "[verspätet] ",
	}
}

func newGame(key string, date time.Time, opponent string, assignments ...game.Assignment) *game.Game {
	return &game.Game{
		Key:         key,
		Date:        date,
		Kickoff:     "18:00",
		Home:        "TV Musterstadt",
		Opponent:    opponent,
		Assignments: assignments,
	}
}

func judge(name string) game.Assignment {
	return game.Assignment{Role: "judge", Recipient: name, Source: game.SourceAuto}
}

func stateWith(games ...*game.Game) *state.State {
	st := state.New()
	for _, g := range games {
		st.Games[g.Key] = g
	}
	return st
}

func newScheduler(t *testing.T, cfg Config, n notifier.Notifier) *Scheduler {
	return New(cfg, n, WithClock(func() time.Time { return sentAt }), WithLogger(logger.NewTest(t)))
}

func TestRun_JudgeReminderDayBefore(t *testing.T) {
	st := stateWith(newGame("g1", gameDay, "Team X", judge("Anna")))
	n := &mockNotifier{}
	s := newScheduler(t, testConfig(), n)

	rep := s.Run(context.Background(), st, day(-1))

	require.Len(t, n.sent, 1)
	msg := n.sent[0]
	assert.Equal(t, notifier.ChannelEmail, msg.Channel)
	assert.Equal(t, "anna@example.org", msg.To)
	assert.Equal(t, "Kampfgericht am Samstag, 07.03.2026", msg.Subject)
	assert.Equal(t, "Hallo Anna, TV Musterstadt gegen Team X um 18:00.", msg.Body)

	require.Len(t, rep.Sent, 1)
	assert.Empty(t, rep.Late)
	assert.NoError(t, rep.Err())

	require.Equal(t, 1, st.Ledger.Len())
	d := st.Ledger.Records()[0]
	assert.Equal(t, state.Delivery{
		Game:      "g1",
		Rule:      "judge-reminder",
		Recipient: "Anna",
		Class:     state.ClassRule,
		Channel:   "email",
		SentAt:    sentAt,
	}, d)

	// rerun on the same day
	rep = s.Run(context.Background(), st, day(-1))
	assert.Len(t, n.sent, 1)
	assert.Empty(t, rep.Sent)
	assert.Equal(t, 1, rep.AlreadyDelivered)
	assert.Equal(t, 1, st.Ledger.Len())
}

func TestRun_TriggerBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		today    time.Time
		missed   MissedPolicy
		wantSent int
		wantLate int
		wantSkip int
	}{
		{name: "two days before", today: day(-2)},
		{name: "trigger day", today: day(-1), wantSent: 1},
		{name: "game day late", today: day(0), missed: MissedLate, wantLate: 1},
		{name: "game day skip", today: day(0), missed: MissedSkip, wantSkip: 1},
		{name: "default policy is late", today: day(0), wantLate: 1},
		{name: "after the game", today: day(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateWith(newGame("g1", gameDay, "Team X", judge("Anna")))
			cfg := testConfig()
			cfg.Missed = tt.missed
			n := &mockNotifier{}

			rep := newScheduler(t, cfg, n).Run(context.Background(), st, tt.today)

			assert.Len(t, rep.Sent, tt.wantSent)
			assert.Len(t, rep.Late, tt.wantLate)
			assert.Len(t, rep.Skipped, tt.wantSkip)
			assert.Len(t, n.sent, tt.wantSent+tt.wantLate)
			assert.Equal(t, tt.wantSent+tt.wantLate, st.Ledger.Len())
		})
	}
}

func TestRun_LateSendIsMarked(t *testing.T) {
	st := stateWith(newGame("g1", gameDay, "Team X", judge("Anna"), game.Assignment{Role: "kiosk", Recipient: "Carla"}))
	cfg := testConfig()
	cfg.Rules = append(cfg.Rules, Rule{
		ID:      "kiosk-reminder",
		Offset:  2,
		Channel: ChannelPreferred,
		Roles:   []string{"kiosk"},
		Body:    MustParseTemplate("sms", "Kiosk {{.Date}}{{if .Late}} (Nachtrag){{end}}"),
	})
	n := &mockNotifier{}

	rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(0))

	require.Len(t, rep.Late, 2)
	require.Len(t, n.sent, 2)
	assert.Equal(t, "[verspätet] Kampfgericht am Samstag, 07.03.2026", n.sent[0].Subject)
	assert.Equal(t, notifier.ChannelSMS, n.sent[1].Channel)
	assert.Equal(t, "[verspätet] Kiosk 07.03.2026 (Nachtrag)", n.sent[1].Body)

	for _, d := range st.Ledger.Records() {
		assert.True(t, d.Late, d.Rule)
	}
}

func TestRun_LateSMSWithSubjectStartsWithPrefix(t *testing.T) {
	st := stateWith(newGame("g1", gameDay, "Team X", game.Assignment{Role: "kiosk", Recipient: "Carla"}))
	cfg := testConfig()
	cfg.Rules = []Rule{{
		ID:      "kiosk-reminder",
		Offset:  2,
		Channel: "sms",
		Roles:   []string{"kiosk"},
		Subject: MustParseTemplate("s", "Kiosk {{.Date}}"),
		Body:    MustParseTemplate("b", "Bitte Kuchen mitbringen."),
	}}
	n := &mockNotifier{}

	rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(0))

	require.Len(t, rep.Late, 1)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "[verspätet] Kiosk 07.03.2026", n.sent[0].Subject)
	assert.Equal(t, "Bitte Kuchen mitbringen.", n.sent[0].Body)
}

func TestRun_CancelledGameNeverFires(t *testing.T) {
	g := newGame("g1", gameDay, "Team X", judge("Anna"))
	g.Cancelled = true
	st := stateWith(g)
	n := &mockNotifier{}
	s := newScheduler(t, testConfig(), n)

	for offset := -5; offset <= 0; offset++ {
		rep := s.Run(context.Background(), st, day(offset))
		assert.Zero(t, rep.Delivered())
	}
	assert.Empty(t, n.sent)
	assert.Zero(t, st.Ledger.Len())
}

func TestRun_TransportFailureRetriesNextRun(t *testing.T) {
	st := stateWith(
		newGame("g1", gameDay, "Team X", judge("Anna")),
		newGame("g2", gameDay, "Team Y", judge("Ben")),
	)
	fail := true
	n := &mockNotifier{
		SendFunc: func(_ context.Context, msg notifier.Message) error {
			if fail && msg.To == "anna@example.org" {
				return errors.New("throttled")
			}
			return nil
		},
	}
	s := newScheduler(t, testConfig(), n)

	rep := s.Run(context.Background(), st, day(-1))
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "Anna", rep.Failed[0].Recipient)
	assert.Len(t, rep.Sent, 1)
	assert.Equal(t, apperr.CodeTransport, apperr.CodeOf(rep.Err()))
	assert.ErrorContains(t, rep.Err(), "throttled")
	assert.Equal(t, 1, st.Ledger.Len())
	assert.False(t, st.Ledger.Has(state.DeliveryKey{Game: "g1", Rule: "judge-reminder", Recipient: "Anna"}))

	fail = false
	rep = s.Run(context.Background(), st, day(-1))
	assert.Len(t, rep.Sent, 1)
	assert.Equal(t, 1, rep.AlreadyDelivered)
	assert.Equal(t, 2, st.Ledger.Len())
}

func TestRun_RecipientProblems(t *testing.T) {
	tests := []struct {
		name    string
		holder  string
		channel string
		body    string
		wantErr error
		code    apperr.Code
	}{
		{name: "unknown recipient", holder: "Zoe", channel: "email", wantErr: ErrUnknownRecipient, code: apperr.CodeTransport},
		{name: "no email address", holder: "Carla", channel: "email", wantErr: ErrNoAddress, code: apperr.CodeTransport},
		{name: "no phone", holder: "Anna", channel: "sms", wantErr: ErrNoAddress, code: apperr.CodeTransport},
		{name: "bad template", holder: "Anna", channel: "email", body: "{{.Nope}}", code: apperr.CodeRender},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateWith(newGame("g1", gameDay, "Team X", judge(tt.holder)))
			cfg := testConfig()
			cfg.Rules[0].Channel = tt.channel
			if tt.body != "" {
				cfg.Rules[0].Body = MustParseTemplate("body", tt.body)
			}
			n := &mockNotifier{}

			rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(-1))

			require.Len(t, rep.Failed, 1)
			err := rep.Failed[0].Err
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			assert.False(t, apperr.IsFatal(err))
			assert.Empty(t, n.sent)
			assert.Zero(t, st.Ledger.Len())
		})
	}
}

func TestRun_DigestOnePerGameDay(t *testing.T) {
	g1 := newGame("g1", gameDay, "Team X", judge("Anna"))
	g2 := newGame("g2", gameDay, "Team Y", judge("Ben"))
	g2.Kickoff = "20:00"
	g3 := newGame("g3", day(7), "Team Z", judge("Anna"))
	st := stateWith(g1, g2, g3)

	cfg := testConfig()
	cfg.StaticRoles = map[string][]string{"press": {"Presse"}}
	cfg.Rules = []Rule{{
		ID:      "press",
		Offset:  2,
		Channel: "email",
		Roles:   []string{"press"},
		Digest:  true,
		Subject: MustParseTemplate("s", "Heimspiele am {{.Date}}"),
		Body:    MustParseTemplate("b", "{{range .Games}}{{.Kickoff}} {{.Home}} - {{.Opponent}}\n{{end}}"),
	}}
	n := &mockNotifier{}

	rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(-2))

	require.Len(t, n.sent, 1)
	assert.Equal(t, "Heimspiele am 07.03.2026", n.sent[0].Subject)
	assert.Equal(t, "18:00 TV Musterstadt - Team X\n20:00 TV Musterstadt - Team Y", n.sent[0].Body)
	assert.Len(t, rep.Sent, 2)
	assert.Equal(t, 2, st.Ledger.Len())

	// a game added later for the same day gets its own digest
	g4 := newGame("g4", gameDay, "Team W", judge("Ben"))
	g4.Kickoff = "16:00"
	st.Games[g4.Key] = g4

	rep = newScheduler(t, cfg, n).Run(context.Background(), st, day(-2))

	require.Len(t, n.sent, 2)
	assert.Equal(t, "16:00 TV Musterstadt - Team W", n.sent[1].Body)
	assert.Equal(t, 2, rep.AlreadyDelivered)
	assert.Equal(t, 3, st.Ledger.Len())
}

func TestRun_DigestFailureRecordsNothing(t *testing.T) {
	st := stateWith(
		newGame("g1", gameDay, "Team X", judge("Anna")),
		newGame("g2", gameDay, "Team Y", judge("Ben")),
	)
	cfg := testConfig()
	cfg.StaticRoles = map[string][]string{"press": {"Presse"}}
	cfg.Rules = []Rule{{
		ID: "press", Offset: 2, Channel: "email", Roles: []string{"press"}, Digest: true,
		Subject: MustParseTemplate("s", "Heimspiele am {{.Date}}"),
	}}
	n := &mockNotifier{SendFunc: func(context.Context, notifier.Message) error { return errors.New("throttled") }}

	rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(-2))

	assert.Len(t, rep.Failed, 2)
	assert.Zero(t, st.Ledger.Len())
}

func TestRun_PreferredChannel(t *testing.T) {
	st := stateWith(
		newGame("g1", gameDay, "Team X", judge("Ben")),
		newGame("g2", gameDay, "Team Y", judge("Carla")),
	)
	cfg := testConfig()
	cfg.Rules[0].Channel = ChannelPreferred
	n := &mockNotifier{}

	newScheduler(t, cfg, n).Run(context.Background(), st, day(-1))

	require.Len(t, n.sent, 2)
	byTo := map[string]notifier.Channel{}
	for _, m := range n.sent {
		byTo[m.To] = m.Channel
	}
	assert.Equal(t, map[string]notifier.Channel{
		"ben@example.org": notifier.ChannelEmail,
		"+4915100002":     notifier.ChannelSMS,
	}, byTo)
}

func TestRun_StaticRoleOncePerGame(t *testing.T) {
	st := stateWith(
		newGame("g1", gameDay, "Team X", judge("Anna")),
		newGame("g2", day(7), "Team Y", judge("Ben")),
	)
	cfg := testConfig()
	cfg.StaticRoles = map[string][]string{"press": {"Presse"}}
	cfg.Rules = []Rule{{
		ID:      "press",
		Offset:  7,
		Channel: "email",
		Roles:   []string{"press", "press"},
		Subject: MustParseTemplate("s", "Heimspiel gegen {{.Game.Opponent}} in {{.DaysUntil}} Tagen"),
	}}
	n := &mockNotifier{}

	rep := newScheduler(t, cfg, n).Run(context.Background(), st, day(0))

	require.Len(t, rep.Sent, 1)
	assert.Equal(t, "g2", rep.Sent[0].GameKey)
	require.Len(t, n.sent, 2)
	assert.Equal(t, "presse@example.org", n.sent[1].To)
	assert.Equal(t, "Heimspiel gegen Team Y in 7 Tagen", n.sent[1].Subject)
	// g1's press notice was due a week ago and is sent late
	require.Len(t, rep.Late, 1)
	assert.Equal(t, "g1", rep.Late[0].GameKey)
	assert.Equal(t, "[verspätet] Heimspiel gegen Team X in 0 Tagen", n.sent[0].Subject)
}

func TestRun_RuleAddressesSeveralRoles(t *testing.T) {
	g := newGame("g1", gameDay, "Team X", judge("Anna"),
		game.Assignment{Role: "kiosk", Recipient: "Ben", Task: "Kuchen"},
		game.Assignment{Role: "clock", Recipient: "Anna"},
	)
	cfg := testConfig()
	cfg.Rules = []Rule{{
		ID:      "duty-week",
		Offset:  7,
		Channel: "email",
		Roles:   []string{"judge", "kiosk", "clock"},
		Body:    MustParseTemplate("b", "{{.Role}}{{with .Task}}: {{.}}{{end}}"),
	}}
	n := &mockNotifier{}

	newScheduler(t, cfg, n).Run(context.Background(), stateWith(g), day(-7))

	require.Len(t, n.sent, 2)
	assert.Equal(t, "judge", n.sent[0].Body)
	assert.Equal(t, "kiosk: Kuchen", n.sent[1].Body)
}

func TestRun_MissingRefereeAlert(t *testing.T) {
	tests := []struct {
		name      string
		policy    AlertPolicy
		wantAlert []int // offsets of days on which an alert goes out
	}{
		{name: "daily", policy: AlertDaily, wantAlert: []int{-3, -2, -1, 0}},
		{name: "once", policy: AlertOnce, wantAlert: []int{-3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateWith(newGame("g1", gameDay, "Team X"))
			cfg := testConfig()
			cfg.Referee = RefereeCheck{
				LeadDays:   3,
				Roles:      []string{"judge"},
				Escalation: []string{"Obmann"},
				Policy:     tt.policy,
				Channel:    "email",
				Subject:    MustParseTemplate("s", "Kein Kampfgericht: {{join .Missing \", \"}}"),
			}
			n := &mockNotifier{}
			s := newScheduler(t, cfg, n)

			var alerted []int
			for offset := -5; offset <= 1; offset++ {
				before := len(n.sent)
				s.Run(context.Background(), st, day(offset))
				s.Run(context.Background(), st, day(offset))
				if len(n.sent) > before {
					assert.Equal(t, 1, len(n.sent)-before, "day %d", offset)
					alerted = append(alerted, offset)
				}
			}
			assert.Equal(t, tt.wantAlert, alerted)
			assert.Equal(t, "Kein Kampfgericht: judge", n.sent[0].Subject)
			for _, d := range st.Ledger.Records() {
				assert.Equal(t, state.ClassRefereeAlert, d.Class)
			}
		})
	}
}

func TestRun_RefereeAlertStopsOnceAssigned(t *testing.T) {
	g := newGame("g1", gameDay, "Team X")
	st := stateWith(g)
	cfg := testConfig()
	cfg.Rules = nil
	cfg.Referee = RefereeCheck{LeadDays: 2, Roles: []string{"judge"}, Escalation: []string{"Obmann", "Ben"}, Channel: "email"}
	n := &mockNotifier{}
	s := newScheduler(t, cfg, n)

	rep := s.Run(context.Background(), st, day(-2))
	assert.Len(t, rep.Sent, 2)
	assert.True(t, st.Ledger.Has(state.DeliveryKey{Game: "g1", Rule: "missing-referee@2026-03-05", Recipient: "Obmann"}))

	g.Assign(judge("Anna"))
	rep = s.Run(context.Background(), st, day(-1))
	assert.Empty(t, rep.Sent)
}

func TestRun_RefereeCheckDisabled(t *testing.T) {
	st := stateWith(newGame("g1", gameDay, "Team X"))
	cfg := testConfig()
	cfg.Referee = RefereeCheck{Roles: []string{"judge"}, Escalation: []string{"Obmann"}}
	n := &mockNotifier{}

	newScheduler(t, cfg, n).Run(context.Background(), st, day(0))
	assert.Empty(t, n.sent)
}
