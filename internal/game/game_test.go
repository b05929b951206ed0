package game

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestKey(t *testing.T) {
	d := date(2026, time.March, 7)

	t.Run("deterministic and normalized", func(t *testing.T) {
		a := Key(IdentityOpponentDate, "M1", "TSV Example", d, "04123", "")
		b := Key(IdentityOpponentDate, " m1 ", "tsv  example", d, "04123", "")
		assert.Equal(t, a, b)
		assert.Len(t, a, 40)
	})

	t.Run("venue ignored by default policy", func(t *testing.T) {
		a := Key(IdentityOpponentDate, "M1", "TSV Example", d, "04123", "")
		b := Key(IdentityOpponentDate, "M1", "TSV Example", d, "09999", "")
		assert.Equal(t, a, b)
	})

	t.Run("venue part of identity when configured", func(t *testing.T) {
		a := Key(IdentityOpponentDateVenue, "M1", "TSV Example", d, "04123", "")
		b := Key(IdentityOpponentDateVenue, "M1", "TSV Example", d, "09999", "")
		assert.NotEqual(t, a, b)
	})

	t.Run("number policy", func(t *testing.T) {
		a := Key(IdentityNumber, "M1", "TSV Example", d, "04123", "10456")
		b := Key(IdentityNumber, "F1", "Other", date(2026, time.April, 1), "1", "10456")
		assert.Equal(t, a, b)

		fallback := Key(IdentityNumber, "M1", "TSV Example", d, "04123", "")
		assert.Equal(t, Key(IdentityOpponentDate, "M1", "TSV Example", d, "", ""), fallback)
	})

	t.Run("different dates differ", func(t *testing.T) {
		a := Key(IdentityOpponentDate, "M1", "TSV Example", d, "", "")
		b := Key(IdentityOpponentDate, "M1", "TSV Example", d.AddDate(0, 0, 1), "", "")
		assert.NotEqual(t, a, b)
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     Raw
		wantErr bool
		check   func(t *testing.T, g *Game)
	}{
		{
			name: "complete row",
			raw: Raw{
				Day: "Sa.", Date: "07.03.2026", Time: "19:30 v", Hall: " 04123 ",
				Number: "10456", Team: "M", Home: "SV Home", Guest: "TSV Example", Note: "Heim-SR",
			},
			check: func(t *testing.T, g *Game) {
				assert.Equal(t, date(2026, time.March, 7), g.Date)
				assert.Equal(t, "19:30", g.Kickoff)
				assert.Equal(t, "04123", g.Venue)
				assert.Equal(t, "TSV Example", g.Opponent)
				assert.Equal(t, "Heim-SR", g.Note)
				assert.Equal(t, Key(IdentityOpponentDate, "M", "TSV Example", g.Date, "04123", "10456"), g.Key)
			},
		},
		{
			name: "missing time",
			raw:  Raw{Date: "2026-03-07", Guest: "TSV Example"},
			check: func(t *testing.T, g *Game) {
				assert.Equal(t, "", g.Kickoff)
			},
		},
		{name: "missing opponent", raw: Raw{Date: "07.03.2026"}, wantErr: true},
		{name: "missing date", raw: Raw{Guest: "TSV Example"}, wantErr: true},
		{name: "garbage date", raw: Raw{Date: "spielfrei", Guest: "TSV Example"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Parse(tt.raw, IdentityOpponentDate)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				return
			}
			require.NoError(t, err)
			tt.check(t, g)
		})
	}
}

func TestAssign(t *testing.T) {
	g := &Game{}
	g.Assign(Assignment{Role: "judge1", Recipient: "Anna", Source: SourceAuto})
	g.Assign(Assignment{Role: "shop1", Recipient: "Ben", Source: SourceAuto})
	g.Assign(Assignment{Role: "judge1", Recipient: "Cara", Source: SourceOverride})

	require.Len(t, g.Assignments, 2)
	a, ok := g.Assignment("judge1")
	require.True(t, ok)
	assert.Equal(t, "Cara", a.Recipient)
	assert.Equal(t, SourceOverride, a.Source)

	_, ok = g.Assignment("security")
	assert.False(t, ok)
}

func TestLess(t *testing.T) {
	a := &Game{Key: "b", Date: date(2026, 3, 7), Kickoff: "14:00"}
	b := &Game{Key: "a", Date: date(2026, 3, 7), Kickoff: "16:00"}
	c := &Game{Key: "a", Date: date(2026, 3, 8)}
	d := &Game{Key: "c", Date: date(2026, 3, 7), Kickoff: "14:00"}

	assert.True(t, Less(a, b))
	assert.True(t, Less(b, c))
	assert.True(t, Less(a, d))
	assert.False(t, Less(c, a))
}

func TestLabel(t *testing.T) {
	g := &Game{Date: date(2026, 3, 7), Home: "SV Home", Opponent: "TSV Example", Team: "M"}
	assert.Equal(t, "07.03.2026 SV Home vs TSV Example (M)", g.Label())

	g = &Game{Date: date(2026, 3, 7), Opponent: "TSV Example"}
	assert.Equal(t, "07.03.2026 vs TSV Example", g.Label())
}

func TestCompare(t *testing.T) {
	prev := &Game{Key: "k", Date: date(2026, 3, 7), Kickoff: "14:00", Venue: "04123"}

	t.Run("no changes", func(t *testing.T) {
		cur := *prev
		cur.Assignments = []Assignment{{Role: "judge1", Recipient: "Anna"}}
		assert.Empty(t, Compare(prev, &cur))
	})

	t.Run("venue and kickoff", func(t *testing.T) {
		cur := *prev
		cur.Venue = "09999"
		cur.Kickoff = "16:00"
		changes := Compare(prev, &cur)
		require.Len(t, changes, 2)
		assert.Equal(t, Change{GameKey: "k", ChangeType: ChangeKickoff, OldValue: "14:00", NewValue: "16:00"}, changes[0])
		assert.Equal(t, Change{GameKey: "k", ChangeType: ChangeVenue, OldValue: "04123", NewValue: "09999"}, changes[1])
	})

	t.Run("cancellation", func(t *testing.T) {
		cur := *prev
		cur.Cancelled = true
		changes := Compare(prev, &cur)
		require.Len(t, changes, 1)
		assert.Equal(t, ChangeCancelled, changes[0].ChangeType)
		assert.Equal(t, "yes", changes[0].NewValue)
	})
}
