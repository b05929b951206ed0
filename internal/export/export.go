// Package export renders the reconciled state into artifacts that are
// uploaded next to the state document.
package export

import (
	"time"

	"github.com/pfrederiksen/homegames/internal/calendar"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/state"
)

// Sink renders the state into one artifact.
type Sink interface {
	// Key is the object name the artifact is stored under.
	Key() string
	Render(st *state.State, cs *reconcile.ChangeSet) ([]byte, error)
}

// seasonGames returns the archive and the active games in schedule order.
func seasonGames(st *state.State) []*game.Game {
	games := st.RetiredGames()
	games = append(games, st.ActiveGames()...)
	return games
}

// gamesOf returns the games of st that belong to season.
func gamesOf(st *state.State, season game.Season) []*game.Game {
	var games []*game.Game
	for _, g := range seasonGames(st) {
		if game.SeasonOf(g.Date) == season {
			games = append(games, g)
		}
	}
	return games
}

// ICS publishes the season as a calendar feed.
type ICS struct {
	key   string
	opts  calendar.Options
	clock func() time.Time
}

// NewICS creates a calendar sink storing under key.
func NewICS(key string, opts calendar.Options, clock func() time.Time) *ICS {
	if clock == nil {
		clock = time.Now
	}
	return &ICS{key: key, opts: opts, clock: clock}
}

func (s *ICS) Key() string {
	return s.key
}

// Render never fails; the error is there to satisfy Sink.
func (s *ICS) Render(st *state.State, _ *reconcile.ChangeSet) ([]byte, error) {
	return []byte(calendar.Generate(seasonGames(st), s.opts, s.clock())), nil
}
