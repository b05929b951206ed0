package state

import (
	"sort"
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/rotation"
)

const (
	// SchemaVersion is the version written by this build.
	SchemaVersion = 1
	// Kind marks a document as a homegames state document.
	Kind = "homegames/state"
)

// State is everything that must survive between runs.
type State struct {
	Version int    `json:"version"`
	Kind    string `json:"kind"`
	Season  string `json:"season,omitempty"`
	// Identity is the policy the game keys were derived with.
	Identity  game.IdentityPolicy        `json:"identity,omitempty"`
	RunID     string                     `json:"run_id,omitempty"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Games     map[string]*game.Game      `json:"games"`
	Retired   map[string]*game.Game      `json:"retired"`
	Ledger    *Ledger                    `json:"ledger"`
	Rotation  map[string]rotation.Cursor `json:"rotation"`
}

// New returns an empty state, as used on the very first run.
func New() *State {
	return &State{
		Version:  SchemaVersion,
		Kind:     Kind,
		Games:    make(map[string]*game.Game),
		Retired:  make(map[string]*game.Game),
		Ledger:   NewLedger(),
		Rotation: make(map[string]rotation.Cursor),
	}
}

// ensure fills nil collections left by an older or hand-edited document.
func (s *State) ensure() {
	if s.Games == nil {
		s.Games = make(map[string]*game.Game)
	}
	if s.Retired == nil {
		s.Retired = make(map[string]*game.Game)
	}
	if s.Ledger == nil {
		s.Ledger = NewLedger()
	}
	if s.Rotation == nil {
		s.Rotation = make(map[string]rotation.Cursor)
	}
}

// ActiveGames returns the tracked, not yet retired games in schedule order,
// including cancelled ones.
func (s *State) ActiveGames() []*game.Game {
	return sorted(s.Games)
}

// RetiredGames returns the archive in schedule order.
func (s *State) RetiredGames() []*game.Game {
	return sorted(s.Retired)
}

// Lookup finds a game by key in the active set or the archive.
func (s *State) Lookup(key string) (*game.Game, bool) {
	if g, ok := s.Games[key]; ok {
		return g, true
	}
	g, ok := s.Retired[key]
	return g, ok
}

func sorted(games map[string]*game.Game) []*game.Game {
	out := make([]*game.Game, 0, len(games))
	for _, g := range games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return game.Less(out[i], out[j])
	})
	return out
}
