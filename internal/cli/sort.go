package cli

import (
	"sort"
	"strings"

	"github.com/pfrederiksen/homegames/internal/game"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate     SortOrder = "date"
	SortByTeam     SortOrder = "team"
	SortByOpponent SortOrder = "opponent"
)

func (o SortOrder) valid() bool {
	switch o {
	case SortByDate, SortByTeam, SortByOpponent:
		return true
	}
	return false
}

// sortGames sorts games based on the specified sort order
func sortGames(games []*game.Game, order SortOrder) {
	switch order {
	case SortByDate:
		sort.SliceStable(games, func(i, j int) bool {
			return game.Less(games[i], games[j])
		})
	case SortByTeam:
		sort.SliceStable(games, func(i, j int) bool {
			if !strings.EqualFold(games[i].Team, games[j].Team) {
				return strings.ToLower(games[i].Team) < strings.ToLower(games[j].Team)
			}
			// If teams are equal, sort by date
			return game.Less(games[i], games[j])
		})
	case SortByOpponent:
		sort.SliceStable(games, func(i, j int) bool {
			if !strings.EqualFold(games[i].Opponent, games[j].Opponent) {
				return strings.ToLower(games[i].Opponent) < strings.ToLower(games[j].Opponent)
			}
			return game.Less(games[i], games[j])
		})
	}
}
