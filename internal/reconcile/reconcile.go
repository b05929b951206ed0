package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/rotation"
	"github.com/pfrederiksen/homegames/internal/state"
)

// ErrEmptyFetch is returned when the source yielded no usable games while
// future games are still tracked.
var ErrEmptyFetch = errors.New("fetch returned no games")

// Reconcile merges raws into st and returns what changed. st is modified in
// place and is not saved. On error st is left untouched.
func Reconcile(st *state.State, raws []game.Raw, opts Options) (*ChangeSet, error) {
	today := game.Day(opts.Today)
	cs := &ChangeSet{}

	fetched := parseAll(raws, opts.Identity, cs)
	if len(fetched) == 0 && hasFutureGames(st, today) {
		return nil, apperr.Fetch("reconcile", ErrEmptyFetch)
	}

	rekey(st, opts.Identity, cs)
	rebaseCursors(st, opts.Pools)

	for _, g := range sortedGames(fetched) {
		merge(st, g, today, opts.Now, cs)
	}

	for _, g := range st.ActiveGames() {
		if _, ok := fetched[g.Key]; ok || g.Cancelled || !g.Date.After(today) {
			continue
		}
		g.Cancelled = true
		g.CancelledAt = opts.Now
		g.UpdatedAt = opts.Now
		cs.Cancelled = append(cs.Cancelled, g)
	}

	retire(st, today, cs)
	applyOverrides(st, opts, cs)
	assignDuties(st, today, opts, cs)
	prune(st, today, opts.Retention, cs)
	checkAssignments(st, today, opts, cs)

	return cs, nil
}

// parseAll validates rows and merges duplicate keys, last row wins.
func parseAll(raws []game.Raw, policy game.IdentityPolicy, cs *ChangeSet) map[string]*game.Game {
	fetched := make(map[string]*game.Game, len(raws))
	for i, raw := range raws {
		g, err := game.Parse(raw, policy)
		if err != nil {
			cs.Anomalies = append(cs.Anomalies, Anomaly{
				Kind:   AnomalyMalformed,
				Detail: fmt.Sprintf("row %d: %v", i+1, err),
			})
			continue
		}
		if _, dup := fetched[g.Key]; dup {
			cs.Anomalies = append(cs.Anomalies, Anomaly{
				Kind:    AnomalyDuplicate,
				GameKey: g.Key,
				Game:    g.Label(),
				Detail:  fmt.Sprintf("row %d repeats an earlier game; keeping the later row", i+1),
			})
		}
		fetched[g.Key] = g
	}
	return fetched
}

// rekey re-derives every game key when the identity policy changed since
// the state was written, and moves the deliveries along. A state without a
// recorded policy adopts the current one.
func rekey(st *state.State, policy game.IdentityPolicy, cs *ChangeSet) {
	if st.Identity == policy {
		return
	}
	if st.Identity == "" || policy == "" {
		if policy != "" {
			st.Identity = policy
		}
		return
	}

	moved := make(map[string]string)
	active := sortedGames(st.Games)
	retired := sortedGames(st.Retired)
	st.Games = make(map[string]*game.Game, len(active))
	st.Retired = make(map[string]*game.Game, len(retired))

	for _, set := range []struct {
		games  []*game.Game
		target map[string]*game.Game
	}{
		{active, st.Games},
		{retired, st.Retired},
	} {
		for _, g := range set.games {
			key := game.Key(policy, g.Team, g.Opponent, g.Date, g.Venue, g.Number)
			moved[g.Key] = key
			if _, taken := st.Games[key]; taken {
				cs.Anomalies = append(cs.Anomalies, duplicateOnRekey(g, key))
				continue
			}
			if _, taken := st.Retired[key]; taken {
				cs.Anomalies = append(cs.Anomalies, duplicateOnRekey(g, key))
				continue
			}
			if g.Key != key {
				cs.Rekeyed++
			}
			g.Key = key
			set.target[key] = g
		}
	}

	st.Ledger.Rekey(moved)
	st.Identity = policy
}

func duplicateOnRekey(g *game.Game, key string) Anomaly {
	return Anomaly{
		Kind:    AnomalyDuplicate,
		GameKey: key,
		Game:    g.Label(),
		Detail:  "identity change merges this game into an earlier one; keeping the earlier one",
	}
}

func hasFutureGames(st *state.State, today time.Time) bool {
	for _, g := range st.Games {
		if !g.Cancelled && g.Date.After(today) {
			return true
		}
	}
	return false
}

func sortedGames(games map[string]*game.Game) []*game.Game {
	out := make([]*game.Game, 0, len(games))
	for _, g := range games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return game.Less(out[i], out[j]) })
	return out
}

// merge folds one fetched game into the state.
func merge(st *state.State, fetchedGame *game.Game, today, now time.Time, cs *ChangeSet) {
	if existing, ok := st.Games[fetchedGame.Key]; ok {
		updateInPlace(existing, fetchedGame, now, cs)
		return
	}

	if archived, ok := st.Retired[fetchedGame.Key]; ok {
		// a postponed game can come back with a new date under a number key
		if fetchedGame.Date.Before(today) {
			return
		}
		delete(st.Retired, archived.Key)
		st.Games[archived.Key] = archived
		updateInPlace(archived, fetchedGame, now, cs)
		return
	}

	fetchedGame.FirstSeen = now
	fetchedGame.UpdatedAt = now
	if fetchedGame.Date.Before(today) {
		// first sighting of a game already played: archive only
		st.Retired[fetchedGame.Key] = fetchedGame
		return
	}
	st.Games[fetchedGame.Key] = fetchedGame
	cs.Added = append(cs.Added, fetchedGame)
}

// updateInPlace copies the source-owned fields, keeping key, assignments and
// history.
func updateInPlace(existing, fetchedGame *game.Game, now time.Time, cs *ChangeSet) {
	previous := *existing
	reinstated := existing.Cancelled

	existing.Number = fetchedGame.Number
	existing.Date = fetchedGame.Date
	existing.Kickoff = fetchedGame.Kickoff
	existing.Team = fetchedGame.Team
	existing.Home = fetchedGame.Home
	existing.Opponent = fetchedGame.Opponent
	existing.Venue = fetchedGame.Venue
	existing.Note = fetchedGame.Note
	existing.Cancelled = false
	existing.CancelledAt = time.Time{}

	var changes []game.Change
	for _, c := range game.Compare(&previous, existing) {
		if c.ChangeType != game.ChangeCancelled {
			changes = append(changes, c)
		}
	}

	if reinstated || len(changes) > 0 || previous.Note != existing.Note {
		existing.UpdatedAt = now
	}
	if reinstated {
		cs.Reinstated = append(cs.Reinstated, existing)
	}
	if len(changes) > 0 {
		cs.Updated = append(cs.Updated, Update{Game: existing, Changes: changes})
	}
}

// retire moves games dated before today into the archive.
func retire(st *state.State, today time.Time, cs *ChangeSet) {
	for _, g := range st.ActiveGames() {
		if g.Date.Before(today) {
			delete(st.Games, g.Key)
			st.Retired[g.Key] = g
			cs.Retired = append(cs.Retired, g)
		}
	}
}

func rebaseCursors(st *state.State, pools map[string][]string) {
	names := make([]string, 0, len(pools))
	for name := range pools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cur, ok := st.Rotation[name]
		if !ok {
			st.Rotation[name] = rotation.New(pools[name])
			continue
		}
		st.Rotation[name] = cur.Rebase(pools[name])
	}
}

// applyOverrides pins configured recipients. Overrides are re-applied every
// run, so they also win over a rotation assignment made earlier.
func applyOverrides(st *state.State, opts Options, cs *ChangeSet) {
	for _, o := range opts.Overrides {
		g := findGame(st, o.Game)
		if g == nil {
			if !inArchive(st, o.Game) {
				cs.Anomalies = append(cs.Anomalies, Anomaly{
					Kind:      AnomalyUnknownOverride,
					Role:      o.Role,
					Recipient: o.Recipient,
					Detail:    fmt.Sprintf("no tracked game matches %q", o.Game),
				})
			}
			continue
		}
		if current, ok := g.Assignment(o.Role); ok && current.Recipient == o.Recipient {
			continue
		}
		a := game.Assignment{
			Role:      o.Role,
			Recipient: o.Recipient,
			Task:      roleTask(opts.Roles, o.Role),
			Source:    game.SourceOverride,
		}
		g.Assign(a)
		g.UpdatedAt = opts.Now
		cs.Assigned = append(cs.Assigned, AssignmentChange{
			GameKey: g.Key, Game: g.Label(), Role: a.Role, Recipient: a.Recipient, Source: a.Source,
		})
	}
}

func findGame(st *state.State, ref string) *game.Game {
	if g, ok := st.Games[ref]; ok {
		return g
	}
	for _, g := range st.ActiveGames() {
		if g.Number != "" && g.Number == ref {
			return g
		}
	}
	return nil
}

func inArchive(st *state.State, ref string) bool {
	if _, ok := st.Retired[ref]; ok {
		return true
	}
	for _, g := range st.Retired {
		if g.Number != "" && g.Number == ref {
			return true
		}
	}
	return false
}

func roleTask(roles []Role, name string) string {
	for _, r := range roles {
		if r.Name == name {
			return r.Task
		}
	}
	return ""
}

// assignDuties fills empty auto roles on upcoming games in schedule order,
// advancing each pool's cursor once per assignment.
func assignDuties(st *state.State, today time.Time, opts Options, cs *ChangeSet) {
	for _, g := range st.ActiveGames() {
		if g.Cancelled || g.Date.Before(today) {
			continue
		}
		for _, role := range opts.Roles {
			if role.Policy != PolicyAuto {
				continue
			}
			if _, ok := g.Assignment(role.Name); ok {
				continue
			}
			cur, ok := st.Rotation[role.Pool]
			if !ok || cur.Empty() {
				continue
			}
			name, next := cur.Skip(func(name string) bool {
				return assignedOnGame(g, name)
			})
			if name == "" {
				continue
			}
			st.Rotation[role.Pool] = next

			a := game.Assignment{Role: role.Name, Recipient: name, Task: role.Task, Source: game.SourceAuto}
			g.Assign(a)
			g.UpdatedAt = opts.Now
			cs.Assigned = append(cs.Assigned, AssignmentChange{
				GameKey: g.Key, Game: g.Label(), Role: a.Role, Recipient: a.Recipient, Source: a.Source,
			})
		}
	}
}

func assignedOnGame(g *game.Game, recipient string) bool {
	for _, a := range g.Assignments {
		if a.Recipient == recipient {
			return true
		}
	}
	return false
}

// prune drops archive entries and ledger records past their retention.
func prune(st *state.State, today time.Time, r Retention, cs *ChangeSet) {
	if r.ArchiveDays > 0 {
		cutoff := today.AddDate(0, 0, -r.ArchiveDays)
		for key, g := range st.Retired {
			if g.Date.Before(cutoff) {
				delete(st.Retired, key)
				cs.PrunedGames++
			}
		}
	}

	if r.LedgerDays > 0 {
		cutoff := today.AddDate(0, 0, -r.LedgerDays)
		cs.PrunedDeliveries = st.Ledger.Prune(func(gameKey string) bool {
			if _, ok := st.Games[gameKey]; ok {
				return true
			}
			g, ok := st.Retired[gameKey]
			return ok && !g.Date.Before(cutoff)
		})
	}
}

// checkAssignments reports duties the operator has to resolve on upcoming
// games.
func checkAssignments(st *state.State, today time.Time, opts Options, cs *ChangeSet) {
	for _, g := range st.ActiveGames() {
		if g.Cancelled || g.Date.Before(today) {
			continue
		}
		for _, a := range g.Assignments {
			if _, ok := opts.Recipients[a.Recipient]; !ok {
				cs.Anomalies = append(cs.Anomalies, Anomaly{
					Kind:      AnomalyStaleAssignment,
					GameKey:   g.Key,
					Game:      g.Label(),
					Role:      a.Role,
					Recipient: a.Recipient,
					Detail:    "recipient is no longer configured",
				})
			}
		}
		for _, role := range opts.Roles {
			if _, ok := g.Assignment(role.Name); ok {
				continue
			}
			detail := "manual duty needs an assignee"
			if role.Policy == PolicyAuto {
				detail = fmt.Sprintf("pool %q has no available member", role.Pool)
			}
			cs.Anomalies = append(cs.Anomalies, Anomaly{
				Kind:    AnomalyUnresolvedDuty,
				GameKey: g.Key,
				Game:    g.Label(),
				Role:    role.Name,
				Detail:  detail,
			})
		}
	}
}
