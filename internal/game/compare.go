package game

// Change types reported by Compare.
const (
	ChangeDate      = "date"
	ChangeKickoff   = "kickoff"
	ChangeVenue     = "venue"
	ChangeNumber    = "number"
	ChangeCancelled = "cancelled"
)

// Change describes a single field difference between two versions of a game.
type Change struct {
	GameKey    string `json:"game_key"`
	ChangeType string `json:"change_type"`
	OldValue   string `json:"old_value"`
	NewValue   string `json:"new_value"`
}

// Compare reports the schedule-relevant differences from previous to current.
// Assignments and bookkeeping timestamps are ignored.
func Compare(previous, current *Game) []Change {
	var changes []Change

	add := func(kind, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, Change{
				GameKey:    previous.Key,
				ChangeType: kind,
				OldValue:   oldValue,
				NewValue:   newValue,
			})
		}
	}

	add(ChangeDate, previous.Date.Format(DisplayLayout), current.Date.Format(DisplayLayout))
	add(ChangeKickoff, previous.Kickoff, current.Kickoff)
	add(ChangeVenue, previous.Venue, current.Venue)
	add(ChangeNumber, previous.Number, current.Number)
	add(ChangeCancelled, boolText(previous.Cancelled), boolText(current.Cancelled))

	return changes
}

func boolText(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
