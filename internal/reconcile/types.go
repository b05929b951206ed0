package reconcile

import (
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
)

// RoleKind distinguishes judge duties, which the missing-referee check
// watches, from other tasks.
type RoleKind string

const (
	KindJudge RoleKind = "judge"
	KindTask  RoleKind = "task"
)

// RolePolicy decides how a role is filled.
type RolePolicy string

const (
	// PolicyAuto fills the role from the pool's rotation cursor.
	PolicyAuto RolePolicy = "auto"
	// PolicyManual leaves the role to the operator (via overrides) and flags
	// games where it is still empty.
	PolicyManual RolePolicy = "manual"
)

// Role is a duty that every home game needs.
type Role struct {
	Name   string     `mapstructure:"name"`
	Label  string     `mapstructure:"label"`
	Kind   RoleKind   `mapstructure:"kind"`
	Policy RolePolicy `mapstructure:"policy"`
	Pool   string     `mapstructure:"pool"`
	Task   string     `mapstructure:"task"`
}

// Override pins a recipient to a role on one game. Game matches either the
// game key or the source's game number.
type Override struct {
	Game      string `mapstructure:"game"`
	Role      string `mapstructure:"role"`
	Recipient string `mapstructure:"recipient"`
}

// Retention controls pruning of old data. Zero disables the respective pruning.
type Retention struct {
	ArchiveDays int
	LedgerDays  int
}

// Options are the inputs to Reconcile besides the state and the fetch.
type Options struct {
	// Today is the civil date of the run; Now stamps bookkeeping fields.
	Today      time.Time
	Now        time.Time
	Identity   game.IdentityPolicy
	Roles      []Role
	Pools      map[string][]string
	Overrides  []Override
	Recipients map[string]game.Recipient
	Retention  Retention
}

// AnomalyKind classifies something the operator should look at.
type AnomalyKind string

const (
	AnomalyMalformed       AnomalyKind = "malformed_record"
	AnomalyDuplicate       AnomalyKind = "duplicate_key"
	AnomalyStaleAssignment AnomalyKind = "stale_assignment"
	AnomalyUnresolvedDuty  AnomalyKind = "unresolved_duty"
	AnomalyUnknownOverride AnomalyKind = "unknown_override"
)

// Anomaly is a non-fatal data or configuration problem.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	GameKey   string      `json:"game_key,omitempty"`
	Game      string      `json:"game,omitempty"`
	Role      string      `json:"role,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// Update is a known game whose schedule fields changed.
type Update struct {
	Game    *game.Game    `json:"game"`
	Changes []game.Change `json:"changes"`
}

// AssignmentChange is a duty handed out or replaced during this run.
type AssignmentChange struct {
	GameKey   string `json:"game_key"`
	Game      string `json:"game"`
	Role      string `json:"role"`
	Recipient string `json:"recipient"`
	Source    string `json:"source"`
}

// ChangeSet describes what one reconciliation did.
type ChangeSet struct {
	Added            []*game.Game       `json:"added,omitempty"`
	Updated          []Update           `json:"updated,omitempty"`
	Cancelled        []*game.Game       `json:"cancelled,omitempty"`
	Reinstated       []*game.Game       `json:"reinstated,omitempty"`
	Retired          []*game.Game       `json:"retired,omitempty"`
	Assigned         []AssignmentChange `json:"assigned,omitempty"`
	Anomalies        []Anomaly          `json:"anomalies,omitempty"`
	Rekeyed          int                `json:"rekeyed,omitempty"`
	PrunedGames      int                `json:"pruned_games,omitempty"`
	PrunedDeliveries int                `json:"pruned_deliveries,omitempty"`
}

// ScheduleChanged reports whether any game was added, changed, cancelled or
// reinstated.
func (c *ChangeSet) ScheduleChanged() bool {
	return len(c.Added)+len(c.Updated)+len(c.Cancelled)+len(c.Reinstated) > 0
}
