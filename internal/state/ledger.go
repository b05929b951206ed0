package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateDelivery is returned when a delivery is recorded twice.
var ErrDuplicateDelivery = errors.New("delivery already recorded")

// Class separates rule reminders from escalation alerts in the ledger.
type Class string

const (
	ClassRule         Class = "rule"
	ClassRefereeAlert Class = "referee-alert"
)

// DeliveryKey identifies one notification to one recipient about one game.
type DeliveryKey struct {
	Game      string
	Rule      string
	Recipient string
}

func (k DeliveryKey) String() string {
	return k.Game + "|" + k.Rule + "|" + k.Recipient
}

// Delivery records that a notification was handed to the transport.
type Delivery struct {
	Game      string    `json:"game"`
	Rule      string    `json:"rule"`
	Recipient string    `json:"recipient"`
	Class     Class     `json:"class"`
	Channel   string    `json:"channel,omitempty"`
	SentAt    time.Time `json:"sent_at"`
	Late      bool      `json:"late,omitempty"`
}

// Key returns the delivery's identity.
func (d Delivery) Key() DeliveryKey {
	return DeliveryKey{Game: d.Game, Rule: d.Rule, Recipient: d.Recipient}
}

// Ledger is the append-only set of deliveries. It serializes as a JSON array
// in insertion order.
type Ledger struct {
	records []Delivery
	index   map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Len returns the number of recorded deliveries.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Has reports whether a delivery with key k was recorded.
func (l *Ledger) Has(k DeliveryKey) bool {
	_, ok := l.index[k.String()]
	return ok
}

// Record appends d. Recording an existing key fails with ErrDuplicateDelivery
// and leaves the ledger unchanged.
func (l *Ledger) Record(d Delivery) error {
	k := d.Key().String()
	if _, ok := l.index[k]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDelivery, k)
	}
	l.index[k] = len(l.records)
	l.records = append(l.records, d)
	return nil
}

// Records returns a copy of all deliveries in insertion order.
func (l *Ledger) Records() []Delivery {
	return append([]Delivery(nil), l.records...)
}

// ForGame returns the deliveries recorded for one game.
func (l *Ledger) ForGame(gameKey string) []Delivery {
	var out []Delivery
	for _, d := range l.records {
		if d.Game == gameKey {
			out = append(out, d)
		}
	}
	return out
}

// Prune drops every delivery whose game keep rejects and returns how many
// were removed.
func (l *Ledger) Prune(keep func(gameKey string) bool) int {
	kept := l.records[:0]
	for _, d := range l.records {
		if keep(d.Game) {
			kept = append(kept, d)
		}
	}
	removed := len(l.records) - len(kept)
	l.records = kept
	l.reindex()
	return removed
}

// Rekey moves deliveries to new game keys. keys maps old to new game keys;
// games not in keys keep theirs. When two records collapse onto one key the
// earlier one is kept. Rekey returns how many records were moved.
func (l *Ledger) Rekey(keys map[string]string) int {
	moved := 0
	kept := l.records[:0]
	seen := make(map[string]bool, len(l.records))
	for _, d := range l.records {
		if key, ok := keys[d.Game]; ok && key != d.Game {
			d.Game = key
			moved++
		}
		k := d.Key().String()
		if seen[k] {
			continue
		}
		seen[k] = true
		kept = append(kept, d)
	}
	l.records = kept
	l.reindex()
	return moved
}

func (l *Ledger) reindex() {
	l.index = make(map[string]int, len(l.records))
	for i, d := range l.records {
		l.index[d.Key().String()] = i
	}
}

// MarshalJSON encodes the ledger as an array of deliveries.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	if l.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.records)
}

// UnmarshalJSON decodes an array of deliveries. A repeated key means the
// document was not produced by this package and is rejected.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var records []Delivery
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	l.records = nil
	l.index = make(map[string]int, len(records))
	for _, d := range records {
		if err := l.Record(d); err != nil {
			return err
		}
	}
	return nil
}
