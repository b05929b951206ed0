package scheduler

import (
	"errors"

	"github.com/pfrederiksen/homegames/internal/state"
)

// Outcome describes what happened to one candidate notification.
type Outcome struct {
	GameKey   string      `json:"game_key"`
	Game      string      `json:"game"`
	Rule      string      `json:"rule"`
	Recipient string      `json:"recipient"`
	Class     state.Class `json:"class"`
	Channel   string      `json:"channel,omitempty"`
	Late      bool        `json:"late,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Err       error       `json:"-"`
}

// Report summarizes one scheduler run.
type Report struct {
	Sent             []Outcome `json:"sent,omitempty"`
	Late             []Outcome `json:"late,omitempty"`
	Skipped          []Outcome `json:"skipped,omitempty"`
	Failed           []Outcome `json:"failed,omitempty"`
	AlreadyDelivered int       `json:"already_delivered"`
}

// Delivered returns how many notifications were handed to the transport.
func (r *Report) Delivered() int {
	return len(r.Sent) + len(r.Late)
}

// Err joins the errors of all failed notifications, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, o := range r.Failed {
		errs = append(errs, o.Err)
	}
	return errors.Join(errs...)
}
