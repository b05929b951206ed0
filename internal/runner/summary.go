package runner

import (
	"errors"
	"time"

	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/scheduler"
)

// Exit codes of a run.
const (
	ExitSuccess     = 0
	ExitFatal       = 1
	ExitRecoverable = 2
)

// GameCounts are the sizes of the state after a run.
type GameCounts struct {
	Active    int `json:"active"`
	Cancelled int `json:"cancelled"`
	Retired   int `json:"retired"`
}

// ExportResult is the outcome of one export sink.
type ExportResult struct {
	Key      string `json:"key"`
	Bytes    int    `json:"bytes"`
	Uploaded bool   `json:"uploaded"`
	Error    string `json:"error,omitempty"`
}

// Summary is the end-of-run report.
type Summary struct {
	RunID         string               `json:"run_id"`
	Today         time.Time            `json:"today"`
	Season        string               `json:"season"`
	DryRun        bool                 `json:"dry_run,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at,omitempty"`
	Fetched       int                  `json:"fetched"`
	FetchError    string               `json:"fetch_error,omitempty"`
	Changes       *reconcile.ChangeSet `json:"changes,omitempty"`
	Notifications *scheduler.Report    `json:"notifications,omitempty"`
	Games         GameCounts           `json:"games"`
	Exports       []ExportResult       `json:"exports,omitempty"`
	Saved         bool                 `json:"saved"`
	Errors        []string             `json:"errors,omitempty"`

	errs []error
}

func (s *Summary) recoverable(err error) {
	if err == nil {
		return
	}
	s.errs = append(s.errs, err)
	s.Errors = append(s.Errors, err.Error())
}

// Err joins the recoverable errors of the run.
func (s *Summary) Err() error {
	return errors.Join(s.errs...)
}

// ExitCode maps the outcome of a run to the process exit code. fatal is the
// error returned by Run.
func (s *Summary) ExitCode(fatal error) int {
	switch {
	case fatal != nil:
		return ExitFatal
	case len(s.errs) > 0:
		return ExitRecoverable
	}
	return ExitSuccess
}
