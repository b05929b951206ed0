// Package runner executes one invocation: lock, load, fetch, reconcile,
// notify, save, export. Every collaborator is injected so a run can be
// driven entirely from tests.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/crypto"
	"github.com/pfrederiksen/homegames/internal/export"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/scheduler"
	"github.com/pfrederiksen/homegames/internal/state"
	"github.com/pfrederiksen/homegames/internal/storage"
)

// Fetcher delivers the current schedule from the source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]game.Raw, error)
}

// Deps are the collaborators of a Runner.
type Deps struct {
	// Store holds the state document and the exported artifacts.
	Store     storage.Store
	StateKey  string
	Encryptor *crypto.Encryptor
	Locker    storage.Locker
	Fetcher   Fetcher
	Sender    notifier.Notifier
	Sinks     []export.Sink
	// Reconcile is the static part of the reconciler input; Today and Now
	// are filled per run.
	Reconcile reconcile.Options
	Scheduler scheduler.Config
	Season    game.Season
}

// Runner performs runs.
type Runner struct {
	deps     Deps
	states   *state.Store
	clock    func() time.Time
	log      *logger.Logger
	metrics  *logger.Metrics
	textfile string
	dryRun   bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock sets the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics records run metrics and, when path is set, writes them as a
// textfile after the run.
func WithMetrics(m *logger.Metrics, path string) Option {
	return func(r *Runner) {
		r.metrics = m
		r.textfile = path
	}
}

// WithDryRun runs everything but neither saves the state nor uploads
// exports.
func WithDryRun(dryRun bool) Option {
	return func(r *Runner) { r.dryRun = dryRun }
}

// New creates a Runner.
func New(deps Deps, opts ...Option) *Runner {
	if deps.Locker == nil {
		deps.Locker = storage.NopLock{}
	}
	r := &Runner{
		deps:    deps,
		states:  state.NewStore(deps.Store, deps.StateKey, deps.Encryptor),
		clock:   time.Now,
		log:     logger.NewNop(),
		metrics: logger.NewMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one invocation for the civil date today. The returned error
// is fatal (nothing was persisted, or the state could not be read);
// recoverable problems are collected in the summary. The summary is never
// nil.
func (r *Runner) Run(ctx context.Context, today time.Time) (*Summary, error) {
	today = game.Day(today)
	sum := &Summary{
		RunID:     uuid.NewString(),
		Today:     today,
		Season:    r.deps.Season.Label(),
		DryRun:    r.dryRun,
		StartedAt: r.clock().UTC(),
	}
	log := r.log.With(logger.Fields{"run_id": sum.RunID})
	log.Info("run started", logger.Fields{
		"today":   today.Format("2006-01-02"),
		"dry_run": r.dryRun,
	})

	unlock, err := r.deps.Locker.Lock(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return sum, r.fatal(log, apperr.New(apperr.CodeLock, "acquire run lock", err))
		}
		return sum, r.fatal(log, apperr.Store("acquire run lock", err))
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn("releasing run lock failed", logger.Fields{"error": err.Error()})
		}
	}()

	start := time.Now()
	st, err := r.states.Load(ctx)
	if err != nil {
		return sum, r.fatal(log, err)
	}
	r.metrics.RecordTiming("load", time.Since(start))
	log.Debug("state loaded", logger.Fields{
		"games":      len(st.Games),
		"retired":    len(st.Retired),
		"deliveries": st.Ledger.Len(),
	})

	r.update(ctx, log, st, sum)

	start = time.Now()
	sched := scheduler.New(r.deps.Scheduler, r.deps.Sender,
		scheduler.WithClock(r.clock),
		scheduler.WithLogger(log),
	)
	report := sched.Run(ctx, st, today)
	sum.Notifications = report
	for _, o := range report.Failed {
		sum.recoverable(o.Err)
	}
	r.countNotifications(report)
	r.metrics.RecordTiming("notify", time.Since(start))

	st.RunID = sum.RunID
	st.UpdatedAt = r.clock().UTC()
	st.Season = sum.Season
	sum.Games = countGames(st)
	r.metrics.SetGames("active", sum.Games.Active)
	r.metrics.SetGames("cancelled", sum.Games.Cancelled)
	r.metrics.SetGames("retired", sum.Games.Retired)

	if r.dryRun {
		log.Info("dry run, state not saved", nil)
	} else {
		start = time.Now()
		if err := r.states.Save(ctx, st); err != nil {
			if report.Delivered() > 0 {
				log.Warn("notifications were sent but not recorded; they will be sent again", logger.Fields{
					"count": report.Delivered(),
				})
			}
			return sum, r.fatal(log, err)
		}
		sum.Saved = true
		r.metrics.RecordTiming("save", time.Since(start))
		r.metrics.MarkSuccess(st.UpdatedAt)
	}

	r.export(ctx, log, st, sum)

	sum.FinishedAt = r.clock().UTC()
	r.writeMetrics(log)
	log.Info("run finished", logger.Fields{
		"sent":      len(report.Sent),
		"late":      len(report.Late),
		"skipped":   len(report.Skipped),
		"failed":    len(report.Failed),
		"games":     sum.Games.String(),
		"exit_code": sum.ExitCode(nil),
	})
	return sum, nil
}

// update fetches and reconciles. A failed or empty fetch leaves the state
// untouched; the run continues with the previous schedule.
func (r *Runner) update(ctx context.Context, log *logger.Logger, st *state.State, sum *Summary) {
	start := time.Now()
	raws, err := r.deps.Fetcher.Fetch(ctx)
	r.metrics.RecordTiming("fetch", time.Since(start))
	if err != nil {
		if apperr.CodeOf(err) == "" {
			err = apperr.Fetch("fetch schedule", err)
		}
		log.Error("fetch failed, keeping previous schedule", nil, err)
		sum.FetchError = err.Error()
		sum.recoverable(err)
		return
	}
	sum.Fetched = len(raws)

	opts := r.deps.Reconcile
	opts.Today = sum.Today
	opts.Now = r.clock().UTC()

	start = time.Now()
	cs, err := reconcile.Reconcile(st, raws, opts)
	r.metrics.RecordTiming("reconcile", time.Since(start))
	if err != nil {
		log.Error("reconciliation skipped", logger.Fields{"fetched": len(raws)}, err)
		sum.FetchError = err.Error()
		sum.recoverable(err)
		return
	}
	sum.Changes = cs

	for _, a := range cs.Anomalies {
		r.metrics.IncrAnomaly(string(a.Kind))
		log.Warn("anomaly", logger.Fields{
			"kind":      string(a.Kind),
			"game":      a.Game,
			"role":      a.Role,
			"recipient": a.Recipient,
			"detail":    a.Detail,
		})
	}
	for _, g := range cs.Cancelled {
		log.Info("game cancelled", logger.Fields{"game": g.Label(), "key": g.Key})
	}
	log.Info("schedule reconciled", logger.Fields{
		"fetched":    len(raws),
		"added":      len(cs.Added),
		"updated":    len(cs.Updated),
		"cancelled":  len(cs.Cancelled),
		"reinstated": len(cs.Reinstated),
		"retired":    len(cs.Retired),
		"assigned":   len(cs.Assigned),
		"rekeyed":    cs.Rekeyed,
	})
}

// export renders every sink and uploads the result next to the state.
// Failures are recoverable.
func (r *Runner) export(ctx context.Context, log *logger.Logger, st *state.State, sum *Summary) {
	start := time.Now()
	defer func() { r.metrics.RecordTiming("export", time.Since(start)) }()

	for _, sink := range r.deps.Sinks {
		res := ExportResult{Key: sink.Key()}

		data, err := sink.Render(st, sum.Changes)
		if err != nil {
			err = apperr.Render("render "+sink.Key(), err)
		} else if !r.dryRun {
			if err = r.deps.Store.Put(ctx, sink.Key(), data); err != nil {
				err = apperr.Render("upload "+sink.Key(), err)
			} else {
				res.Uploaded = true
			}
		}
		res.Bytes = len(data)

		if err != nil {
			res.Error = err.Error()
			sum.recoverable(err)
			log.Error("export failed", logger.Fields{"key": sink.Key()}, err)
		}
		sum.Exports = append(sum.Exports, res)
	}
}

func (r *Runner) countNotifications(report *scheduler.Report) {
	for _, group := range []struct {
		outcome  string
		outcomes []scheduler.Outcome
	}{
		{"sent", report.Sent},
		{"late", report.Late},
		{"skipped", report.Skipped},
		{"failed", report.Failed},
	} {
		for _, o := range group.outcomes {
			r.metrics.IncrNotification(group.outcome, o.Channel)
		}
	}
}

func (r *Runner) fatal(log *logger.Logger, err error) error {
	log.Error("run aborted", logger.Fields{"code": string(apperr.CodeOf(err))}, err)
	r.writeMetrics(log)
	return err
}

func (r *Runner) writeMetrics(log *logger.Logger) {
	if r.textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.textfile); err != nil {
		log.Warn("writing metrics textfile failed", logger.Fields{
			"path":  r.textfile,
			"error": err.Error(),
		})
	}
}

func countGames(st *state.State) GameCounts {
	var c GameCounts
	for _, g := range st.Games {
		if g.Cancelled {
			c.Cancelled++
		} else {
			c.Active++
		}
	}
	c.Retired = len(st.Retired)
	return c
}

// String renders the counts for log lines.
func (c GameCounts) String() string {
	return fmt.Sprintf("%d active, %d cancelled, %d retired", c.Active, c.Cancelled, c.Retired)
}
