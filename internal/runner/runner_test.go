package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/export"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/scheduler"
	"github.com/pfrederiksen/homegames/internal/state"
	"github.com/pfrederiksen/homegames/internal/storage"
)

var gameDay = time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return gameDay.AddDate(0, 0, offset)
}

type fakeFetcher struct {
	raws  []game.Raw
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) ([]game.Raw, error) {
	f.calls++
	return f.raws, f.err
}

type recordingNotifier struct {
	err  error
	sent []notifier.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notifier.Message) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// failingStore fails every Put to one key.
type failingStore struct {
	storage.Store
	key string
}

func (s failingStore) Put(ctx context.Context, key string, data []byte) error {
	if key == s.key {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, data)
}

type brokenSink struct{}

func (brokenSink) Key() string { return "broken.bin" }

func (brokenSink) Render(*state.State, *reconcile.ChangeSet) ([]byte, error) {
	return nil, errors.New("template exploded")
}

var (
	season = game.Season{StartYear: 2025}
	roles  = []reconcile.Role{{Name: "judge", Label: "Kampfgericht", Kind: reconcile.KindJudge, Policy: reconcile.PolicyAuto, Pool: "judges"}}
	people = map[string]game.Recipient{
		"Anna": {Name: "Anna", Email: "anna@example.org"},
		"Ben":  {Name: "Ben", Email: "ben@example.org"},
	}
)

func homeGame(date, opponent, number string) game.Raw {
	return game.Raw{Date: date, Time: "18:00", Hall: "301234", Number: number, Team: "Herren", Home: "TV Musterstadt", Guest: opponent}
}

func testDeps(t *testing.T, f Fetcher, n notifier.Notifier) Deps {
	t.Helper()
	store, err := storage.NewDirStore(t.TempDir())
	require.NoError(t, err)

	return Deps{
		Store:    store,
		StateKey: state.DefaultKey,
		Fetcher:  f,
		Sender:   n,
		Sinks:    []export.Sink{export.NewXLSX(season, roles)},
		Reconcile: reconcile.Options{
			Identity:   game.IdentityOpponentDate,
			Roles:      roles,
			Pools:      map[string][]string{"judges": {"Anna", "Ben"}},
			Recipients: people,
		},
		Scheduler: scheduler.Config{
			Rules: []scheduler.Rule{{
				ID:      "judge-reminder",
				Offset:  1,
				Channel: "email",
				Roles:   []string{"judge"},
				Subject: scheduler.MustParseTemplate("subject", "Kampfgericht am {{.Date}}"),
				Body:    scheduler.MustParseTemplate("body", "Hallo {{.Recipient.Name}}"),
			}},
			Recipients: people,
		},
		Season: season,
	}
}

func newRunner(t *testing.T, deps Deps, today time.Time, opts ...Option) *Runner {
	t.Helper()
	clock := func() time.Time { return today.Add(7 * time.Hour) }
	opts = append([]Option{WithClock(clock), WithLogger(logger.NewTest(t))}, opts...)
	return New(deps, opts...)
}

func loadState(t *testing.T, deps Deps) *state.State {
	t.Helper()
	st, err := state.NewStore(deps.Store, deps.StateKey, nil).Load(context.Background())
	require.NoError(t, err)
	return st
}

func TestRun_JudgeReminderOnceAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)

	sum, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, sum.ExitCode(err))

	require.Len(t, n.sent, 1)
	assert.Equal(t, "anna@example.org", n.sent[0].To)
	assert.Equal(t, "Kampfgericht am 07.03.2026", n.sent[0].Subject)
	assert.True(t, sum.Saved)
	assert.Equal(t, 1, sum.Fetched)
	require.NotNil(t, sum.Changes)
	assert.Len(t, sum.Changes.Added, 1)
	assert.Equal(t, GameCounts{Active: 1}, sum.Games)

	st := loadState(t, deps)
	assert.Equal(t, sum.RunID, st.RunID)
	assert.Equal(t, "2025/26", st.Season)
	assert.Equal(t, 1, st.Ledger.Len())

	require.Len(t, sum.Exports, 1)
	assert.True(t, sum.Exports[0].Uploaded)
	_, err = deps.Store.Get(ctx, export.FileName(season))
	assert.NoError(t, err)

	// the process restarts for the next run on the same day
	sum, err = newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, sum.Notifications.AlreadyDelivered)
	assert.Equal(t, ExitSuccess, sum.ExitCode(err))
}

func TestRun_IdentityChangeDoesNotResend(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)

	_, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	require.Len(t, n.sent, 1)

	deps.Reconcile.Identity = game.IdentityNumber
	sum, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)

	assert.Len(t, n.sent, 1)
	assert.Empty(t, sum.Changes.Added)
	assert.Empty(t, sum.Changes.Cancelled)
	assert.Equal(t, 1, sum.Changes.Rekeyed)
	assert.Equal(t, 1, sum.Notifications.AlreadyDelivered)

	st := loadState(t, deps)
	assert.Equal(t, game.IdentityNumber, st.Identity)
	assert.Len(t, st.Games, 1)
}

func TestRun_DisappearedGameNeverFires(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{
		homeGame("07.03.2026", "HSG Nachbarort", "1001"),
		homeGame("21.03.2026", "SG Nord", "1002"),
	}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)

	_, err := newRunner(t, deps, day(-5)).Run(ctx, day(-5))
	require.NoError(t, err)

	f.raws = f.raws[1:]
	sum, err := newRunner(t, deps, day(-4)).Run(ctx, day(-4))
	require.NoError(t, err)
	require.Len(t, sum.Changes.Cancelled, 1)
	assert.Equal(t, "HSG Nachbarort", sum.Changes.Cancelled[0].Opponent)

	_, err = newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Empty(t, n.sent)

	st := loadState(t, deps)
	assert.Len(t, st.Games, 2)
	assert.Zero(t, st.Ledger.Len())
}

func TestRun_EmptyFetchKeepsSchedule(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)

	_, err := newRunner(t, deps, day(-5)).Run(ctx, day(-5))
	require.NoError(t, err)

	f.raws = nil
	sum, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Equal(t, ExitRecoverable, sum.ExitCode(err))
	assert.NotEmpty(t, sum.FetchError)
	assert.Equal(t, apperr.CodeFetch, apperr.CodeOf(sum.Err()))
	assert.Nil(t, sum.Changes)

	// the reminder still goes out from the known schedule
	require.Len(t, n.sent, 1)
	assert.True(t, sum.Saved)
	assert.False(t, only(t, loadState(t, deps)).Cancelled)
}

func only(t *testing.T, st *state.State) *game.Game {
	t.Helper()
	games := st.ActiveGames()
	require.Len(t, games, 1)
	return games[0]
}

func TestRun_FetchErrorIsRecoverable(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	deps := testDeps(t, f, &recordingNotifier{})

	sum, err := newRunner(t, deps, day(-1)).Run(context.Background(), day(-1))
	require.NoError(t, err)
	assert.Equal(t, ExitRecoverable, sum.ExitCode(err))
	assert.Contains(t, sum.FetchError, "connection refused")
	assert.Equal(t, apperr.CodeFetch, apperr.CodeOf(sum.Err()))
	assert.True(t, sum.Saved)
}

func TestRun_LockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run.lock")
	held, err := storage.NewFileLock(lockPath)
	require.NoError(t, err)
	unlock, err := held.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	f := &fakeFetcher{}
	deps := testDeps(t, f, &recordingNotifier{})
	deps.Locker, err = storage.NewFileLock(lockPath)
	require.NoError(t, err)

	sum, err := newRunner(t, deps, day(-1)).Run(context.Background(), day(-1))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeLock, apperr.CodeOf(err))
	assert.ErrorIs(t, err, storage.ErrLocked)
	assert.Equal(t, ExitFatal, sum.ExitCode(err))
	assert.Zero(t, f.calls)
}

func TestRun_CorruptStateAborts(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)
	require.NoError(t, deps.Store.Put(ctx, state.DefaultKey, []byte("{not json")))

	_, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeCorrupt, apperr.CodeOf(err))
	assert.True(t, apperr.IsFatal(err))
	assert.Empty(t, n.sent)
	assert.Zero(t, f.calls)

	data, err := deps.Store.Get(ctx, state.DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestRun_DryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{}
	deps := testDeps(t, f, n)

	sum, err := newRunner(t, deps, day(-1), WithDryRun(true)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.False(t, sum.Saved)
	assert.Len(t, n.sent, 1)

	_, err = deps.Store.Get(ctx, state.DefaultKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.Len(t, sum.Exports, 1)
	assert.False(t, sum.Exports[0].Uploaded)
	assert.Positive(t, sum.Exports[0].Bytes)
	_, err = deps.Store.Get(ctx, export.FileName(season))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRun_TransportFailureRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	n := &recordingNotifier{err: errors.New("throttled")}
	deps := testDeps(t, f, n)

	sum, err := newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Equal(t, ExitRecoverable, sum.ExitCode(err))
	assert.Len(t, sum.Notifications.Failed, 1)
	assert.Equal(t, apperr.CodeTransport, apperr.CodeOf(sum.Err()))
	assert.Zero(t, loadState(t, deps).Ledger.Len())

	n.err = nil
	sum, err = newRunner(t, deps, day(-1)).Run(ctx, day(-1))
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, sum.ExitCode(err))
	assert.Len(t, n.sent, 1)
	assert.Equal(t, 1, loadState(t, deps).Ledger.Len())
}

func TestRun_SaveFailureIsFatal(t *testing.T) {
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	deps := testDeps(t, f, &recordingNotifier{})
	deps.Store = failingStore{Store: deps.Store, key: state.DefaultKey}

	sum, err := newRunner(t, deps, day(-1)).Run(context.Background(), day(-1))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeStore, apperr.CodeOf(err))
	assert.Equal(t, ExitFatal, sum.ExitCode(err))
	assert.False(t, sum.Saved)
	assert.Empty(t, sum.Exports)
}

func TestRun_ExportFailureIsRecoverable(t *testing.T) {
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	deps := testDeps(t, f, &recordingNotifier{})
	deps.Sinks = append(deps.Sinks, brokenSink{})

	sum, err := newRunner(t, deps, day(-5)).Run(context.Background(), day(-5))
	require.NoError(t, err)
	assert.Equal(t, ExitRecoverable, sum.ExitCode(err))
	assert.True(t, sum.Saved)

	require.Len(t, sum.Exports, 2)
	assert.True(t, sum.Exports[0].Uploaded)
	assert.Contains(t, sum.Exports[1].Error, "template exploded")
	assert.Equal(t, apperr.CodeRender, apperr.CodeOf(sum.Err()))
}

func TestRun_WritesMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homegames.prom")
	f := &fakeFetcher{raws: []game.Raw{homeGame("07.03.2026", "HSG Nachbarort", "1001")}}
	deps := testDeps(t, f, &recordingNotifier{})

	_, err := newRunner(t, deps, day(-1), WithMetrics(logger.NewMetrics(), path)).Run(context.Background(), day(-1))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `homegames_notifications_total{channel="email",outcome="sent"} 1`)
	assert.Contains(t, string(data), `homegames_games{status="active"} 1`)
	assert.Contains(t, string(data), "homegames_last_success_timestamp_seconds")
}
