package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/homegames/internal/config"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/runner"
	"github.com/pfrederiksen/homegames/internal/state"
)

const (
	ExitSuccess     = runner.ExitSuccess
	ExitError       = runner.ExitFatal
	ExitRecoverable = runner.ExitRecoverable
)

// CodeError carries the process exit code out of a command.
type CodeError struct {
	Code int
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *CodeError) Unwrap() error {
	return e.Err
}

type options struct {
	configPath string
	format     string
	verbose    bool
	today      string
	dryRun     bool
	sortOrder  string
	all        bool
	now        func() time.Time
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &options{now: time.Now}
	return newRootCmd(opts)
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "homegames",
		Short: "Track a club's home games and send duty reminders",
		Long: `homegames keeps the season's home game plan in sync with the league
schedule, hands out duties from rotation pools and sends time-relative
reminders exactly once. Run it once a day.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ./homegames.yaml or ~/.config/homegames/homegames.yaml)")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable verbose output and debug logging")

	cmd.AddCommand(newRunCmd(opts), newShowCmd(opts), newValidateCmd(opts))
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the schedule, reconcile it and send due notifications",
		Long: `Runs one invocation: fetch the league schedule, reconcile it with the stored
plan, send every notification that is due today, save the plan and upload
the exports.

Exit codes: 0 success, 1 fatal error (nothing saved), 2 finished with
recoverable failures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.today, "today", "", "Pretend today is this date (YYYY-MM-DD or DD.MM.YYYY)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print messages instead of sending; do not save or upload")
	return cmd
}

func newShowCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored plan with duties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShow(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.sortOrder, "sort", string(SortByDate), "Sort order: date, team or opponent")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Include retired games")
	return cmd
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return &CodeError{Code: ExitError, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d recipients, %d roles, %d rules, state backend %s\n",
				len(cfg.Recipients), len(cfg.Roles), len(cfg.Rules), cfg.State.Backend)
			return nil
		},
	}
}

func (o *options) outputFormat() (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(o.format))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", o.format)
	}
	return format, nil
}

// resolveToday returns the run date: the --today override, or the current
// date in the club's time zone.
func (o *options) resolveToday(loc *time.Location) (time.Time, error) {
	if o.today != "" {
		d, err := game.ParseDate(o.today)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --today: %w", err)
		}
		return d, nil
	}
	return game.Day(o.now().In(loc)), nil
}

func newLogger(cfg *config.Config, verbose bool) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logger.LevelDebug
	}
	return logger.New(level, cfg.Logging.Format)
}

// runRun is the main command logic
func runRun(cmd *cobra.Command, opts *options) error {
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &CodeError{Code: ExitError, Err: err}
	}

	log, err := newLogger(cfg, opts.verbose)
	if err != nil {
		return &CodeError{Code: ExitError, Err: err}
	}
	defer log.Sync()

	today, err := opts.resolveToday(cfg.Location())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return &CodeError{Code: ExitError, Err: fmt.Errorf("opening state backend: %w", err)}
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("closing state backend failed", logger.Fields{"error": err.Error()})
		}
	}()

	dryRun := opts.dryRun || cfg.Transport.DryRun
	// dry-run messages go to stderr so that --format json stays parseable
	sender, err := cfg.Notifier(ctx, dryRun, cmd.ErrOrStderr())
	if err != nil {
		return &CodeError{Code: ExitError, Err: err}
	}

	r := runner.New(runner.Deps{
		Store:     backend.Store,
		StateKey:  cfg.State.Key,
		Encryptor: cfg.Encryptor(),
		Locker:    backend.Locker,
		Fetcher:   cfg.Scraper(today),
		Sender:    sender,
		Sinks:     cfg.Sinks(today, time.Now),
		Reconcile: cfg.ReconcileOptions(today, time.Time{}),
		Scheduler: cfg.SchedulerConfig(),
		Season:    cfg.Season(today),
	},
		runner.WithLogger(log),
		runner.WithMetrics(logger.NewMetrics(), cfg.Metrics.Textfile),
		runner.WithDryRun(dryRun),
	)

	sum, runErr := r.Run(ctx, today)
	if err := WriteSummary(cmd.OutOrStdout(), sum, format, opts.verbose); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	switch code := sum.ExitCode(runErr); code {
	case ExitSuccess:
		return nil
	case ExitError:
		return &CodeError{Code: code, Err: runErr}
	default:
		return &CodeError{Code: code, Err: sum.Err()}
	}
}

// runShow prints the persisted plan without fetching or sending anything.
func runShow(cmd *cobra.Command, opts *options) error {
	format, err := opts.outputFormat()
	if err != nil {
		return err
	}
	order := SortOrder(strings.ToLower(opts.sortOrder))
	if !order.valid() {
		return fmt.Errorf("invalid sort order: %s (must be 'date', 'team' or 'opponent')", opts.sortOrder)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return &CodeError{Code: ExitError, Err: err}
	}

	ctx := cmd.Context()
	backend, err := cfg.OpenBackend(ctx)
	if err != nil {
		return &CodeError{Code: ExitError, Err: fmt.Errorf("opening state backend: %w", err)}
	}
	defer backend.Close()

	st, err := state.NewStore(backend.Store, cfg.State.Key, cfg.Encryptor()).Load(ctx)
	if err != nil {
		return &CodeError{Code: ExitError, Err: err}
	}

	result := &PlanResult{
		Season:    st.Season,
		UpdatedAt: st.UpdatedAt,
		Games:     st.ActiveGames(),
	}
	if opts.all {
		result.Games = append(st.RetiredGames(), result.Games...)
	}
	sortGames(result.Games, order)

	labels := make(map[string]string, len(cfg.Roles))
	for _, r := range cfg.Roles {
		labels[r.Name] = r.Label
	}
	return WritePlan(cmd.OutOrStdout(), result, labels, format, opts.verbose)
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		var exitErr *CodeError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
