package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/runner"
	"github.com/pfrederiksen/homegames/internal/scheduler"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

var weekdayShort = [...]string{"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"}

// WriteSummary writes the end-of-run summary in the specified format
func WriteSummary(w io.Writer, sum *runner.Summary, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, sum)
	case FormatText:
		return writeSummaryText(w, sum, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// PlanResult is what the show command prints.
type PlanResult struct {
	Season    string       `json:"season"`
	UpdatedAt time.Time    `json:"updated_at"`
	Games     []*game.Game `json:"games"`
}

// WritePlan writes the stored plan. labels maps role names to display
// labels.
func WritePlan(w io.Writer, result *PlanResult, labels map[string]string, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writePlanText(w, result, labels, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func gameLine(g *game.Game) string {
	kickoff := g.Kickoff
	if kickoff == "" {
		kickoff = "--:--"
	}
	line := fmt.Sprintf("%s %s %s  %s - %s", weekdayShort[g.Date.Weekday()], g.Date.Format(game.DisplayLayout), kickoff, g.Home, g.Opponent)
	if g.Team != "" {
		line += " (" + g.Team + ")"
	}
	return line
}

func writeSummaryText(w io.Writer, sum *runner.Summary, verbose bool) error {
	header := fmt.Sprintf("Run %s for %s, season %s", sum.RunID, sum.Today.Format(game.DisplayLayout), sum.Season)
	if sum.DryRun {
		header += " [dry run]"
	}
	fmt.Fprintln(w, header)

	if sum.FetchError != "" {
		fmt.Fprintf(w, "\nSchedule not updated: %s\n", sum.FetchError)
	}

	if cs := sum.Changes; cs != nil {
		fmt.Fprintf(w, "\nFetched %d games: %d new, %d changed, %d cancelled, %d reinstated, %d retired\n",
			sum.Fetched, len(cs.Added), len(cs.Updated), len(cs.Cancelled), len(cs.Reinstated), len(cs.Retired))
		for _, g := range cs.Added {
			fmt.Fprintf(w, "  NEW        %s\n", gameLine(g))
		}
		for _, u := range cs.Updated {
			changes := make([]string, 0, len(u.Changes))
			for _, c := range u.Changes {
				changes = append(changes, fmt.Sprintf("%s %s -> %s", c.ChangeType, c.OldValue, c.NewValue))
			}
			fmt.Fprintf(w, "  CHANGED    %s: %s\n", gameLine(u.Game), strings.Join(changes, ", "))
		}
		for _, g := range cs.Cancelled {
			fmt.Fprintf(w, "  CANCELLED  %s\n", gameLine(g))
		}
		for _, g := range cs.Reinstated {
			fmt.Fprintf(w, "  REINSTATED %s\n", gameLine(g))
		}
		if verbose {
			for _, a := range cs.Assigned {
				fmt.Fprintf(w, "  ASSIGNED   %s: %s -> %s (%s)\n", a.Game, a.Role, a.Recipient, a.Source)
			}
		}

		if len(cs.Anomalies) > 0 {
			fmt.Fprintf(w, "\nAnomalies (%d):\n", len(cs.Anomalies))
			for _, a := range cs.Anomalies {
				fmt.Fprintf(w, "  %s", a.Kind)
				if a.Game != "" {
					fmt.Fprintf(w, " %s", a.Game)
				}
				if a.Role != "" {
					fmt.Fprintf(w, " [%s]", a.Role)
				}
				if a.Detail != "" {
					fmt.Fprintf(w, ": %s", a.Detail)
				}
				fmt.Fprintln(w)
			}
		}
	}

	if rep := sum.Notifications; rep != nil {
		fmt.Fprintf(w, "\nNotifications: %d sent, %d late, %d skipped, %d failed, %d already delivered\n",
			len(rep.Sent), len(rep.Late), len(rep.Skipped), len(rep.Failed), rep.AlreadyDelivered)
		if verbose {
			writeOutcomes(w, "SENT", rep.Sent)
		}
		writeOutcomes(w, "LATE", rep.Late)
		writeOutcomes(w, "SKIPPED", rep.Skipped)
		writeOutcomes(w, "FAILED", rep.Failed)
	}

	if len(sum.Exports) > 0 {
		fmt.Fprintln(w, "\nExports:")
		for _, e := range sum.Exports {
			switch {
			case e.Error != "":
				fmt.Fprintf(w, "  %s: %s\n", e.Key, e.Error)
			case e.Uploaded:
				fmt.Fprintf(w, "  %s (%d bytes)\n", e.Key, e.Bytes)
			default:
				fmt.Fprintf(w, "  %s (%d bytes, not uploaded)\n", e.Key, e.Bytes)
			}
		}
	}

	fmt.Fprintf(w, "\nGames: %s\n", sum.Games)
	if !sum.Saved && !sum.DryRun {
		fmt.Fprintln(w, "State NOT saved.")
	}
	return nil
}

func writeOutcomes(w io.Writer, label string, outcomes []scheduler.Outcome) {
	for _, o := range outcomes {
		line := fmt.Sprintf("  %-8s %s -> %s", label, o.Rule, o.Recipient)
		if o.Channel != "" {
			line += " (" + o.Channel + ")"
		}
		line += ": " + o.Game
		if o.Reason != "" {
			line += " [" + o.Reason + "]"
		}
		fmt.Fprintln(w, line)
	}
}

func writePlanText(w io.Writer, result *PlanResult, labels map[string]string, verbose bool) error {
	if len(result.Games) == 0 {
		fmt.Fprintln(w, "No games stored.")
		return nil
	}

	for _, g := range result.Games {
		line := gameLine(g)
		if g.Cancelled {
			line += "  ABGESAGT"
		}
		fmt.Fprintln(w, line)

		for _, a := range g.Assignments {
			role := a.Role
			if l := labels[a.Role]; l != "" {
				role = l
			}
			fmt.Fprintf(w, "     %s: %s", role, a.Recipient)
			if a.Task != "" {
				fmt.Fprintf(w, " (%s)", a.Task)
			}
			fmt.Fprintln(w)
		}
		if verbose {
			fmt.Fprintf(w, "     Key: %s\n", g.Key)
			if g.Number != "" {
				fmt.Fprintf(w, "     Nr.: %s\n", g.Number)
			}
			if g.Venue != "" {
				fmt.Fprintf(w, "     Halle: %s\n", g.Venue)
			}
		}
	}

	fmt.Fprintf(w, "\nTotal: %d games", len(result.Games))
	if result.Season != "" {
		fmt.Fprintf(w, ", season %s", result.Season)
	}
	if !result.UpdatedAt.IsZero() {
		fmt.Fprintf(w, ", updated %s", result.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	return nil
}
