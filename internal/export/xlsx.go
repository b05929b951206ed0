package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/state"
)

const (
	PlanSheet    = "Heimspielplan"
	ChangesSheet = "Changes"
)

var planColumns = []string{"Tag", "Datum", "Zeit", "Halle", "Nr.", "Ak", "Heim", "Gast", "Status"}

var changeColumns = []string{"Art", "Spiel", "Feld", "Alt", "Neu"}

var weekdayShort = [...]string{"So.", "Mo.", "Di.", "Mi.", "Do.", "Fr.", "Sa."}

// XLSX renders the season plan as a spreadsheet with one column per duty.
type XLSX struct {
	season game.Season
	roles  []reconcile.Role
}

// NewXLSX creates a spreadsheet sink for season with duty columns for roles.
func NewXLSX(season game.Season, roles []reconcile.Role) *XLSX {
	return &XLSX{season: season, roles: roles}
}

// FileName returns the spreadsheet name for a season.
func FileName(season game.Season) string {
	return fmt.Sprintf("Heimspielplan_%s.xlsx", season.Suffix())
}

func (x *XLSX) Key() string {
	return FileName(x.season)
}

// Render writes the plan sheet and, when cs is not nil, a sheet listing this
// run's changes.
func (x *XLSX) Render(st *state.State, cs *reconcile.ChangeSet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), PlanSheet); err != nil {
		return nil, fmt.Errorf("naming plan sheet: %w", err)
	}
	if err := x.writePlan(f, gamesOf(st, x.season)); err != nil {
		return nil, err
	}

	if _, err := f.NewSheet(ChangesSheet); err != nil {
		return nil, fmt.Errorf("creating changes sheet: %w", err)
	}
	if err := writeChanges(f, cs); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (x *XLSX) writePlan(f *excelize.File, games []*game.Game) error {
	header := make([]interface{}, 0, len(planColumns)+len(x.roles))
	for _, c := range planColumns {
		header = append(header, c)
	}
	for _, r := range x.roles {
		label := r.Label
		if label == "" {
			label = r.Name
		}
		header = append(header, label)
	}
	if err := setRow(f, PlanSheet, 1, header); err != nil {
		return err
	}

	for i, g := range games {
		row := []interface{}{
			weekdayShort[g.Date.Weekday()],
			g.Date.Format(game.DisplayLayout),
			g.Kickoff,
			g.Venue,
			g.Number,
			g.Team,
			g.Home,
			g.Opponent,
			status(g),
		}
		for _, r := range x.roles {
			name := ""
			if a, ok := g.Assignment(r.Name); ok {
				name = a.Recipient
			}
			row = append(row, name)
		}
		if err := setRow(f, PlanSheet, i+2, row); err != nil {
			return err
		}
	}

	return styleHeader(f, PlanSheet, len(header))
}

func status(g *game.Game) string {
	switch {
	case g.Cancelled:
		return "abgesagt"
	case g.Note != "":
		return g.Note
	}
	return ""
}

func writeChanges(f *excelize.File, cs *reconcile.ChangeSet) error {
	header := make([]interface{}, 0, len(changeColumns))
	for _, c := range changeColumns {
		header = append(header, c)
	}
	if err := setRow(f, ChangesSheet, 1, header); err != nil {
		return err
	}
	if cs == nil {
		return styleHeader(f, ChangesSheet, len(header))
	}

	var rows [][]interface{}
	for _, g := range cs.Added {
		rows = append(rows, []interface{}{"neu", g.Label(), "", "", ""})
	}
	for _, u := range cs.Updated {
		for _, c := range u.Changes {
			rows = append(rows, []interface{}{"geändert", u.Game.Label(), c.ChangeType, c.OldValue, c.NewValue})
		}
	}
	for _, g := range cs.Cancelled {
		rows = append(rows, []interface{}{"abgesagt", g.Label(), "", "", ""})
	}
	for _, g := range cs.Reinstated {
		rows = append(rows, []interface{}{"wieder angesetzt", g.Label(), "", "", ""})
	}
	for _, a := range cs.Assigned {
		rows = append(rows, []interface{}{"eingeteilt", a.Game, a.Role, "", a.Recipient})
	}

	for i, row := range rows {
		if err := setRow(f, ChangesSheet, i+2, row); err != nil {
			return err
		}
	}
	return styleHeader(f, ChangesSheet, len(header))
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

// styleHeader makes the first row bold, freezes it and adds a filter.
func styleHeader(f *excelize.File, sheet string, columns int) error {
	last, err := excelize.CoordinatesToCellName(columns, 1)
	if err != nil {
		return err
	}
	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 14); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
