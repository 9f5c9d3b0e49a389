// Package report は調律結果と再生結果を端末向けに整形する。
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"

	"jiperform/internal/channel"
	"jiperform/internal/tuning"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	sharpStyle  = cellStyle.Foreground(lipgloss.Color("203"))
	flatStyle   = cellStyle.Foreground(lipgloss.Color("75"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

const centsCol = 4

// Row は NoteOn 1 件の調律結果。
type Row struct {
	Note   tuning.TunedNote
	Assign channel.Assignment
}

func (r Row) cells() []string {
	return []string{
		fmt.Sprintf("%.3fs", r.Note.Time.Seconds()),
		r.Note.Name(),
		r.Note.Pitch.String(),
		r.Note.Pitch.Monzo.String(),
		fmt.Sprintf("%+.2f", r.Note.CentsDeviation),
		fmt.Sprintf("%d", r.Assign.Channel),
		fmt.Sprintf("%d", r.Assign.Bend),
	}
}

// Line は 1 行表示（再生中の -debug 用）。
func Line(r Row) string {
	return strings.Join(r.cells(), "\t")
}

// Table は調律結果の表。
func Table(rows []Row) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("time", "note", "ratio", "monzo", "cents", "ch", "bend").
		Rows(lo.Map(rows, func(r Row, _ int) []string { return r.cells() })...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == centsCol && row >= 0 && row < len(rows) {
				switch dev := rows[row].Note.CentsDeviation; {
				case dev > 0:
					return sharpStyle
				case dev < 0:
					return flatStyle
				}
			}
			return cellStyle
		})
	return t.String()
}

// Item は Summary の 1 行。
type Item struct {
	Label string
	Value string
}

// Summary は枠付きの要約。
func Summary(title string, items []Item) string {
	width := lo.Max(lo.Map(items, func(it Item, _ int) int { return lipgloss.Width(it.Label) }))
	lines := []string{labelStyle.Render(title)}
	for _, it := range items {
		pad := strings.Repeat(" ", width-lipgloss.Width(it.Label))
		lines = append(lines, fmt.Sprintf("%s%s  %s", it.Label, pad, it.Value))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
