package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/sprintfleet/internal/config"
	"github.com/Iron-Ham/sprintfleet/internal/kanban"
	"github.com/Iron-Ham/sprintfleet/internal/util"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Column limits for free-form text.
const (
	maxNameWidth = 24
	maxNoteWidth = 100
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("1"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderResult prints the velocity table, loans, team status and budget.
func renderResult(w io.Writer, cfg *config.Config, res *experimentResult) {
	fmt.Fprintln(w, titleStyle.Render("Velocity by sprint"))
	fmt.Fprintln(w, velocityTable(cfg, res))

	var notes []string
	for _, r := range res.Reports {
		for _, b := range r.Borrowed {
			notes = append(notes, fmt.Sprintf("sprint %d: borrowed %s", r.Sprint, b.String()))
		}
		if r.Outcome != nil && r.Outcome.Fallback {
			notes = append(notes, fmt.Sprintf("sprint %d: coordination used the fallback plan", r.Sprint))
		}
		for _, id := range r.Failed {
			notes = append(notes, fmt.Sprintf("sprint %d: team %s failed", r.Sprint, id))
		}
	}
	if len(notes) > 0 {
		fmt.Fprintln(w)
		for _, n := range notes {
			fmt.Fprintln(w, noteStyle.Render(util.TruncateWidth("• "+n, maxNoteWidth)))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Boards"))
	fmt.Fprintln(w, boardTable(res))

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Overhead budget"))
	fmt.Fprint(w, budgetSummary(res))

	if res.Exported != nil {
		fmt.Fprintf(w, "\nExported %d events (%d failed)\n", res.Exported.Exported, res.Exported.Failed)
	}
}

// velocityTable has one row per sprint and one column per team.
func velocityTable(cfg *config.Config, res *experimentResult) string {
	headers := []string{"Sprint"}
	for _, tc := range cfg.Teams {
		headers = append(headers, tc.ID)
	}
	headers = append(headers, "Total")

	// failed[row][col] marks cells rendered in the failure style.
	failed := make(map[int]map[int]bool)
	rows := make([][]string, 0, len(res.Reports))
	for i, r := range res.Reports {
		row := []string{fmt.Sprint(r.Sprint)}
		for j, tc := range cfg.Teams {
			result, ok := r.Result(tc.ID)
			if !ok {
				row = append(row, "failed")
				if failed[i] == nil {
					failed[i] = make(map[int]bool)
				}
				failed[i][j+1] = true
				continue
			}
			row = append(row, fmt.Sprintf("%g (%d)", result.Velocity, result.FeaturesCompleted))
		}
		row = append(row, fmt.Sprintf("%g", r.TotalVelocity()))
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if failed[row][col] {
				return failedStyle
			}
			return cellStyle
		}).
		String()
}

// boardTable shows each team's final column counts.
func boardTable(res *experimentResult) string {
	statuses := kanban.Statuses()
	headers := []string{"Team", "Agents"}
	for _, s := range statuses {
		headers = append(headers, string(s))
	}

	rows := make([][]string, 0, len(res.Teams))
	for _, st := range res.Teams {
		row := []string{util.TruncateWidth(st.Name, maxNameWidth), fmt.Sprint(len(st.Agents))}
		for _, s := range statuses {
			row = append(row, fmt.Sprint(st.Counts[s]))
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func budgetSummary(res *experimentResult) string {
	s := res.Budget
	var sb strings.Builder
	fmt.Fprintf(&sb, "  total       %s\n", s.Total.Round(time.Second))
	fmt.Fprintf(&sb, "  iteration 0 %s\n", s.IterationZero.Round(time.Second))
	fmt.Fprintf(&sb, "  per sprint  %s\n", s.PerSprint.Round(time.Second))
	fmt.Fprintf(&sb, "  spent       %s over %d steps\n", s.Spent.Round(time.Millisecond), s.Steps)
	fmt.Fprintf(&sb, "  remaining   %s\n", s.Remaining.Round(time.Second))
	if s.Overruns > 0 {
		fmt.Fprintf(&sb, "  overruns    %d\n", s.Overruns)
	}
	if s.Exhausted {
		sb.WriteString(failedStyle.Render("budget exhausted") + "\n")
	}
	return sb.String()
}
