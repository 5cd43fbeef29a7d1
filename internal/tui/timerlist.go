package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/timers"
)

var (
	stateRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statePaused  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow

	columnHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
)

// liveElapsed advances a running timer's elapsed time from the moment the
// view was fetched. Paused timers keep the daemon's figure.
func liveElapsed(v models.TimerView, fetchedAt, now time.Time) time.Duration {
	d := time.Duration(v.ElapsedNs)
	if v.State == models.StateRunning && now.After(fetchedAt) {
		d += now.Sub(fetchedAt)
	}
	return d
}

func stateStyle(state models.RunState) lipgloss.Style {
	if state == models.StatePaused {
		return statePaused
	}
	return stateRunning
}

func formatState(state models.RunState) string {
	return stateStyle(state).Render(stateIcon(state) + " " + string(state))
}

func stateIcon(state models.RunState) string {
	if state == models.StatePaused {
		return "‖"
	}
	return "●"
}

func (a *App) renderTimerList(height int) string {
	if a.loading && len(a.timers) == 0 {
		return "\n  Loading timers...\n"
	}
	if len(a.timers) == 0 {
		return "\n  No timers yet. Type: add <title> to start one.\n"
	}

	now := time.Now()
	header := columnHeaderStyle.Render(fmt.Sprintf("    %-28s  %-9s  %-22s  %-22s  %s",
		"TIMER", "STATE", "CURRENT", "AVERAGE", "LONGEST"))
	lines := []string{header}
	for i, v := range a.timers {
		row := fmt.Sprintf("%-28s  %-9s  %-22s  %-22s  %s",
			truncate(v.Title, 28), v.State, timers.FormatElapsed(liveElapsed(v, a.fetchedAt, now)),
			v.AverageText, v.LongestText)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+stateIcon(v.State)+" "+row))
			continue
		}
		lines = append(lines, "  "+stateStyle(v.State).Render(stateIcon(v.State))+" "+row)
	}

	// Keep the selection visible; the header row is always shown.
	rows := lines[1:]
	if height > 1 && len(rows) > height-1 {
		visible := height - 1
		start := a.selectedIdx - visible/2
		if start < 0 {
			start = 0
		}
		end := start + visible
		if end > len(rows) {
			end = len(rows)
			start = max(0, end-visible)
		}
		rows = rows[start:end]
	}
	return strings.Join(append([]string{header}, rows...), "\n")
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
