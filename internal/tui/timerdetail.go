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
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// renderTimerDetail renders one timer with its full history, newest first.
// The result is scrolled by the app's viewport.
func renderTimerDetail(v *models.TimerView, fetchedAt, now time.Time) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(v.Title))
	b.WriteString("\n\n")

	b.WriteString(renderField("State", formatState(v.State)))
	b.WriteString(renderField("Started", v.StartTime.Local().Format("Mon 2 Jan 2006 15:04")))
	b.WriteString(renderField("Current", timers.FormatElapsed(liveElapsed(*v, fetchedAt, now))))
	b.WriteString(renderField("Average", v.AverageText))
	b.WriteString(renderField("Longest", v.LongestText))
	b.WriteString(renderField("Resets", fmt.Sprintf("%d", len(v.History))))
	b.WriteString(renderField("Updated", v.LastUpdated.Local().Format(time.RFC3339)))

	if v.Rules != "" {
		b.WriteString(sectionStyle.Render("Rules"))
		b.WriteString("\n")
		for _, line := range strings.Split(v.Rules, "\n") {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString(sectionStyle.Render("History"))
	b.WriteString("\n")
	if len(v.History) == 0 {
		b.WriteString("  " + helpStyle.Render("No resets yet") + "\n")
		return b.String()
	}
	for i := len(v.History) - 1; i >= 0; i-- {
		h := v.History[i]
		reason := h.ResetReason
		if reason == "" {
			reason = helpStyle.Render("no reason")
		}
		b.WriteString(fmt.Sprintf("  #%-3d %s  %s  %s\n",
			i,
			labelStyle.Render(h.EndTime.Local().Format("2006-01-02 15:04")),
			valueStyle.Render(fmt.Sprintf("%-22s", timers.FormatElapsed(h.Elapsed))),
			truncate(reason, 60)))
	}
	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-8s", label+":")), valueStyle.Render(value))
}
