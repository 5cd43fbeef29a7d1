// Package tui provides the interactive timer dashboard for streaks.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/replica"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// refreshEvery is how many one-second ticks pass between API refreshes.
const refreshEvery = 5

// App is the main TUI application model.
type App struct {
	client       *Client
	timers       []models.TimerView
	fetchedAt    time.Time
	selectedIdx  int
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string // "list" or "detail"
	message      string
	loading      bool
	daemonOnline bool
	sync         *replica.Status
	suggestions  *Suggestions
	ticks        int
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: add <title> | reset [reason] | pause | resume | rules <text> | / for commands, @ for timers"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    viewport.New(80, 20),
		mode:        "list",
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTimers(),
		a.fetchSync(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Single-letter shortcuts only apply while the input is empty.
		typing := a.input.Value() != ""

		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if typing {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, nil
			}
			if a.mode == "detail" {
				a.mode = "list"
				return a, a.fetchTimers()
			}

		case "up", "k":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
				return a, nil
			}
			if msg.String() == "k" && typing {
				break
			}
			if a.mode == "detail" {
				a.viewport.LineUp(1)
			} else if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			if !typing {
				return a, nil
			}

		case "down", "j":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
				return a, nil
			}
			if msg.String() == "j" && typing {
				break
			}
			if a.mode == "detail" {
				a.viewport.LineDown(1)
			} else if a.selectedIdx < len(a.timers)-1 {
				a.selectedIdx++
			}
			if !typing {
				return a, nil
			}

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
			}
			return a, nil

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				return a, a.executeCommand(cmd)
			}
			if a.mode == "list" && len(a.timers) > 0 {
				a.mode = "detail"
				a.viewport.GotoTop()
				a.refreshDetail()
				return a, a.fetchTimers()
			}
			return a, nil

		case "r":
			if !typing {
				return a, tea.Batch(a.fetchTimers(), a.fetchSync())
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.viewport.Width = msg.Width
		a.viewport.Height = max(5, msg.Height-9)
		a.refreshDetail()

	case timersLoadedMsg:
		a.loading = false
		a.daemonOnline = true
		selected := a.selectedTitle()
		a.timers = msg.timers
		a.fetchedAt = msg.at
		a.selectTitle(selected)
		if a.selectedIdx >= len(a.timers) {
			a.selectedIdx = max(0, len(a.timers)-1)
		}
		if a.mode == "detail" && len(a.timers) == 0 {
			a.mode = "list"
		}
		a.refreshDetail()

	case syncLoadedMsg:
		a.sync = msg.status

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		a.ticks++
		a.refreshDetail()
		cmds = append(cmds, a.tickCmd())
		if a.ticks%refreshEvery == 0 {
			cmds = append(cmds, a.fetchTimers(), a.fetchSync())
		}

	case commandResultMsg:
		a.message = msg.message
		return a, tea.Batch(a.fetchTimers(), a.fetchSync())

	case errMsg:
		a.loading = false
		a.daemonOnline = false
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		titles := make([]string, len(a.timers))
		for i, t := range a.timers {
			titles[i] = t.Title
		}
		a.suggestions.SetTimers(titles)
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("⏱ STREAKS")
	header += "  " + daemonStatus
	header += "  " + a.renderSyncBadge()

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "list":
		b.WriteString(a.renderTimerList(contentHeight))
	case "detail":
		b.WriteString(a.viewport.View())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	// Suggestions render below the input.
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "list":
		status = fmt.Sprintf(" Timers: %d | ↑↓:nav | Enter:details | r:refresh | Ctrl+C:quit", len(a.timers))
	default:
		status = " ↑↓:scroll | Esc:back | reset/pause/resume act on this timer | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderSyncBadge() string {
	if a.sync == nil {
		return helpStyle.Render("sync off")
	}
	style := lipgloss.NewStyle().Foreground(warningColor)
	label := "peer away"
	if a.sync.Reachable {
		style = lipgloss.NewStyle().Foreground(cyanColor)
		label = "peer online"
	}
	badge := fmt.Sprintf("[%s · %s]", a.sync.State, label)
	if a.sync.Pending {
		badge += " pending"
	}
	return style.Render(badge)
}

func (a *App) acceptSuggestion() {
	selected := a.suggestions.Selected()
	if selected == nil {
		return
	}
	if selected.Type == "timer" {
		a.selectTitle(selected.Text)
		a.input.SetValue("")
	} else {
		a.input.SetValue(selected.Text + " ")
		a.input.CursorEnd()
	}
	a.suggestions.Update("")
}

func (a *App) selectedTitle() string {
	if a.selectedIdx < 0 || a.selectedIdx >= len(a.timers) {
		return ""
	}
	return a.timers[a.selectedIdx].Title
}

func (a *App) selectTitle(title string) {
	for i, t := range a.timers {
		if t.Title == title {
			a.selectedIdx = i
			return
		}
	}
}

// refreshDetail re-renders the detail viewport so the current streak ticks.
func (a *App) refreshDetail() {
	if a.mode != "detail" || a.selectedIdx >= len(a.timers) {
		return
	}
	v := a.timers[a.selectedIdx]
	a.viewport.SetContent(renderTimerDetail(&v, a.fetchedAt, time.Now()))
}

func (a *App) fetchTimers() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		views, err := a.client.ListTimers()
		if err != nil {
			return errMsg{err}
		}
		return timersLoadedMsg{timers: views, at: time.Now()}
	}
}

func (a *App) fetchSync() tea.Cmd {
	return func() tea.Msg {
		st, err := a.client.SyncStatus()
		if err != nil {
			// Sync disabled or daemon down; the badge shows "sync off".
			return syncLoadedMsg{nil}
		}
		return syncLoadedMsg{st}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type timersLoadedMsg struct {
	timers []models.TimerView
	at     time.Time
}

type syncLoadedMsg struct {
	status *replica.Status
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
