package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// command is one parsed input line. arg is the rest of the line after the
// verb, with inner spacing preserved so titles and reasons survive intact.
type command struct {
	verb string
	arg  string
	ago  time.Duration
}

var errEmpty = errors.New("empty command")

// parseCommand splits "verb rest..." and validates arguments. A leading "/"
// from the suggestion menu is accepted. "add" takes an optional trailing
// "--ago 72h" to backdate the start.
func parseCommand(input string) (command, error) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	if input == "" {
		return command{}, errEmpty
	}
	verb, rest, _ := strings.Cut(input, " ")
	c := command{verb: strings.ToLower(verb), arg: strings.TrimSpace(rest)}

	switch c.verb {
	case "add", "new":
		c.verb = "add"
		if i := strings.LastIndex(c.arg, "--ago "); i >= 0 {
			d, err := time.ParseDuration(strings.TrimSpace(c.arg[i+len("--ago "):]))
			if err != nil {
				return command{}, fmt.Errorf("bad --ago: %w", err)
			}
			c.ago = d
			c.arg = strings.TrimSpace(c.arg[:i])
		}
		if c.arg == "" {
			return command{}, errors.New("usage: add <title> [--ago 72h]")
		}
	case "rename", "mv":
		c.verb = "rename"
		if c.arg == "" {
			return command{}, errors.New("usage: rename <new title>")
		}
	case "rules":
		if c.arg == "" {
			return command{}, errors.New("usage: rules <text>")
		}
	case "reset", "pause", "resume", "sync", "refresh":
	case "rm", "delete":
		c.verb = "rm"
	case "q", "quit", "exit":
		c.verb = "quit"
	default:
		return command{}, fmt.Errorf("unknown: %s (try: add, reset, pause, resume, rules, rename, rm)", verb)
	}
	return c, nil
}

// needsSelection reports whether the verb acts on the selected timer.
func (c command) needsSelection() bool {
	switch c.verb {
	case "reset", "pause", "resume", "rules", "rename", "rm":
		return true
	}
	return false
}

func (a *App) executeCommand(input string) tea.Cmd {
	c, err := parseCommand(input)
	if err != nil {
		if errors.Is(err, errEmpty) {
			return nil
		}
		return func() tea.Msg { return commandResultMsg{"Error: " + err.Error()} }
	}

	switch c.verb {
	case "quit":
		return tea.Quit
	case "refresh":
		return tea.Batch(a.fetchTimers(), a.fetchSync())
	case "sync":
		return a.fetchSync()
	}

	title := a.selectedTitle()
	if c.needsSelection() && title == "" {
		return func() tea.Msg { return commandResultMsg{"No timer selected"} }
	}

	client := a.client
	return func() tea.Msg {
		var err error
		var result string
		switch c.verb {
		case "add":
			_, err = client.CreateTimer(c.arg, c.ago)
			result = "✓ Started " + c.arg
		case "reset":
			_, err = client.ResetTimer(title, c.arg, false)
			result = "✓ Reset " + title
		case "pause":
			_, err = client.ResetTimer(title, c.arg, true)
			result = "✓ Reset and paused " + title
		case "resume":
			_, err = client.ResumeTimer(title)
			result = "✓ Resumed " + title
		case "rules":
			_, err = client.SetRules(title, c.arg)
			result = "✓ Rules updated"
		case "rename":
			_, err = client.RenameTimer(title, c.arg)
			result = fmt.Sprintf("✓ Renamed to %s", c.arg)
		case "rm":
			err = client.DeleteTimer(title)
			result = "✓ Deleted " + title + " on this device"
		}
		if err != nil {
			return commandResultMsg{"Error: " + err.Error()}
		}
		return commandResultMsg{result}
	}
}
