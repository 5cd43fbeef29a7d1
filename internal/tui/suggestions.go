package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// maxVisibleSuggestions bounds the dropdown height.
const maxVisibleSuggestions = 5

var (
	suggestionBoxStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(cyanColor).
				Padding(0, 1)

	suggestionItemStyle = lipgloss.NewStyle().Foreground(fgColor)
)

// Suggestions completes "/" commands and "@" timer titles.
type Suggestions struct {
	items        []SuggestionItem
	filtered     []SuggestionItem
	selectedIdx  int
	visible      bool
	prefix       string // "/" or "@"
	currentInput string
}

// SuggestionItem is one dropdown entry.
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command" or "timer"
}

var commandSuggestions = []SuggestionItem{
	{Text: "add", Description: "Start a new timer", Type: "command"},
	{Text: "reset", Description: "Reset the selected timer", Type: "command"},
	{Text: "pause", Description: "Reset and pause the selected timer", Type: "command"},
	{Text: "resume", Description: "Resume the selected timer", Type: "command"},
	{Text: "rules", Description: "Set rules on the selected timer", Type: "command"},
	{Text: "rename", Description: "Rename the selected timer", Type: "command"},
	{Text: "rm", Description: "Delete the selected timer on this device", Type: "command"},
	{Text: "sync", Description: "Refresh peer sync status", Type: "command"},
	{Text: "quit", Description: "Leave the dashboard", Type: "command"},
}

// NewSuggestions creates an empty, hidden dropdown.
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// Update recomputes the dropdown for the current input line.
func (s *Suggestions) Update(input string) {
	s.currentInput = input
	switch {
	case strings.HasPrefix(input, "/"):
		s.prefix = "/"
		s.items = commandSuggestions
	case strings.HasPrefix(input, "@"):
		// Titles arrive through SetTimers; never show commands here.
		if s.prefix != "@" {
			s.items = nil
		}
		s.prefix = "@"
	default:
		s.prefix = ""
		s.visible = false
		s.filtered = nil
		return
	}
	s.visible = true
	s.filter(s.query())
}

// SetTimers replaces the title candidates shown after "@".
func (s *Suggestions) SetTimers(titles []string) {
	if s.prefix != "@" {
		return
	}
	s.items = make([]SuggestionItem, 0, len(titles))
	for _, title := range titles {
		s.items = append(s.items, SuggestionItem{
			Text:        title,
			Description: "Select this timer",
			Type:        "timer",
		})
	}
	s.filter(s.query())
}

func (s *Suggestions) query() string {
	return strings.ToLower(strings.TrimPrefix(s.currentInput, s.prefix))
}

// filter keeps items containing query, prefix matches first. The previous
// selection is kept when it still matches.
func (s *Suggestions) filter(query string) {
	var keep string
	if sel := s.Selected(); sel != nil {
		keep = sel.Text
	}

	s.filtered = s.filtered[:0]
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	sort.SliceStable(s.filtered, func(i, j int) bool {
		pi := strings.HasPrefix(strings.ToLower(s.filtered[i].Text), query)
		pj := strings.HasPrefix(strings.ToLower(s.filtered[j].Text), query)
		return pi && !pj
	})

	s.selectedIdx = 0
	for i, item := range s.filtered {
		if item.Text == keep {
			s.selectedIdx = i
			break
		}
	}
}

// Next moves the selection down, wrapping.
func (s *Suggestions) Next() {
	if n := len(s.filtered); n > 0 {
		s.selectedIdx = (s.selectedIdx + 1) % n
	}
}

// Prev moves the selection up, wrapping.
func (s *Suggestions) Prev() {
	if n := len(s.filtered); n > 0 {
		s.selectedIdx = (s.selectedIdx - 1 + n) % n
	}
}

// Selected returns the highlighted entry, or nil when hidden.
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.IsVisible() || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible reports whether the dropdown has anything to show.
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render draws the dropdown, scrolled so the selection is always shown.
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	header := "Commands"
	if s.prefix == "@" {
		header = "Timers"
	}

	start := 0
	if s.selectedIdx >= maxVisibleSuggestions {
		start = s.selectedIdx - maxVisibleSuggestions + 1
	}
	end := start + maxVisibleSuggestions
	if end > len(s.filtered) {
		end = len(s.filtered)
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	for i := start; i < end; i++ {
		item := s.filtered[i]
		b.WriteString("\n")
		if i == s.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ " + item.Text + "  " + item.Description))
			continue
		}
		b.WriteString(suggestionItemStyle.Render("  "+item.Text) + "  " + helpStyle.Render(item.Description))
	}
	if hidden := len(s.filtered) - (end - start); hidden > 0 {
		b.WriteString("\n" + helpStyle.Render(fmt.Sprintf("  %d more", hidden)))
	}

	return suggestionBoxStyle.Width(max(20, width-4)).Render(b.String())
}
