package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/timers"
	"github.com/spf13/cobra"
)

var timerCmd = &cobra.Command{
	Use:     "timer",
	Aliases: []string{"t"},
	Short:   "Manage streak timers",
}

var timerAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Start a new timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerAdd,
}

var timerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List timers",
	RunE:  runTimerList,
}

var timerShowCmd = &cobra.Command{
	Use:   "show [title]",
	Short: "Show timer details and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerShow,
}

var timerResetCmd = &cobra.Command{
	Use:   "reset [title]",
	Short: "Reset a timer, recording the finished streak",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerReset,
}

var timerPauseCmd = &cobra.Command{
	Use:   "pause [title]",
	Short: "Reset a timer and pause it",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerPause,
}

var timerResumeCmd = &cobra.Command{
	Use:   "resume [title]",
	Short: "Resume a paused timer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerResume,
}

var timerRenameCmd = &cobra.Command{
	Use:   "rename [title] [new-title]",
	Short: "Rename a timer",
	Args:  cobra.ExactArgs(2),
	RunE:  runTimerRename,
}

var timerRulesCmd = &cobra.Command{
	Use:   "rules [title] [text]",
	Short: "Set the rules text of a timer",
	Args:  cobra.ExactArgs(2),
	RunE:  runTimerRules,
}

var timerReasonCmd = &cobra.Command{
	Use:   "reason [title] [index] [text]",
	Short: "Change the reason on a history entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runTimerReason,
}

var timerRmCmd = &cobra.Command{
	Use:   "rm [title]",
	Short: "Delete a timer on this device",
	Args:  cobra.ExactArgs(1),
	RunE:  runTimerRm,
}

var (
	timerAgo    time.Duration
	resetReason string
	resetAt     string
)

func init() {
	timerCmd.AddCommand(timerAddCmd, timerListCmd, timerShowCmd, timerResetCmd, timerPauseCmd,
		timerResumeCmd, timerRenameCmd, timerRulesCmd, timerReasonCmd, timerRmCmd)

	timerAddCmd.Flags().DurationVar(&timerAgo, "ago", 0, "Backdate the start, e.g. 72h")

	timerResetCmd.Flags().StringVar(&resetReason, "reason", "", "Why the streak ended")
	timerResetCmd.Flags().StringVar(&resetAt, "at", "", "Reset time (RFC 3339), defaults to now")
	timerPauseCmd.Flags().StringVar(&resetReason, "reason", "", "Why the streak ended")
	timerPauseCmd.Flags().StringVar(&resetAt, "at", "", "Reset time (RFC 3339), defaults to now")
}

func runTimerAdd(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"title": args[0],
	}
	if timerAgo > 0 {
		body["start"] = time.Now().Add(-timerAgo).UTC()
	}

	resp, err := apiPost("/timers", body)
	if err != nil {
		return err
	}
	v, err := decodeTimer(resp)
	if err != nil {
		return err
	}

	fmt.Printf("Started timer: %s (%s)\n", v.Title, v.ElapsedText)
	return nil
}

func runTimerList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/timers")
	if err != nil {
		return err
	}

	var views []models.TimerView
	if err := json.Unmarshal(resp, &views); err != nil {
		return err
	}

	if len(views) == 0 {
		fmt.Println("No timers found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tSTATE\tELAPSED\tAVERAGE\tLONGEST\tRESETS")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncate(v.Title, 32), v.State, v.ElapsedText, v.AverageText, v.LongestText, len(v.History))
	}
	w.Flush()
	return nil
}

func runTimerShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(timerPath(args[0]))
	if err != nil {
		return err
	}
	v, err := decodeTimer(resp)
	if err != nil {
		return err
	}

	fmt.Printf("Title:    %s\n", v.Title)
	fmt.Printf("State:    %s\n", v.State)
	fmt.Printf("Started:  %s\n", v.StartTime.Local().Format(time.RFC1123))
	fmt.Printf("Elapsed:  %s\n", v.ElapsedText)
	fmt.Printf("Average:  %s\n", v.AverageText)
	fmt.Printf("Longest:  %s\n", v.LongestText)
	if v.Rules != "" {
		fmt.Printf("Rules:    %s\n", v.Rules)
	}
	fmt.Printf("Updated:  %s\n", v.LastUpdated.Local().Format(time.RFC3339))

	if len(v.History) == 0 {
		return nil
	}
	fmt.Println("\n--- HISTORY ---")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tENDED\tLASTED\tREASON")
	for i, h := range v.History {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			i, h.EndTime.Local().Format("2006-01-02 15:04"), timers.FormatElapsed(h.Elapsed), truncate(h.ResetReason, 48))
	}
	w.Flush()
	return nil
}

func runTimerReset(cmd *cobra.Command, args []string) error {
	return resetTimer(args[0], false)
}

func runTimerPause(cmd *cobra.Command, args []string) error {
	return resetTimer(args[0], true)
}

func resetTimer(title string, pause bool) error {
	body := map[string]interface{}{
		"reason": resetReason,
		"pause":  pause,
	}
	if resetAt != "" {
		at, err := time.Parse(time.RFC3339, resetAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		body["at"] = at
	}

	resp, err := apiPost(timerPath(title, "reset"), body)
	if err != nil {
		return err
	}
	v, err := decodeTimer(resp)
	if err != nil {
		return err
	}

	if n := len(v.History); n > 0 {
		fmt.Printf("Reset %s after %s\n", v.Title, timers.FormatElapsed(v.History[n-1].Elapsed))
	}
	if pause {
		fmt.Println("Timer is paused; resume it with: streaks timer resume", strconv.Quote(v.Title))
	}
	return nil
}

func runTimerResume(cmd *cobra.Command, args []string) error {
	if _, err := apiPost(timerPath(args[0], "resume"), nil); err != nil {
		return err
	}
	fmt.Printf("Resumed %s\n", args[0])
	return nil
}

func runTimerRename(cmd *cobra.Command, args []string) error {
	body := map[string]string{"title": args[1]}
	if _, err := apiPost(timerPath(args[0], "rename"), body); err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %s\n", args[0], args[1])
	return nil
}

func runTimerRules(cmd *cobra.Command, args []string) error {
	body := map[string]string{"rules": args[1]}
	if _, err := apiPut(timerPath(args[0], "rules"), body); err != nil {
		return err
	}
	fmt.Printf("Updated rules for %s\n", args[0])
	return nil
}

func runTimerReason(cmd *cobra.Command, args []string) error {
	if _, err := strconv.Atoi(args[1]); err != nil {
		return fmt.Errorf("index must be a number, got %q", args[1])
	}
	body := map[string]string{"reason": args[2]}
	if _, err := apiPut(timerPath(args[0], "history", args[1], "reason"), body); err != nil {
		return err
	}
	fmt.Printf("Updated reason #%s for %s\n", args[1], args[0])
	return nil
}

func runTimerRm(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete(timerPath(args[0])); err != nil {
		return err
	}
	fmt.Printf("Deleted %s on this device\n", args[0])
	return nil
}

// --- Helpers ---

func decodeTimer(data []byte) (*models.TimerView, error) {
	var v models.TimerView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
