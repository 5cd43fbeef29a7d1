package main

import (
	"fmt"
	"os"

	"github.com/fentz26/streaks/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "streaks",
	Short: "streaks - habit streak timers synced between two devices",
	Long: `streaks keeps named streak timers and syncs them with one paired device.
Each device runs "streaks daemon"; the other commands talk to the local daemon.`,
	SilenceUsage: true,
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
