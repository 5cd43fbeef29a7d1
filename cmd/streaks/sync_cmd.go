package main

import (
	"encoding/json"
	"fmt"

	"github.com/fentz26/streaks/internal/replica"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect peer sync",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show synchronizer state and counters",
	RunE:  runSyncStatus,
}

var syncJSON bool

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	syncStatusCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the raw JSON status")
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/sync/status")
	if err != nil {
		return err
	}
	if syncJSON {
		fmt.Println(string(resp))
		return nil
	}

	var st replica.Status
	if err := json.Unmarshal(resp, &st); err != nil {
		return err
	}

	reach := "no"
	if st.Reachable {
		reach = "yes"
	}
	fmt.Printf("Replica:         %s\n", st.ReplicaID)
	fmt.Printf("State:           %s\n", st.State)
	fmt.Printf("Peer reachable:  %s\n", reach)
	fmt.Printf("Pending push:    %t\n", st.Pending)
	fmt.Printf("Guaranteed sent: %d\n", st.GuaranteedSent)
	fmt.Printf("Instant sent:    %d (failed %d)\n", st.InstantSent, st.InstantFailed)
	fmt.Printf("Merges:          %d\n", st.Merges)
	fmt.Printf("Decode drops:    %d\n", st.DecodeDrops)
	if !st.LastInbound.IsZero() {
		fmt.Printf("Last inbound:    %s\n", st.LastInbound.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
