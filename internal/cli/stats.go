package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database and sync statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	mgr, done := openManager(cmd.Context())
	defer done()

	stats, err := mgr.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if !textFormat() {
		printJSON(stats)
		return
	}
	fmt.Printf("db:        %s (%d bytes)\n", stats.DBPath, stats.DBSizeBytes)
	fmt.Printf("records:   %d total, %d active, %d archived\n", stats.TotalRecords, stats.ActiveRecords, stats.ArchivedRecords)
	for _, c := range model.Categories() {
		if n := stats.ByCategory[c]; n > 0 {
			fmt.Printf("  %-10s %d\n", c, n)
		}
	}
	fmt.Printf("sync:      %d synced, %d pending, %d failed\n", stats.SyncedRecords, stats.PendingSync, stats.FailedSync)
	fmt.Printf("semantic:  enabled=%t vectors=%d\n", stats.SemanticEnabled, stats.IndexedVectors)
}
