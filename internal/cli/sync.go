package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Retry failed and pending vector syncs",
		Run:   runSync,
	}
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "How long to wait for the queue to drain")

	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop the vector index and re-embed every memory",
		Run:   runRebuild,
	}
	rebuild.Flags().Duration("timeout", 10*time.Minute, "How long to wait for the rebuild to finish")

	RootCmd.AddCommand(syncCmd, rebuild)
}

func runSync(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	mgr, done := openManager(cmd.Context())
	defer done()

	res, err := mgr.Resync(cmd.Context())
	if err != nil {
		exitErr("sync", err)
	}
	waitDrained(cmd.Context(), mgr.WaitIdle, timeout)

	stats, err := mgr.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	writeReport(os.Stdout, textFormat(),
		field{"reset", res.Reset},
		field{"queued", res.Queued},
		field{"synced", stats.SyncedRecords},
		field{"pending", stats.PendingSync},
		field{"failed", stats.FailedSync},
	)
}

func runRebuild(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	mgr, done := openManager(cmd.Context())
	defer done()

	n, err := mgr.Rebuild(cmd.Context())
	if err != nil {
		exitErr("rebuild", err)
	}
	waitDrained(cmd.Context(), mgr.WaitIdle, timeout)

	stats, err := mgr.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	writeReport(os.Stdout, textFormat(),
		field{"records", n},
		field{"vectors", stats.IndexedVectors},
		field{"failed", stats.FailedSync},
	)
}

func waitDrained(ctx context.Context, wait func(context.Context) error, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := wait(ctx); err != nil {
		exitErr("wait for sync", err)
	}
}
