package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory",
		Long: "Store a memory. Content can be a positional arg or piped via stdin.\n" +
			"Category and importance are inferred from the content unless given.",
		Run: runRemember,
	}

	cmd.Flags().String("category", "", "Category: personal, work, contact, schedule, preference, goal, general")
	cmd.Flags().Float64P("importance", "i", 0, "Importance in [0,1]; values outside are clamped")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Bool("wait", false, "Wait until the memory is searchable semantically")
	cmd.Flags().Duration("wait-timeout", 30*time.Second, "Upper bound for --wait")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	wait, _ := cmd.Flags().GetBool("wait")
	waitTimeout, _ := cmd.Flags().GetDuration("wait-timeout")

	params := memory.RememberParams{
		Content:  readContent(args),
		Category: category,
		Tags:     splitTags(tagsStr),
	}
	if cmd.Flags().Changed("importance") {
		v, _ := cmd.Flags().GetFloat64("importance")
		params.Importance = &v
	}

	mgr, done := openManager(cmd.Context())
	defer done()

	mem, err := mgr.Remember(cmd.Context(), params)
	if err != nil {
		exitErr("remember", err)
	}

	if wait {
		ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
		state, err := mgr.WaitSynced(ctx, mem.ID)
		cancel()
		if err != nil {
			exitErr("wait for sync", err)
		}
		mem.SyncState = state
	}

	if textFormat() {
		fmt.Println(mem.ID)
		return
	}
	printJSON(mem)
}
