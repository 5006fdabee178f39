package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "forget [pattern]",
		Short: "Archive or delete memories containing a pattern",
		Long: "Forget every memory whose content contains the pattern (case-insensitive).\n" +
			"By default important memories are archived and the rest deleted; see --mode.",
		Args: cobra.MinimumNArgs(1),
		Run:  runForget,
	}

	cmd.Flags().String("mode", "", "Policy: archive_important, delete or archive (default from config)")
	cmd.Flags().Float64("archive-threshold", 0, "Importance at or above which archive_important archives")
	cmd.Flags().Bool("hard", false, "Permanently delete every match, archived ones included")

	RootCmd.AddCommand(cmd)
}

func runForget(cmd *cobra.Command, args []string) {
	mode, _ := cmd.Flags().GetString("mode")
	hard, _ := cmd.Flags().GetBool("hard")

	mgr, done := openManager(cmd.Context())
	defer done()

	params := memory.ForgetParams{Pattern: strings.Join(args, " "), Hard: hard}
	if mode != "" || cmd.Flags().Changed("archive-threshold") {
		policy := mgr.ForgetPolicy()
		if mode != "" {
			policy.Mode = mode
		}
		if cmd.Flags().Changed("archive-threshold") {
			policy.ArchiveThreshold, _ = cmd.Flags().GetFloat64("archive-threshold")
		}
		params.Policy = &policy
	}

	res, err := mgr.Forget(cmd.Context(), params)
	if err != nil {
		exitErr("forget", err)
	}

	if textFormat() {
		fmt.Printf("found %d, deleted %d, archived %d\n", res.TotalFound, res.Deleted, res.Archived)
		return
	}
	printJSON(res)
}
