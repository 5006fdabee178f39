package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/memory"
)

func init() {
	list := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Run:   runList,
	}
	list.Flags().String("category", "", "Filter by category")
	list.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, all must match)")
	list.Flags().Bool("archived", false, "Include archived memories")
	list.Flags().IntP("limit", "l", 20, "Max results")

	recent := &cobra.Command{
		Use:   "recent",
		Short: "List memories created in the last few days",
		Run:   runRecent,
	}
	recent.Flags().Int("days", 7, "Look back this many days")
	recent.Flags().IntP("limit", "l", 10, "Max results")

	important := &cobra.Command{
		Use:   "important",
		Short: "List the most important memories",
		Run:   runImportant,
	}
	important.Flags().Float64("min", 0.7, "Minimum importance")
	important.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(list, recent, important)
}

func runList(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	tagsStr, _ := cmd.Flags().GetString("tags")
	archived, _ := cmd.Flags().GetBool("archived")
	limit, _ := cmd.Flags().GetInt("limit")

	mgr, done := openManager(cmd.Context())
	defer done()

	mems, err := mgr.List(cmd.Context(), memory.ListParams{
		Category:        category,
		Tags:            splitTags(tagsStr),
		IncludeArchived: archived,
		Limit:           limit,
	})
	if err != nil {
		exitErr("list", err)
	}
	printMemories(mems)
}

func runRecent(cmd *cobra.Command, args []string) {
	days, _ := cmd.Flags().GetInt("days")
	limit, _ := cmd.Flags().GetInt("limit")

	mgr, done := openManager(cmd.Context())
	defer done()

	mems, err := mgr.Recent(cmd.Context(), days, limit)
	if err != nil {
		exitErr("recent", err)
	}
	printMemories(mems)
}

func runImportant(cmd *cobra.Command, args []string) {
	minImportance, _ := cmd.Flags().GetFloat64("min")
	limit, _ := cmd.Flags().GetInt("limit")

	mgr, done := openManager(cmd.Context())
	defer done()

	mems, err := mgr.Important(cmd.Context(), minImportance, limit)
	if err != nil {
		exitErr("important", err)
	}
	printMemories(mems)
}
