package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/layered-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Search memories",
		Long: "Rank memories by blending keyword matches with semantic similarity.\n" +
			"Query types: keyword_only, semantic_only, factual, conceptual, complex, ambiguous.",
		Args: cobra.MinimumNArgs(1),
		Run:  runRecall,
	}

	cmd.Flags().IntP("top-k", "k", 5, "Max results")
	cmd.Flags().String("category", "", "Filter by category")
	cmd.Flags().StringP("type", "q", "complex", "Query type")
	cmd.Flags().Float64("threshold", memory.DefaultThreshold, "Minimum semantic similarity")
	cmd.Flags().Bool("archived", false, "Include archived memories")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	topK, _ := cmd.Flags().GetInt("top-k")
	category, _ := cmd.Flags().GetString("category")
	queryType, _ := cmd.Flags().GetString("type")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	archived, _ := cmd.Flags().GetBool("archived")

	mgr, done := openManager(cmd.Context())
	defer done()

	res, err := mgr.Recall(cmd.Context(), memory.RecallParams{
		Query:           strings.Join(args, " "),
		TopK:            topK,
		Category:        category,
		QueryType:       queryType,
		Threshold:       &threshold,
		IncludeArchived: archived,
	})
	if err != nil {
		exitErr("recall", err)
	}

	if !textFormat() {
		printJSON(res)
		return
	}
	if res.Degraded {
		fmt.Printf("# degraded: %s\n", res.DegradedReason)
	}
	for _, r := range res.Records {
		fmt.Printf("%.4f  %s\n", r.Score, formatMemory(r.Memory))
	}
}
