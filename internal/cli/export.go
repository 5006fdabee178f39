package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory, archived ones included, as a JSON array. Filter by category with --category.",
		Run:   runExport,
	}

	cmd.Flags().String("category", "", "Filter by category")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")

	mgr, done := openManager(cmd.Context())
	defer done()

	mems, err := mgr.Export(cmd.Context(), category)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(mems)
}
