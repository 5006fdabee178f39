package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	mgr, done := openManager(cmd.Context())
	defer done()

	mem, err := mgr.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	if textFormat() {
		fmt.Println(formatMemory(*mem))
		return
	}
	printJSON(mem)
}
