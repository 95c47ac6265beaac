package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dropTableCmd = &cobra.Command{
	Use:   "drop-table <name>",
	Short: "Drop a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runDropTable,
}

func runDropTable(cmd *cobra.Command, args []string) error {
	name := args[0]

	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	dropped, err := e.DropTable(rootCtx, name)
	if err != nil {
		return err
	}
	if dropped {
		fmt.Println(passStyle.Render(fmt.Sprintf("dropped table %q", name)))
	} else {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("table %q does not exist", name)))
	}
	return nil
}
