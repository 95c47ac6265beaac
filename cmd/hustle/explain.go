package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var explainCmd = &cobra.Command{
	Use:   "explain <sql>",
	Short: "Print how a query would execute",
	Args:  cobra.ExactArgs(1),
	RunE:  runExplain,
}

func runExplain(cmd *cobra.Command, args []string) error {
	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	plan, err := e.GetPlan(rootCtx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(plan)
	return nil
}
