package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import a table's block file snapshot",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <table> <path>",
	Short: "Write a table's contents to a block file",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotExport,
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <table> <path>",
	Short: "Load a block file's rows into an existing table",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotImport,
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}

func runSnapshotExport(cmd *cobra.Command, args []string) error {
	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.ExportSnapshot(args[0], args[1]); err != nil {
		return err
	}
	fmt.Println(passStyle.Render(fmt.Sprintf("exported %q to %s", args[0], args[1])))
	return nil
}

func runSnapshotImport(cmd *cobra.Command, args []string) error {
	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.ImportSnapshot(args[0], args[1]); err != nil {
		return err
	}
	fmt.Println(passStyle.Render(fmt.Sprintf("imported %s into %q", args[1], args[0])))
	return nil
}
