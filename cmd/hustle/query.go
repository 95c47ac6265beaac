package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hustle-db/hustle/internal/exec/project"
	"github.com/hustle-db/hustle/internal/types"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SELECT query and print its result table",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.ExecuteQuery(rootCtx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return printResultJSON(result)
	}
	return printResultTable(result)
}

func printResultJSON(rt *project.ResultTable) error {
	names := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		names[i] = c.Name
	}

	rows := make([]map[string]any, len(rt.Rows))
	for i, row := range rt.Rows {
		m := make(map[string]any, len(names))
		for j, v := range row {
			m[names[j]] = jsonValue(v)
		}
		rows[i] = m
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func jsonValue(v types.Value) any {
	if v.Null {
		return nil
	}
	switch v.Type {
	case types.Int64:
		return v.Int
	case types.Float64:
		return v.Flt
	default:
		return v.Str
	}
}

func printResultTable(rt *project.ResultTable) error {
	if len(rt.Columns) == 0 {
		fmt.Println(mutedStyle.Render("(no columns)"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	names := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		names[i] = strings.ToUpper(c.Name)
	}
	fmt.Fprintln(w, boldStyle.Render(strings.Join(names, "\t")))

	for _, row := range rt.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = renderValue(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println(mutedStyle.Render(fmt.Sprintf("(%d rows)", rt.RowCount())))
	return nil
}

func renderValue(v types.Value) string {
	if v.Null {
		return mutedStyle.Render("NULL")
	}
	switch v.Type {
	case types.Int64:
		return fmt.Sprintf("%d", v.Int)
	case types.Float64:
		return fmt.Sprintf("%g", v.Flt)
	default:
		return v.Str
	}
}
