package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/types"
)

var createTableColumns []string

var createTableCmd = &cobra.Command{
	Use:   "create-table <name>",
	Short: "Create a table from a column spec",
	Long: `Create a table with the given name and columns.

Each --column flag describes one column as name:TYPE[:width][:flags], where
TYPE is one of INT64, CHAR, VARCHAR; width is the byte width for CHAR
columns; and flags is a comma-separated list drawn from pk, nullable,
unique. Examples:

  hustle create-table orders --column id:INT64:pk --column customer_id:INT64
  hustle create-table customers --column id:INT64:pk --column name:VARCHAR:nullable
  hustle create-table codes --column code:CHAR:4:unique`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateTable,
}

func init() {
	createTableCmd.Flags().StringArrayVar(&createTableColumns, "column", nil, "column spec name:TYPE[:width][:flags] (repeatable)")
}

func runCreateTable(cmd *cobra.Command, args []string) error {
	name := args[0]
	if len(createTableColumns) == 0 {
		return herr.New(herr.KindPlanError, "create-table: at least one --column is required")
	}

	schema := types.Schema{}
	for _, spec := range createTableColumns {
		col, err := parseColumnSpec(spec)
		if err != nil {
			return err
		}
		schema.Columns = append(schema.Columns, col)
	}

	e, err := openEngine(rootCtx)
	if err != nil {
		return err
	}
	defer e.Close()

	created, err := e.CreateTable(rootCtx, name, schema)
	if err != nil {
		return err
	}
	if created {
		fmt.Println(passStyle.Render(fmt.Sprintf("created table %q", name)))
	} else {
		fmt.Println(mutedStyle.Render(fmt.Sprintf("table %q already exists", name)))
	}
	return nil
}

// parseColumnSpec parses one --column flag value, name:TYPE[:width][:flags].
func parseColumnSpec(spec string) (types.Column, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return types.Column{}, herr.New(herr.KindPlanError, "create-table: invalid column spec %q, expected name:TYPE[:width][:flags]", spec)
	}
	col := types.Column{Name: parts[0]}

	ct, err := types.ParseColumnType(strings.ToUpper(parts[1]))
	if err != nil || ct == types.Float64 {
		return types.Column{}, herr.New(herr.KindPlanError, "create-table: unsupported column type in %q", spec)
	}
	col.Type = ct

	rest := parts[2:]
	if ct == types.FixedChar {
		if len(rest) == 0 {
			return types.Column{}, herr.New(herr.KindPlanError, "create-table: CHAR column %q requires a width", col.Name)
		}
		width, err := strconv.Atoi(rest[0])
		if err != nil || width <= 0 {
			return types.Column{}, herr.New(herr.KindPlanError, "create-table: invalid width in %q", spec)
		}
		col.Width = width
		rest = rest[1:]
	}

	if len(rest) > 0 {
		for _, flag := range strings.Split(rest[0], ",") {
			switch strings.ToLower(strings.TrimSpace(flag)) {
			case "pk":
				col.PrimaryKey = true
			case "nullable":
				col.Nullable = true
			case "unique":
				col.Unique = true
			case "":
			default:
				return types.Column{}, herr.New(herr.KindPlanError, "create-table: unknown column flag %q in %q", flag, spec)
			}
		}
	}

	return col, nil
}
