package project

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/exec/aggregate"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

func customersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64, Unique: true, PrimaryKey: true},
		{Name: "name", Type: types.VarChar},
	}}
}

func buildCustomers(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New("customers", customersSchema(), 1<<20)
	for i, name := range []string{"alice", "bob", "carol"} {
		_, err := tbl.InsertRecord([]types.Value{types.IntValue(int64(i)), types.StringValue(types.VarChar, name)})
		require.NoError(t, err)
	}
	return tbl
}

func TestProjectRenamesColumnsViaAlias(t *testing.T) {
	tbl := buildCustomers(t)
	result := operator.NewOperatorResult(operator.NewLazyTable(tbl))

	refs := []Ref{
		{Column: operator.ColumnReference{Table: "customers", Column: "id"}, Alias: "customer_id"},
		{Column: operator.ColumnReference{Table: "customers", Column: "name"}},
	}

	out, err := Project(result, refs)
	require.NoError(t, err)
	require.Equal(t, "customer_id", out.Columns[0].Name)
	require.Equal(t, "name", out.Columns[1].Name)
	require.Equal(t, 3, out.RowCount())
	require.Equal(t, "alice", out.Rows[0][1].Str)
}

func TestProjectUnknownColumnIsPlanError(t *testing.T) {
	tbl := buildCustomers(t)
	result := operator.NewOperatorResult(operator.NewLazyTable(tbl))

	refs := []Ref{{Column: operator.ColumnReference{Table: "customers", Column: "missing"}}}
	_, err := Project(result, refs)
	require.Error(t, err)
}

func TestProjectReadsNullForUnmatchedLeftJoinRow(t *testing.T) {
	tbl := buildCustomers(t)
	lt := operator.NewLazyTable(tbl).WithIndices([]table.RowID{0, operator.NullRowID})
	result := operator.NewOperatorResult(lt)

	refs := []Ref{{Column: operator.ColumnReference{Table: "customers", Column: "name"}}}
	out, err := Project(result, refs)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	require.Equal(t, "alice", out.Rows[0][0].Str)
	require.True(t, out.Rows[1][0].Null)
}

func TestProjectAggregateMaterializesGroupAndAggColumns(t *testing.T) {
	schema := types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "bucket", Type: types.Int64},
		{Name: "amount", Type: types.Int64},
	}}
	tbl := table.New("sales", schema, 1<<20)
	for i := int64(0); i < 10; i++ {
		_, err := tbl.InsertRecord([]types.Value{types.IntValue(i), types.IntValue(i % 2), types.IntValue(i)})
		require.NoError(t, err)
	}

	sched := scheduler.New(4, nil)
	sched.Start(context.Background())
	input := operator.NewOperatorResult(operator.NewLazyTable(tbl))
	groupBy := []operator.ColumnReference{{Table: "sales", Column: "bucket"}}
	aggs := []operator.AggregateRef{
		{Kernel: operator.AggSum, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "sales", Column: "amount"}), Alias: "total"},
	}
	agg, err := aggregate.HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, nil)
	require.NoError(t, err)

	bucket := groupBy[0]
	refs := []AggRef{
		{GroupColumn: &bucket, Alias: "bucket"},
		{AggAlias: "total"},
	}
	out, err := ProjectAggregate(agg, refs)
	require.NoError(t, err)
	require.Equal(t, "bucket", out.Columns[0].Name)
	require.Equal(t, "total", out.Columns[1].Name)
	require.Len(t, out.Rows, 2)
}
