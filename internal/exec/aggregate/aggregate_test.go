package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

func newSched() *scheduler.Scheduler {
	s := scheduler.New(4, nil)
	s.Start(context.Background())
	return s
}

func salesSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "bucket", Type: types.Int64},
		{Name: "amount", Type: types.Int64},
		{Name: "weight", Type: types.Int64, Nullable: true},
	}}
}

func buildSales(t *testing.T) *table.Table {
	t.Helper()
	sales := table.New("sales", salesSchema(), 1<<20)
	// 1000 rows, bucketed mod 7, matching spec §8 scenario (5): sums of
	// arithmetic progressions mod 7 recovered by grouping.
	for i := int64(0); i < 1000; i++ {
		_, err := sales.InsertRecord([]types.Value{
			types.IntValue(i),
			types.IntValue(i % 7),
			types.IntValue(i),
			types.IntValue(2),
		})
		require.NoError(t, err)
	}
	return sales
}

func expectedSumMod7(n int64) map[int64]int64 {
	sums := make(map[int64]int64)
	for i := int64(0); i < n; i++ {
		sums[i%7] += i
	}
	return sums
}

func TestHashAggregateSumGroupByMod7(t *testing.T) {
	sales := buildSales(t)
	sched := newSched()

	input := operator.NewOperatorResult(operator.NewLazyTable(sales))
	groupBy := []operator.ColumnReference{{Table: "sales", Column: "bucket"}}
	aggs := []operator.AggregateRef{
		{Kernel: operator.AggSum, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "sales", Column: "amount"}), Alias: "total"},
	}

	res, err := HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 7)

	want := expectedSumMod7(1000)
	for _, row := range res.Rows {
		bucket := row.GroupValues[0].Int
		require.EqualValues(t, want[bucket], row.AggValues[0].Int)
	}
}

func TestHashAggregateCountAndMean(t *testing.T) {
	sales := buildSales(t)
	sched := newSched()

	input := operator.NewOperatorResult(operator.NewLazyTable(sales))
	groupBy := []operator.ColumnReference{{Table: "sales", Column: "bucket"}}
	aggs := []operator.AggregateRef{
		{Kernel: operator.AggCount, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "sales", Column: "amount"}), Alias: "n"},
		{Kernel: operator.AggMean, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "sales", Column: "amount"}), Alias: "avg"},
	}

	res, err := HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, nil)
	require.NoError(t, err)

	want := expectedSumMod7(1000)
	counts := make(map[int64]int64)
	for i := int64(0); i < 1000; i++ {
		counts[i%7]++
	}
	for _, row := range res.Rows {
		bucket := row.GroupValues[0].Int
		require.EqualValues(t, counts[bucket], row.AggValues[0].Int)
		require.False(t, row.AggValues[1].Null)
		wantMean := float64(want[bucket]) / float64(counts[bucket])
		require.InDelta(t, wantMean, row.AggValues[1].Flt, 1e-9)
	}
}

func TestHashAggregateOrderByDescending(t *testing.T) {
	sales := buildSales(t)
	sched := newSched()

	input := operator.NewOperatorResult(operator.NewLazyTable(sales))
	groupBy := []operator.ColumnReference{{Table: "sales", Column: "bucket"}}
	aggs := []operator.AggregateRef{
		{Kernel: operator.AggSum, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "sales", Column: "amount"}), Alias: "total"},
	}
	orderBy := []operator.OrderByRef{{Column: operator.ColumnReference{Table: "sales", Column: "bucket"}, Desc: true}}

	res, err := HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, orderBy)
	require.NoError(t, err)
	require.Len(t, res.Rows, 7)
	for i := 1; i < len(res.Rows); i++ {
		require.Greater(t, res.Rows[i-1].GroupValues[0].Int, res.Rows[i].GroupValues[0].Int)
	}
}

func TestHashAggregateDivisionByZeroProducesNullNotError(t *testing.T) {
	schema := types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "numerator", Type: types.Int64},
		{Name: "denominator", Type: types.Int64},
	}}
	tbl := table.New("ratios", schema, 1<<20)
	_, err := tbl.InsertRecord([]types.Value{types.IntValue(0), types.IntValue(10), types.IntValue(2)})
	require.NoError(t, err)
	_, err = tbl.InsertRecord([]types.Value{types.IntValue(1), types.IntValue(10), types.IntValue(0)})
	require.NoError(t, err)

	sched := newSched()
	input := operator.NewOperatorResult(operator.NewLazyTable(tbl))
	groupBy := []operator.ColumnReference{{Table: "ratios", Column: "id"}}
	aggs := []operator.AggregateRef{
		{
			Kernel: operator.AggSum,
			Expr: operator.BinaryExpr(operator.ArithDiv,
				operator.ColumnReference{Table: "ratios", Column: "numerator"},
				operator.ColumnReference{Table: "ratios", Column: "denominator"}),
			Alias: "ratio",
		},
	}

	res, err := HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	for _, row := range res.Rows {
		if row.GroupValues[0].Int == 0 {
			require.False(t, row.AggValues[0].Null)
			require.InDelta(t, 5.0, row.AggValues[0].Flt, 1e-9)
		} else {
			require.True(t, row.AggValues[0].Null)
		}
	}
}

func TestHashAggregateNullGroupKeySortsLast(t *testing.T) {
	schema := types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "category", Type: types.VarChar, Nullable: true},
	}}
	tbl := table.New("events", schema, 1<<20)
	_, err := tbl.InsertRecord([]types.Value{types.IntValue(0), types.StringValue(types.VarChar, "b")})
	require.NoError(t, err)
	_, err = tbl.InsertRecord([]types.Value{types.IntValue(1), types.NullValue(types.VarChar)})
	require.NoError(t, err)
	_, err = tbl.InsertRecord([]types.Value{types.IntValue(2), types.StringValue(types.VarChar, "a")})
	require.NoError(t, err)

	sched := newSched()
	input := operator.NewOperatorResult(operator.NewLazyTable(tbl))
	groupBy := []operator.ColumnReference{{Table: "events", Column: "category"}}
	aggs := []operator.AggregateRef{
		{Kernel: operator.AggCount, Expr: operator.ColumnExpr(operator.ColumnReference{Table: "events", Column: "id"}), Alias: "n"},
	}
	orderBy := []operator.OrderByRef{{Column: operator.ColumnReference{Table: "events", Column: "category"}}}

	res, err := HashAggregate(context.Background(), sched, "q1", input, groupBy, aggs, orderBy)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	require.Equal(t, "a", res.Rows[0].GroupValues[0].Str)
	require.Equal(t, "b", res.Rows[1].GroupValues[0].Str)
	require.True(t, res.Rows[2].GroupValues[0].Null)
}
