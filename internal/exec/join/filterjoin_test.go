package join

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

func dimSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64, Unique: true, PrimaryKey: true},
		{Name: "label", Type: types.VarChar},
	}}
}

func factSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "product_id", Type: types.Int64},
		{Name: "store_id", Type: types.Int64},
	}}
}

func buildStarSchema(t *testing.T) (*table.Table, *table.Table, *table.Table) {
	t.Helper()
	products := table.New("products", dimSchema(), 1<<20)
	stores := table.New("stores", dimSchema(), 1<<20)
	for i := int64(0); i < 4; i++ {
		_, err := products.InsertRecord([]types.Value{types.IntValue(i), types.StringValue(types.VarChar, "p")})
		require.NoError(t, err)
		_, err = stores.InsertRecord([]types.Value{types.IntValue(i), types.StringValue(types.VarChar, "s")})
		require.NoError(t, err)
	}

	sales := table.New("sales", factSchema(), 1<<20)
	for i := int64(0); i < 4; i++ {
		_, err := sales.InsertRecord([]types.Value{types.IntValue(i), types.IntValue(i), types.IntValue(i)})
		require.NoError(t, err)
	}
	// One sale row referencing a product that doesn't exist: must not survive.
	_, err := sales.InsertRecord([]types.Value{types.IntValue(99), types.IntValue(999), types.IntValue(0)})
	require.NoError(t, err)

	return sales, products, stores
}

func TestFilterJoinMatchesAllDimensions(t *testing.T) {
	sales, products, stores := buildStarSchema(t)
	sched := newSched()

	input := operator.NewOperatorResult(
		operator.NewLazyTable(sales),
		operator.NewLazyTable(products),
		operator.NewLazyTable(stores),
	)
	preds := []operator.JoinPredicate{
		{Left: operator.ColumnReference{Table: "sales", Column: "product_id"}, Right: operator.ColumnReference{Table: "products", Column: "id"}},
		{Left: operator.ColumnReference{Table: "sales", Column: "store_id"}, Right: operator.ColumnReference{Table: "stores", Column: "id"}},
	}

	out, err := FilterJoin(context.Background(), sched, "q1", input, "sales", preds)
	require.NoError(t, err)

	require.Len(t, out.Find("sales").Indices, 4)
	require.Len(t, out.Find("products").Indices, 4)
	require.Len(t, out.Find("stores").Indices, 4)

	for i, id := range out.Find("sales").Indices {
		require.EqualValues(t, i, id) // sales rows 0..3 survive in order
	}
}

func TestFilterJoinRejectsPredicateNotOnFact(t *testing.T) {
	sales, products, stores := buildStarSchema(t)
	sched := newSched()

	input := operator.NewOperatorResult(
		operator.NewLazyTable(sales),
		operator.NewLazyTable(products),
		operator.NewLazyTable(stores),
	)
	preds := []operator.JoinPredicate{
		{Left: operator.ColumnReference{Table: "products", Column: "id"}, Right: operator.ColumnReference{Table: "sales", Column: "product_id"}},
	}

	_, err := FilterJoin(context.Background(), sched, "q1", input, "sales", preds)
	require.Error(t, err)
}
