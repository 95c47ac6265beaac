package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/types"
)

func ordersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64, PrimaryKey: true},
		{Name: "customer_id", Type: types.Int64},
		{Name: "amount", Type: types.Int64},
	}}
}

func customersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64, PrimaryKey: true},
		{Name: "name", Type: types.VarChar, Nullable: true},
	}}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	e, err := OpenWithWorkers(context.Background(), path, 2)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func seedOrdersAndCustomers(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	created, err := e.CreateTable(ctx, "customers", customersSchema())
	require.NoError(t, err)
	require.True(t, created)
	created, err = e.CreateTable(ctx, "orders", ordersSchema())
	require.NoError(t, err)
	require.True(t, created)

	customers, _ := e.catalog.Table("customers")
	for i, name := range []string{"alice", "bob"} {
		_, err := customers.InsertRecord([]types.Value{types.IntValue(int64(i)), types.StringValue(types.VarChar, name)})
		require.NoError(t, err)
	}
	orders, _ := e.catalog.Table("orders")
	rows := [][]types.Value{
		{types.IntValue(1), types.IntValue(0), types.IntValue(100)},
		{types.IntValue(2), types.IntValue(0), types.IntValue(50)},
		{types.IntValue(3), types.IntValue(1), types.IntValue(75)},
	}
	for _, r := range rows {
		_, err := orders.InsertRecord(r)
		require.NoError(t, err)
	}
}

func TestCreateTableIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	created, err := e.CreateTable(ctx, "orders", ordersSchema())
	require.NoError(t, err)
	require.True(t, created)

	created, err = e.CreateTable(ctx, "orders", ordersSchema())
	require.NoError(t, err)
	require.False(t, created)
}

func TestDropTableRemovesFromCatalogAndShadow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	_, err := e.CreateTable(ctx, "orders", ordersSchema())
	require.NoError(t, err)

	dropped, err := e.DropTable(ctx, "orders")
	require.NoError(t, err)
	require.True(t, dropped)

	dropped, err = e.DropTable(ctx, "orders")
	require.NoError(t, err)
	require.False(t, dropped)
}

func TestExecuteQuerySimpleSelect(t *testing.T) {
	e := newTestEngine(t)
	seedOrdersAndCustomers(t, e)

	out, err := e.ExecuteQuery(context.Background(), "SELECT id, amount FROM orders WHERE amount > 60")
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
}

func TestExecuteQueryJoinAndAggregate(t *testing.T) {
	e := newTestEngine(t)
	seedOrdersAndCustomers(t, e)

	out, err := e.ExecuteQuery(context.Background(), `SELECT o.customer_id, SUM(o.amount) AS total
		FROM orders o
		INNER JOIN customers c ON o.customer_id = c.id
		GROUP BY o.customer_id
		ORDER BY total DESC`)
	require.NoError(t, err)
	require.Len(t, out.Rows, 2)
	require.Equal(t, int64(150), out.Rows[0][1].Int) // customer 0: 100+50
	require.Equal(t, int64(75), out.Rows[1][1].Int)
}

func TestExecuteQueryOrdersNonAggregateResult(t *testing.T) {
	e := newTestEngine(t)
	seedOrdersAndCustomers(t, e)

	out, err := e.ExecuteQuery(context.Background(), "SELECT amount FROM orders ORDER BY amount DESC")
	require.NoError(t, err)
	require.Len(t, out.Rows, 3)
	require.Equal(t, int64(100), out.Rows[0][0].Int)
	require.Equal(t, int64(75), out.Rows[1][0].Int)
	require.Equal(t, int64(50), out.Rows[2][0].Int)
}

func TestGetPlanDescribesResolvedQuery(t *testing.T) {
	e := newTestEngine(t)
	seedOrdersAndCustomers(t, e)

	plan, err := e.GetPlan(context.Background(), "SELECT id FROM orders WHERE amount > 10")
	require.NoError(t, err)
	require.Contains(t, plan, "orders")
}
