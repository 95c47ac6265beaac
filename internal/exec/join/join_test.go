package join

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

func ordersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64},
		{Name: "customer_id", Type: types.Int64},
	}}
}

func customersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.Int64, Unique: true, PrimaryKey: true},
		{Name: "name", Type: types.VarChar},
	}}
}

func newSched() *scheduler.Scheduler {
	s := scheduler.New(4, nil)
	s.Start(context.Background())
	return s
}

func buildOrdersAndCustomers(t *testing.T) (*table.Table, *table.Table) {
	t.Helper()
	customers := table.New("customers", customersSchema(), 1<<20)
	for i := int64(0); i < 5; i++ {
		_, err := customers.InsertRecord([]types.Value{types.IntValue(i), types.StringValue(types.VarChar, "c")})
		require.NoError(t, err)
	}

	orders := table.New("orders", ordersSchema(), 1<<20)
	// Two orders per customer, plus one order for a nonexistent customer.
	for i := int64(0); i < 5; i++ {
		_, err := orders.InsertRecord([]types.Value{types.IntValue(i * 2), types.IntValue(i)})
		require.NoError(t, err)
		_, err = orders.InsertRecord([]types.Value{types.IntValue(i*2 + 1), types.IntValue(i)})
		require.NoError(t, err)
	}
	_, err := orders.InsertRecord([]types.Value{types.IntValue(99), types.IntValue(999)})
	require.NoError(t, err)

	return orders, customers
}

func TestJoinInnerMatchesEveryCustomerOrder(t *testing.T) {
	orders, customers := buildOrdersAndCustomers(t)
	sched := newSched()

	input := operator.NewOperatorResult(
		operator.NewLazyTable(orders),
		operator.NewLazyTable(customers),
	)
	pred := operator.JoinPredicate{
		Left:  operator.ColumnReference{Table: "orders", Column: "customer_id"},
		Right: operator.ColumnReference{Table: "customers", Column: "id"},
	}

	out, err := Join(context.Background(), sched, "q1", input, pred, operator.JoinInner)
	require.NoError(t, err)

	ordersLT := out.Find("orders")
	customersLT := out.Find("customers")
	require.Len(t, ordersLT.Indices, 10) // 5 customers * 2 orders each; the orphan order has no match
	require.Len(t, customersLT.Indices, 10)
}

func TestJoinLeftPreservesUnmatchedRows(t *testing.T) {
	orders, customers := buildOrdersAndCustomers(t)
	sched := newSched()

	input := operator.NewOperatorResult(
		operator.NewLazyTable(orders),
		operator.NewLazyTable(customers),
	)
	pred := operator.JoinPredicate{
		Left:  operator.ColumnReference{Table: "orders", Column: "customer_id"},
		Right: operator.ColumnReference{Table: "customers", Column: "id"},
	}

	out, err := Join(context.Background(), sched, "q1", input, pred, operator.JoinLeft)
	require.NoError(t, err)

	ordersLT := out.Find("orders")
	require.Len(t, ordersLT.Indices, 11) // all 10 matched + 1 unmatched orphan

	sawNullRight := false
	customersLT := out.Find("customers")
	for _, id := range customersLT.Indices {
		if id == operator.NullRowID {
			sawNullRight = true
		}
	}
	require.True(t, sawNullRight)
}

func TestJoinEmptyLeftProducesEmptyResult(t *testing.T) {
	_, customers := buildOrdersAndCustomers(t)
	sched := newSched()

	emptyOrders := table.New("orders", ordersSchema(), 1<<20)
	input := operator.NewOperatorResult(
		operator.NewLazyTable(emptyOrders),
		operator.NewLazyTable(customers),
	)
	pred := operator.JoinPredicate{
		Left:  operator.ColumnReference{Table: "orders", Column: "customer_id"},
		Right: operator.ColumnReference{Table: "customers", Column: "id"},
	}

	out, err := Join(context.Background(), sched, "q1", input, pred, operator.JoinInner)
	require.NoError(t, err)
	require.Empty(t, out.Find("orders").Indices)
}

func TestJoinTypeMismatchIsPlanError(t *testing.T) {
	orders, customers := buildOrdersAndCustomers(t)
	sched := newSched()

	input := operator.NewOperatorResult(
		operator.NewLazyTable(orders),
		operator.NewLazyTable(customers),
	)
	pred := operator.JoinPredicate{
		Left:  operator.ColumnReference{Table: "orders", Column: "customer_id"},
		Right: operator.ColumnReference{Table: "customers", Column: "name"},
	}

	_, err := Join(context.Background(), sched, "q1", input, pred, operator.JoinInner)
	require.Error(t, err)
}
