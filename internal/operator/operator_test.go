package operator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

func TestPredicateTreeTables(t *testing.T) {
	tree := And(
		Leaf(ColumnReference{Table: "t1", Column: "a"}, OpEQ, types.IntValue(1)),
		Leaf(ColumnReference{Table: "t2", Column: "b"}, OpGT, types.IntValue(2)),
	)
	require.Equal(t, []string{"t1", "t2"}, tree.Tables())
}

func TestComparatorNegate(t *testing.T) {
	neg, ok := OpEQ.Negate()
	require.True(t, ok)
	require.Equal(t, OpNE, neg)

	_, ok = OpBetween.Negate()
	require.False(t, ok)
}

func TestHashTableUniqueKeepsFirst(t *testing.T) {
	ht := NewHashTable(true)
	ht.Insert(1, PackRowRef(0, 0))
	ht.Insert(1, PackRowRef(0, 1))
	require.Len(t, ht.Lookup(1), 1)
	require.EqualValues(t, 0, ht.Lookup(1)[0].RowInChunk())
}

func TestHashTableChainsDuplicates(t *testing.T) {
	ht := NewHashTable(false)
	ht.Insert(1, PackRowRef(0, 0))
	ht.Insert(1, PackRowRef(0, 1))
	require.Len(t, ht.Lookup(1), 2)
}

func TestOperatorResultFirstErrorWins(t *testing.T) {
	r := NewOperatorResult()
	r.SetError(nil)
	require.NoError(t, r.Err())

	first := context.DeadlineExceeded
	r.SetError(first)
	r.SetError(context.Canceled)
	require.Equal(t, first, r.Err())
}

func TestExecutionPlanRunsInTopoOrder(t *testing.T) {
	plan := NewExecutionPlan()
	var mu sync.Mutex
	var order []string

	a := plan.AddOperator("a", func(ctx context.Context, in []*OperatorResult) (*OperatorResult, error) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return NewOperatorResult(), nil
	})
	b := plan.AddOperator("b", func(ctx context.Context, in []*OperatorResult) (*OperatorResult, error) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return NewOperatorResult(), nil
	})
	require.NoError(t, plan.CreateLink(a, b))
	require.NoError(t, plan.SetTerminal(b))

	sched := scheduler.New(2, nil)
	sched.Start(context.Background())
	defer sched.Join()

	_, err := plan.Run(context.Background(), sched, "test")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, order)
}

func TestLazyTableWithHelpersDoNotMutateOriginal(t *testing.T) {
	tbl := table.New("t", types.Schema{}, 1<<20)
	lt := NewLazyTable(tbl)
	lt2 := lt.WithIndices([]table.RowID{1, 2, 3})
	require.Nil(t, lt.Indices)
	require.Len(t, lt2.Indices, 3)
}
