// Package aggregate implements HashAggregate (spec §4.8): group-by with
// SUM/COUNT/MEAN over a column or a simple binary arithmetic expression of
// two columns, sharded across a concurrent hash map to bound contention,
// with an optional stable multi-key order-by pass over the grouped output.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hustle-db/hustle/internal/bloom"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/types"
)

// Row is one output row: the group-by columns' values in GroupBy order,
// followed by one value per AggregateRef in Aggs order.
type Row struct {
	GroupValues []types.Value
	AggValues   []types.Value
}

// Result is HashAggregate's output: one Row per distinct group, in
// OrderBy's final order. With an empty OrderBy the row order is not
// defined (rows are gathered from the hash shards).
type Result struct {
	GroupBy []operator.ColumnReference
	Aggs    []operator.AggregateRef
	Rows    []Row
}

// GroupRefs, AggRefs, RowCount, GroupValue, and AggValue satisfy
// internal/exec/project's aggregateResult interface, letting Project
// materialize a final result table from either a plain OperatorResult or
// an aggregated Result without project importing this package.
func (r *Result) GroupRefs() []operator.ColumnReference { return r.GroupBy }
func (r *Result) AggRefs() []operator.AggregateRef      { return r.Aggs }
func (r *Result) RowCount() int                         { return len(r.Rows) }
func (r *Result) GroupValue(row, col int) types.Value   { return r.Rows[row].GroupValues[col] }
func (r *Result) AggValue(row, col int) types.Value     { return r.Rows[row].AggValues[col] }

// aggState is the running kernel state for one AggregateRef within one
// group (spec §4.8 step 2): sumInt/sumFlt hold SUM/MEAN's running sum in
// whichever domain the expression produces (integer arithmetic stays
// exact; a division sub-expression switches the whole ref to float64), and
// count is the number of rows that contributed a non-null value.
type aggState struct {
	sumInt int64
	sumFlt float64
	count  int64
}

type group struct {
	values []types.Value
	states []aggState
}

type shard struct {
	mu     sync.Mutex
	groups map[string]*group
}

// HashAggregate groups input's pipeline rows by groupBy, computes aggs over
// each group, and orders the output rows by orderBy (spec §4.8). major
// labels the scheduler tasks this call spawns.
func HashAggregate(ctx context.Context, sched *scheduler.Scheduler, major string, input *operator.OperatorResult, groupBy []operator.ColumnReference, aggs []operator.AggregateRef, orderBy []operator.OrderByRef) (*Result, error) {
	resolve, err := operator.NewRowResolver(input)
	if err != nil {
		return nil, err
	}
	n := resolve.RowCount()

	for _, ref := range groupBy {
		if _, err := resolve.ColumnType(ref); err != nil {
			return nil, err
		}
	}

	exprIsFloat := make([]bool, len(aggs))
	for i, a := range aggs {
		exprIsFloat[i] = a.Expr.IsBinary && a.Expr.Op == operator.ArithDiv
		for _, c := range exprColumns(a.Expr) {
			if _, err := resolve.ColumnType(c); err != nil {
				return nil, err
			}
		}
	}

	shardCount := sched.WorkerCount() * 2
	if shardCount < 2 {
		shardCount = 2
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{groups: make(map[string]*group)}
	}

	if n > 0 {
		batches := chunk(n, sched.WorkerCount())
		err = sched.ParallelFor(
			scheduler.TaskDescription{Kind: "hash_aggregate", MajorID: major, Name: fmt.Sprintf("hash_aggregate.%s.consume", major)},
			len(batches),
			func(bi int) error {
				lo, hi := batches[bi][0], batches[bi][1]
				for row := lo; row < hi; row++ {
					groupVals := make([]types.Value, len(groupBy))
					for gi, ref := range groupBy {
						v, err := resolve.Value(ref, row)
						if err != nil {
							return err
						}
						groupVals[gi] = v
					}
					key := groupKey(groupVals)
					sh := shards[bloom.HashString(key)%uint64(shardCount)]

					sh.mu.Lock()
					g := sh.groups[key]
					if g == nil {
						g = &group{values: groupVals, states: make([]aggState, len(aggs))}
						sh.groups[key] = g
					}
					for ai, a := range aggs {
						v, ok, err := evalExpr(a.Expr, func(c operator.ColumnReference) (types.Value, error) {
							return resolve.Value(c, row)
						})
						if err != nil {
							sh.mu.Unlock()
							return err
						}
						if !ok {
							continue
						}
						st := &g.states[ai]
						st.count++
						if v.Type == types.Int64 {
							st.sumInt += v.Int
						} else {
							st.sumFlt += v.Flt
						}
					}
					sh.mu.Unlock()
				}
				return nil
			},
		)
		if err != nil {
			return nil, err
		}
	}

	var rows []Row
	for _, sh := range shards {
		for _, g := range sh.groups {
			aggVals := make([]types.Value, len(aggs))
			for ai, a := range aggs {
				aggVals[ai] = finalize(a.Kernel, g.states[ai], exprIsFloat[ai])
			}
			rows = append(rows, Row{GroupValues: g.values, AggValues: aggVals})
		}
	}

	if len(orderBy) > 0 {
		if err := sortRows(rows, groupBy, aggs, orderBy); err != nil {
			return nil, err
		}
	}

	return &Result{GroupBy: groupBy, Aggs: aggs, Rows: rows}, nil
}

// finalize computes an aggregate's output value from its running state
// (spec §4.8 step 3: "MEAN = sum/count"). SUM or MEAN over a zero-count
// group (every contributing row's expression was null, e.g. every divisor
// was zero) produces a null result rather than a fatal division by zero.
func finalize(kernel operator.AggregateKernel, st aggState, exprIsFloat bool) types.Value {
	switch kernel {
	case operator.AggCount:
		return types.IntValue(st.count)
	case operator.AggSum:
		if st.count == 0 {
			if exprIsFloat {
				return types.NullValue(types.Float64)
			}
			return types.NullValue(types.Int64)
		}
		if exprIsFloat {
			return types.FloatValue(st.sumFlt)
		}
		return types.IntValue(st.sumInt)
	case operator.AggMean:
		if st.count == 0 {
			return types.NullValue(types.Float64)
		}
		sum := st.sumFlt
		if !exprIsFloat {
			sum = float64(st.sumInt)
		}
		return types.FloatValue(sum / float64(st.count))
	default:
		return types.NullValue(types.Int64)
	}
}

// evalExpr evaluates an AggregateExpr for one row via get. ok is false when
// the expression contributes nothing for this row: a null operand, or (spec
// §4.8 Failure semantics) a division whose right operand is zero.
func evalExpr(expr operator.AggregateExpr, get func(operator.ColumnReference) (types.Value, error)) (types.Value, bool, error) {
	if !expr.IsBinary {
		v, err := get(expr.Column)
		if err != nil {
			return types.Value{}, false, err
		}
		if v.Null {
			return types.Value{}, false, nil
		}
		return v, true, nil
	}
	lv, err := get(expr.Left)
	if err != nil {
		return types.Value{}, false, err
	}
	rv, err := get(expr.Right)
	if err != nil {
		return types.Value{}, false, err
	}
	if lv.Null || rv.Null {
		return types.Value{}, false, nil
	}
	switch expr.Op {
	case operator.ArithAdd:
		return types.IntValue(lv.Int + rv.Int), true, nil
	case operator.ArithSub:
		return types.IntValue(lv.Int - rv.Int), true, nil
	case operator.ArithMul:
		return types.IntValue(lv.Int * rv.Int), true, nil
	case operator.ArithDiv:
		if rv.Int == 0 {
			return types.Value{}, false, nil
		}
		return types.FloatValue(float64(lv.Int) / float64(rv.Int)), true, nil
	default:
		return types.Value{}, false, herr.New(herr.KindInternal, "hash_aggregate: unknown arithmetic op %d", expr.Op)
	}
}

func exprColumns(e operator.AggregateExpr) []operator.ColumnReference {
	if !e.IsBinary {
		return []operator.ColumnReference{e.Column}
	}
	return []operator.ColumnReference{e.Left, e.Right}
}

// groupKey encodes a row's group-by values into an unambiguous byte key:
// each value is tagged (null/int/string) and strings are length-prefixed,
// so no concatenation of distinct value sequences can collide.
func groupKey(vals []types.Value) string {
	var sb strings.Builder
	var tmp [8]byte
	for _, v := range vals {
		if v.Null {
			sb.WriteByte(0)
			continue
		}
		if v.Type == types.Int64 {
			sb.WriteByte(1)
			putUint64(tmp[:], uint64(v.Int))
			sb.Write(tmp[:])
			continue
		}
		sb.WriteByte(2)
		putUint64(tmp[:], uint64(len(v.Str)))
		sb.Write(tmp[:])
		sb.WriteString(v.Str)
	}
	return sb.String()
}

func putUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// sortRows applies orderBy's left-to-right cascading comparisons (spec
// §4.8 Tie-breaks: NULLs sort last ascending, first descending).
func sortRows(rows []Row, groupBy []operator.ColumnReference, aggs []operator.AggregateRef, orderBy []operator.OrderByRef) error {
	type key struct {
		isGroup bool
		idx     int
		desc    bool
	}
	keys := make([]key, len(orderBy))
	for i, ob := range orderBy {
		found := false
		for gi, g := range groupBy {
			if g == ob.Column {
				keys[i] = key{isGroup: true, idx: gi, desc: ob.Desc}
				found = true
				break
			}
		}
		if found {
			continue
		}
		for ai, a := range aggs {
			if a.Alias == ob.Column.Column {
				keys[i] = key{isGroup: false, idx: ai, desc: ob.Desc}
				found = true
				break
			}
		}
		if !found {
			return herr.New(herr.KindPlanError, "hash_aggregate: order-by column %q is neither a group-by column nor an aggregate alias", ob.Column.Column)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			var a, b types.Value
			if k.isGroup {
				a, b = rows[i].GroupValues[k.idx], rows[j].GroupValues[k.idx]
			} else {
				a, b = rows[i].AggValues[k.idx], rows[j].AggValues[k.idx]
			}
			c := compareValues(a, b)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// compareValues orders a before b (-1), equal (0), or after (1). NULLs
// sort last for an ascending comparison; sortRows flips the sign for
// descending keys, which correctly puts NULLs first in that case (spec
// §4.8 Tie-breaks).
func compareValues(a, b types.Value) int {
	if a.Null && b.Null {
		return 0
	}
	if a.Null {
		return 1
	}
	if b.Null {
		return -1
	}
	switch a.Type {
	case types.Int64:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case types.Float64:
		switch {
		case a.Flt < b.Flt:
			return -1
		case a.Flt > b.Flt:
			return 1
		default:
			return 0
		}
	default:
		return strings.Compare(a.Str, b.Str)
	}
}

// chunk splits [0,n) into roughly num_chunks/(2*worker_count)-sized
// batches (spec §4.7's concurrency note, reused here for block-parallel row
// consumption), never producing more batches than n nor fewer than 1.
func chunk(n, workers int) [][2]int {
	if workers < 1 {
		workers = 1
	}
	batchSize := n / (2 * workers)
	if batchSize < 1 {
		batchSize = 1
	}
	var batches [][2]int
	for lo := 0; lo < n; lo += batchSize {
		hi := lo + batchSize
		if hi > n {
			hi = n
		}
		batches = append(batches, [2]int{lo, hi})
	}
	return batches
}
