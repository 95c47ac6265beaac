// Package selectop implements Select and SelectBuildHash (spec §4.5, §4.6):
// predicate evaluation over one table's blocks, with SMA-driven block
// skipping and block-parallel fan-out through the scheduler.
package selectop

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/sma"
	"github.com/hustle-db/hustle/internal/types"
)

// Select evaluates tree over input's table, honoring input's existing
// filter (if any), and returns a filter-only LazyTable: same table, a new
// global-row-id filter bitmap, no indices, no hash table (spec §4.5).
func Select(ctx context.Context, sched *scheduler.Scheduler, major string, input *operator.LazyTable, tree *operator.PredicateTree) (*operator.LazyTable, error) {
	t := input.Table
	schema := t.Schema()
	n := t.NumBlocks()

	blockFilters := make([]*roaring.Bitmap, n)
	err := sched.ParallelFor(
		scheduler.TaskDescription{Kind: "select", MajorID: major, Name: fmt.Sprintf("select.%s.block", t.Name)},
		n,
		func(i int) error {
			b, offset := t.BlockAt(i)
			out, err := selectBlock(b, offset, schema, tree, input.Filter)
			if err != nil {
				return err
			}
			blockFilters[i] = out
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	result := roaring.New()
	for _, bm := range blockFilters {
		if bm != nil {
			result.Or(bm)
		}
	}
	return input.WithFilter(result), nil
}

// SelectBuildHash runs Select and then builds a HashTable on the
// filter-surviving rows keyed by keyColumn, fused into the same block pass
// (spec §4.6). unique marks the key column as declared unique (e.g. a
// dimension table's primary key), so the hash table keeps first-wins
// semantics instead of chaining duplicates.
func SelectBuildHash(ctx context.Context, sched *scheduler.Scheduler, major string, input *operator.LazyTable, tree *operator.PredicateTree, keyColumn string, unique bool) (*operator.LazyTable, error) {
	t := input.Table
	schema := t.Schema()
	keyColID := schema.ColumnIndex(keyColumn)
	if keyColID < 0 {
		return nil, herr.New(herr.KindPlanError, "select_build_hash: unknown key column %q on table %q", keyColumn, t.Name)
	}

	n := t.NumBlocks()
	ht := operator.NewHashTable(unique)
	blockFilters := make([]*roaring.Bitmap, n)

	err := sched.ParallelFor(
		scheduler.TaskDescription{Kind: "select_build_hash", MajorID: major, Name: fmt.Sprintf("select_build_hash.%s.block", t.Name)},
		n,
		func(i int) error {
			b, offset := t.BlockAt(i)
			out, err := selectBlock(b, offset, schema, tree, input.Filter)
			if err != nil {
				return err
			}
			blockFilters[i] = out

			it := out.Iterator()
			for it.HasNext() {
				globalRow := it.Next()
				localRow := int(int64(globalRow) - offset)
				v := b.ValueAt(localRow, keyColID)
				if v.Null {
					continue
				}
				ht.Insert(operator.JoinKeyHash(v), operator.PackRowRef(uint32(i), uint32(localRow)))
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	result := roaring.New()
	for _, bm := range blockFilters {
		if bm != nil {
			result.Or(bm)
		}
	}
	return input.WithFilter(result).WithHashTable(ht), nil
}

// selectBlock evaluates tree against one block, consulting SMA for a
// whole-block skip before any per-row comparison, and masks the result with
// both the block's own validity bitmap and the caller's existing filter (if
// any). The returned bitmap is in the table's global row-id space.
func selectBlock(b *block.Block, offset int64, schema types.Schema, tree *operator.PredicateTree, existing *roaring.Bitmap) (*roaring.Bitmap, error) {
	if tree == nil {
		local := b.Validity()
		return shiftToGlobal(local, offset, existing), nil
	}
	if !mayContainTree(b, schema, tree) {
		return roaring.New(), nil
	}

	local, err := evalTree(b, schema, tree)
	if err != nil {
		return nil, err
	}
	local.And(b.Validity())
	return shiftToGlobal(local, offset, existing), nil
}

func shiftToGlobal(local *roaring.Bitmap, offset int64, existing *roaring.Bitmap) *roaring.Bitmap {
	global := roaring.New()
	it := local.Iterator()
	for it.HasNext() {
		row := it.Next()
		g := uint32(int64(row) + offset)
		if existing != nil && !existing.Contains(g) {
			continue
		}
		global.Add(g)
	}
	return global
}

// mayContainTree is the recursive SMA skip check (spec §4.5 step (i)):
// conjunctions can skip a block the instant one leaf's range rules it out;
// disjunctions require every leaf's range to rule it out.
func mayContainTree(b *block.Block, schema types.Schema, t *operator.PredicateTree) bool {
	if t.IsLeaf() {
		colID := schema.ColumnIndex(t.Column.Column)
		if colID < 0 {
			return true
		}
		mm := b.SMA(colID)
		col := schema.Columns[colID]
		if col.Type == types.Int64 {
			return mm.MayContainInt(sma.Comparator(t.Op), t.Value.Int, t.Value2.Int)
		}
		return mm.MayContainString(sma.Comparator(t.Op), t.Value.Str, t.Value2.Str)
	}
	left := mayContainTree(b, schema, t.Left)
	right := mayContainTree(b, schema, t.Right)
	if t.Conn == operator.ConnAND {
		return left && right
	}
	return left || right
}

// evalTree evaluates a predicate tree against one block's columns, building
// leaf bitmaps (local row indices) and combining them bottom-up with
// bitwise AND/OR (spec §4.5 step (ii)).
func evalTree(b *block.Block, schema types.Schema, t *operator.PredicateTree) (*roaring.Bitmap, error) {
	if t.IsLeaf() {
		return evalLeaf(b, schema, t)
	}
	left, err := evalTree(b, schema, t.Left)
	if err != nil {
		return nil, err
	}
	right, err := evalTree(b, schema, t.Right)
	if err != nil {
		return nil, err
	}
	if t.Conn == operator.ConnAND {
		return roaring.And(left, right), nil
	}
	return roaring.Or(left, right), nil
}

func evalLeaf(b *block.Block, schema types.Schema, leaf *operator.PredicateTree) (*roaring.Bitmap, error) {
	colID := schema.ColumnIndex(leaf.Column.Column)
	if colID < 0 {
		return nil, herr.New(herr.KindPlanError, "select: unknown column %q", leaf.Column.Column)
	}
	col := schema.Columns[colID]
	out := roaring.New()

	if col.Type == types.Int64 {
		arr := b.Int64Array(colID)
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if compareInt(leaf.Op, arr.Value(i), leaf.Value.Int, leaf.Value2.Int) {
				out.Add(uint32(i))
			}
		}
		return out, nil
	}

	arr := b.StringArray(colID)
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		if compareStr(leaf.Op, arr.Value(i), leaf.Value.Str, leaf.Value2.Str) {
			out.Add(uint32(i))
		}
	}
	return out, nil
}

func compareInt(op operator.Comparator, v, target, target2 int64) bool {
	switch op {
	case operator.OpEQ:
		return v == target
	case operator.OpNE:
		return v != target
	case operator.OpLT:
		return v < target
	case operator.OpLE:
		return v <= target
	case operator.OpGT:
		return v > target
	case operator.OpGE:
		return v >= target
	case operator.OpBetween:
		return v >= target && v <= target2
	default:
		return false
	}
}

func compareStr(op operator.Comparator, v, target, target2 string) bool {
	switch op {
	case operator.OpEQ:
		return v == target
	case operator.OpNE:
		return v != target
	case operator.OpLT:
		return v < target
	case operator.OpLE:
		return v <= target
	case operator.OpGT:
		return v > target
	case operator.OpGE:
		return v >= target
	case operator.OpBetween:
		return v >= target && v <= target2
	default:
		return false
	}
}
