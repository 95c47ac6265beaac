// Package join implements Join and FilterJoin/LIP (spec §4.7): hash join
// between two LazyTables, and the Bloom-filtered multi-way star-schema join
// of one fact table against several dimension tables. internal/engine does
// not call FilterJoin; it runs every multi-way join as a chain of two-way
// Join calls.
//
// Both forms share one contract: given a set of join predicates, produce an
// OperatorResult binding the same tables with updated indices so that the
// i-th surviving row of every bound table participates in the same output
// row. The upstream resolver supplies predicates in dependency order (fact
// table first for FilterJoin, build side already positioned for each
// subsequent two-way Join); this package never reorders them.
package join

import (
	"context"
	"fmt"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

type match struct {
	leftPos  int
	rightRow table.RowID
}

// Join performs a two-input hash join on pred, producing a new
// OperatorResult with left and right indices updated and every other
// already-bound table's indices back-propagated through the left side's
// prior positions (spec §4.7 "plain hash join").
func Join(ctx context.Context, sched *scheduler.Scheduler, major string, input *operator.OperatorResult, pred operator.JoinPredicate, kind operator.JoinKind) (*operator.OperatorResult, error) {
	left := input.Find(pred.Left.Table)
	right := input.Find(pred.Right.Table)
	if left == nil {
		return nil, herr.New(herr.KindPlanError, "join: unbound table %q", pred.Left.Table)
	}
	if right == nil {
		return nil, herr.New(herr.KindPlanError, "join: unbound table %q", pred.Right.Table)
	}

	schemaL, schemaR := left.Table.Schema(), right.Table.Schema()
	lCol := schemaL.ColumnIndex(pred.Left.Column)
	rCol := schemaR.ColumnIndex(pred.Right.Column)
	if lCol < 0 {
		return nil, herr.New(herr.KindPlanError, "join: unknown column %q on table %q", pred.Left.Column, pred.Left.Table)
	}
	if rCol < 0 {
		return nil, herr.New(herr.KindPlanError, "join: unknown column %q on table %q", pred.Right.Column, pred.Right.Table)
	}
	if schemaL.Columns[lCol].Type != schemaR.Columns[rCol].Type {
		return nil, herr.New(herr.KindPlanError, "join: key type mismatch: %s.%s is %s, %s.%s is %s",
			pred.Left.Table, pred.Left.Column, schemaL.Columns[lCol].Type,
			pred.Right.Table, pred.Right.Column, schemaR.Columns[rCol].Type)
	}

	leftCandidates, err := candidatePositions(left)
	if err != nil {
		return nil, err
	}
	if len(leftCandidates) == 0 {
		// Empty left input produces an empty result immediately, skipping
		// the build (spec §4.7 edge case).
		return emptyResult(input, left, right), nil
	}

	ht := right.HashTable
	if ht == nil {
		ht, err = buildHashTable(right, rCol)
		if err != nil {
			return nil, err
		}
	}

	batches := chunk(len(leftCandidates), sched.WorkerCount())
	perBatch := make([][]match, len(batches))

	err = sched.ParallelFor(
		scheduler.TaskDescription{Kind: "join", MajorID: major, Name: fmt.Sprintf("join.%s_%s.probe", pred.Left.Table, pred.Right.Table)},
		len(batches),
		func(bi int) error {
			lo, hi := batches[bi][0], batches[bi][1]
			var local []match
			for p := lo; p < hi; p++ {
				rowID := leftCandidates[p]
				v, err := left.Table.ValueAt(rowID, lCol)
				if err != nil {
					return err
				}
				if v.Null {
					if kind == operator.JoinLeft {
						local = append(local, match{leftPos: p, rightRow: operator.NullRowID})
					}
					continue
				}
				matched := false
				for _, ref := range ht.Lookup(operator.JoinKeyHash(v)) {
					rb, off := right.Table.BlockAt(int(ref.ChunkID()))
					rv := rb.ValueAt(int(ref.RowInChunk()), rCol)
					if !valuesEqual(v, rv) {
						continue // hash collision, not a real match (spec §4.7)
					}
					local = append(local, match{leftPos: p, rightRow: table.RowID(off + int64(ref.RowInChunk()))})
					matched = true
				}
				if !matched && kind == operator.JoinLeft {
					local = append(local, match{leftPos: p, rightRow: operator.NullRowID})
				}
			}
			perBatch[bi] = local
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	var merged []match
	for _, b := range perBatch {
		merged = append(merged, b...)
	}

	return bindOutputs(input, left, right, leftCandidates, merged), nil
}

func bindOutputs(input *operator.OperatorResult, left, right *operator.LazyTable, leftCandidates []table.RowID, merged []match) *operator.OperatorResult {
	newLeftIdx := make([]table.RowID, len(merged))
	newRightIdx := make([]table.RowID, len(merged))
	for i, m := range merged {
		newLeftIdx[i] = leftCandidates[m.leftPos]
		newRightIdx[i] = m.rightRow
	}

	out := make([]*operator.LazyTable, 0, len(input.Tables))
	for _, lt := range input.Tables {
		switch lt.Table.Name {
		case left.Table.Name:
			out = append(out, lt.WithIndices(newLeftIdx))
		case right.Table.Name:
			out = append(out, lt.WithIndices(newRightIdx))
		default:
			back := make([]table.RowID, len(merged))
			for i, m := range merged {
				if lt.Indices != nil {
					back[i] = lt.Indices[m.leftPos]
				} else {
					back[i] = leftCandidates[m.leftPos]
				}
			}
			out = append(out, lt.WithIndices(back))
		}
	}
	return operator.NewOperatorResult(out...)
}

func emptyResult(input *operator.OperatorResult, left, right *operator.LazyTable) *operator.OperatorResult {
	out := make([]*operator.LazyTable, 0, len(input.Tables))
	for _, lt := range input.Tables {
		out = append(out, lt.WithIndices([]table.RowID{}))
	}
	return operator.NewOperatorResult(out...)
}

// candidatePositions returns the rows of lt that participate as join
// candidates: its existing Indices if it was already positioned by an
// earlier join, or every filter-surviving row of the table in block order.
func candidatePositions(lt *operator.LazyTable) ([]table.RowID, error) {
	return lt.RowIDs()
}

// buildHashTable builds a HashTable on right keyed by rCol, over right's
// filter-surviving rows (spec §4.7 step 1).
func buildHashTable(right *operator.LazyTable, rCol int) (*operator.HashTable, error) {
	ht := operator.NewHashTable(false)
	err := right.Table.ForEachBlock(func(blockIdx int, offset int64, b *block.Block) error {
		valid := b.Validity()
		it := valid.Iterator()
		for it.HasNext() {
			row := it.Next()
			g := offset + int64(row)
			if right.Filter != nil && !right.Filter.Contains(uint32(g)) {
				continue
			}
			v := b.ValueAt(int(row), rCol)
			if v.Null {
				continue // null keys never match (spec §4.7)
			}
			ht.Insert(operator.JoinKeyHash(v), operator.PackRowRef(uint32(blockIdx), row))
		}
		return nil
	})
	return ht, err
}

func valuesEqual(a, b types.Value) bool {
	if a.Null || b.Null {
		return false
	}
	if a.Type == types.Int64 {
		return a.Int == b.Int
	}
	return a.Str == b.Str
}

// chunk splits [0,n) into roughly num_chunks/(2*worker_count)-sized batches
// (spec §4.7 concurrency note), never producing more batches than n nor
// fewer than 1.
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
