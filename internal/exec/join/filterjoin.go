package join

import (
	"context"
	"fmt"
	"sort"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/bloom"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/scheduler"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

// dimBinding is one dimension table's build-side state for FilterJoin: a
// Bloom filter pre-check, a HashTable to recover the matching row, and the
// fact-side and dimension-side column positions for this predicate.
type dimBinding struct {
	idx        int // position within the original predicate/dims slice
	pred       operator.JoinPredicate
	lt         *operator.LazyTable
	factColIdx int
	dimColIdx  int
	filter     *bloom.Filter
	ht         *operator.HashTable
}

type fjMatch struct {
	pos     int
	dimRows []table.RowID
}

// FilterJoin performs the Lookahead Information Passing multi-way join
// (spec §4.7): fact is the probed table; preds binds fact's join key columns
// to each dimension table's key column. Every predicate's Left must name
// fact.
func FilterJoin(ctx context.Context, sched *scheduler.Scheduler, major string, input *operator.OperatorResult, fact string, preds []operator.JoinPredicate) (*operator.OperatorResult, error) {
	factLT := input.Find(fact)
	if factLT == nil {
		return nil, herr.New(herr.KindPlanError, "filter_join: unbound fact table %q", fact)
	}
	factSchema := factLT.Table.Schema()

	dims := make([]*dimBinding, len(preds))
	err := sched.ParallelFor(
		scheduler.TaskDescription{Kind: "filter_join", MajorID: major, Name: "filter_join.build"},
		len(preds),
		func(i int) error {
			pred := preds[i]
			if pred.Left.Table != fact {
				return herr.New(herr.KindPlanError, "filter_join: predicate %d does not reference fact table %q on its left side", i, fact)
			}
			dimLT := input.Find(pred.Right.Table)
			if dimLT == nil {
				return herr.New(herr.KindPlanError, "filter_join: unbound dimension table %q", pred.Right.Table)
			}
			dimSchema := dimLT.Table.Schema()

			factColIdx := factSchema.ColumnIndex(pred.Left.Column)
			dimColIdx := dimSchema.ColumnIndex(pred.Right.Column)
			if factColIdx < 0 {
				return herr.New(herr.KindPlanError, "filter_join: unknown column %q on table %q", pred.Left.Column, fact)
			}
			if dimColIdx < 0 {
				return herr.New(herr.KindPlanError, "filter_join: unknown column %q on table %q", pred.Right.Column, pred.Right.Table)
			}
			if factSchema.Columns[factColIdx].Type != dimSchema.Columns[dimColIdx].Type {
				return herr.New(herr.KindPlanError, "filter_join: key type mismatch on %q/%q", pred.Left.Column, pred.Right.Column)
			}

			ht, f, err := buildHashAndBloom(dimLT, dimColIdx)
			if err != nil {
				return err
			}
			dims[i] = &dimBinding{idx: i, pred: pred, lt: dimLT, factColIdx: factColIdx, dimColIdx: dimColIdx, filter: f, ht: ht}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	factCandidates, err := candidatePositions(factLT)
	if err != nil {
		return nil, err
	}
	if len(factCandidates) == 0 {
		out := make([]*operator.LazyTable, 0, len(input.Tables))
		for _, lt := range input.Tables {
			out = append(out, lt.WithIndices([]table.RowID{}))
		}
		return operator.NewOperatorResult(out...), nil
	}

	batches := chunk(len(factCandidates), sched.WorkerCount())
	perBatch := make([][]fjMatch, len(batches))

	err = sched.ParallelFor(
		scheduler.TaskDescription{Kind: "filter_join", MajorID: major, Name: fmt.Sprintf("filter_join.%s.probe", fact)},
		len(batches),
		func(bi int) error {
			lo, hi := batches[bi][0], batches[bi][1]
			order := orderByWeight(dims)
			var local []fjMatch
			for p := lo; p < hi; p++ {
				rowID := factCandidates[p]
				factVals := make([]types.Value, len(dims))
				skip := false
				for _, d := range dims {
					v, err := factLT.Table.ValueAt(rowID, d.factColIdx)
					if err != nil {
						return err
					}
					if v.Null {
						skip = true
						break
					}
					factVals[d.idx] = v
				}
				if skip {
					continue
				}

				passed := true
				for _, d := range order {
					if !d.filter.Probe(uint64(operator.JoinKeyHash(factVals[d.idx]))) {
						passed = false
						break
					}
				}
				if !passed {
					continue
				}

				dimRows := make([]table.RowID, len(dims))
				ok := true
				for _, d := range dims {
					matched := false
					for _, ref := range d.ht.Lookup(operator.JoinKeyHash(factVals[d.idx])) {
						blk, off := d.lt.Table.BlockAt(int(ref.ChunkID()))
						dv := blk.ValueAt(int(ref.RowInChunk()), d.dimColIdx)
						if valuesEqual(factVals[d.idx], dv) {
							dimRows[d.idx] = table.RowID(off + int64(ref.RowInChunk()))
							matched = true
							break
						}
					}
					if !matched {
						ok = false
						break
					}
				}
				if !ok {
					continue
				}
				local = append(local, fjMatch{pos: p, dimRows: dimRows})
			}
			perBatch[bi] = local
			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	var merged []fjMatch
	for _, b := range perBatch {
		merged = append(merged, b...)
	}

	return bindFilterJoinOutputs(input, factLT, dims, factCandidates, merged), nil
}

func bindFilterJoinOutputs(input *operator.OperatorResult, factLT *operator.LazyTable, dims []*dimBinding, factCandidates []table.RowID, merged []fjMatch) *operator.OperatorResult {
	newFactIdx := make([]table.RowID, len(merged))
	dimIdx := make([][]table.RowID, len(dims))
	for i := range dimIdx {
		dimIdx[i] = make([]table.RowID, len(merged))
	}
	for i, m := range merged {
		newFactIdx[i] = factCandidates[m.pos]
		for di := range dims {
			dimIdx[di][i] = m.dimRows[di]
		}
	}

	out := make([]*operator.LazyTable, 0, len(input.Tables))
	for _, lt := range input.Tables {
		if lt.Table.Name == factLT.Table.Name {
			out = append(out, lt.WithIndices(newFactIdx))
			continue
		}
		matchedDim := -1
		for di, d := range dims {
			if d.lt.Table.Name == lt.Table.Name {
				matchedDim = di
				break
			}
		}
		if matchedDim >= 0 {
			out = append(out, lt.WithIndices(dimIdx[matchedDim]))
			continue
		}
		back := make([]table.RowID, len(merged))
		for i, m := range merged {
			if lt.Indices != nil {
				back[i] = lt.Indices[m.pos]
			} else {
				back[i] = factCandidates[m.pos]
			}
		}
		out = append(out, lt.WithIndices(back))
	}
	return operator.NewOperatorResult(out...)
}

// orderByWeight returns a copy of dims sorted by descending memory weight
// (most-selective first, spec §4.7 step 2/5). Recomputed per chunk so the
// order adapts to reject rates observed by earlier chunks.
func orderByWeight(dims []*dimBinding) []*dimBinding {
	order := make([]*dimBinding, len(dims))
	copy(order, dims)
	sort.Slice(order, func(i, j int) bool {
		return order[i].filter.MemoryWeight() > order[j].filter.MemoryWeight()
	})
	return order
}

// buildHashAndBloom scans dimLT's filter-surviving, non-null keys once,
// populating both a HashTable (to recover the matching row) and a Bloom
// filter sized to the observed key count (spec §4.7 step 1, §4.4 sizing).
func buildHashAndBloom(dimLT *operator.LazyTable, colIdx int) (*operator.HashTable, *bloom.Filter, error) {
	type kv struct {
		key int64
		ref operator.RowRef
	}
	var pairs []kv
	err := dimLT.Table.ForEachBlock(func(blockIdx int, offset int64, b *block.Block) error {
		valid := b.Validity()
		it := valid.Iterator()
		for it.HasNext() {
			row := it.Next()
			g := offset + int64(row)
			if dimLT.Filter != nil && !dimLT.Filter.Contains(uint32(g)) {
				continue
			}
			v := b.ValueAt(int(row), colIdx)
			if v.Null {
				continue
			}
			pairs = append(pairs, kv{operator.JoinKeyHash(v), operator.PackRowRef(uint32(blockIdx), row)})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	f, err := bloom.New(uint64(len(pairs)), bloom.DefaultFalsePositiveRate)
	if err != nil {
		return nil, nil, err
	}
	ht := operator.NewHashTable(false)
	for _, p := range pairs {
		ht.Insert(p.key, p.ref)
		f.Insert(uint64(p.key))
	}
	return ht, f, nil
}
