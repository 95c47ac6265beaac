package operator

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/table"
)

// NullRowID marks the right-hand side of a left-outer-join output row that
// had no match (spec §8 end-to-end scenario 2): projection substitutes a
// null Value for any column reference resolving to this row id instead of
// indexing into the table.
const NullRowID table.RowID = -1

// LazyTable is the handle passed between operators (spec §3): a table
// reference plus an optional filter bitmap, an optional surviving-index
// vector, and an optional hash table from a prior fused select-build-hash.
// None of these require copying the underlying column data.
type LazyTable struct {
	Table *table.Table

	// Filter is an optional per-row validity bitmap over global row ids.
	// nil means "no filter applied yet" (all rows the table's own
	// validity bitmaps mark live are candidates).
	Filter *roaring.Bitmap

	// Indices is an optional vector of global row ids that survived the
	// pipeline so far (post-join). nil means the LazyTable is still
	// filter-only.
	Indices []table.RowID

	// HashTable is set when this LazyTable was produced by
	// SelectBuildHash (spec §4.6) or is otherwise usable as a join build
	// side.
	HashTable *HashTable
}

// NewLazyTable wraps t with no filter, indices, or hash table.
func NewLazyTable(t *table.Table) *LazyTable {
	return &LazyTable{Table: t}
}

// WithFilter returns a copy of lt with Filter replaced.
func (lt *LazyTable) WithFilter(f *roaring.Bitmap) *LazyTable {
	next := *lt
	next.Filter = f
	return &next
}

// WithIndices returns a copy of lt with Indices replaced.
func (lt *LazyTable) WithIndices(idx []table.RowID) *LazyTable {
	next := *lt
	next.Indices = idx
	return &next
}

// WithHashTable returns a copy of lt with HashTable replaced.
func (lt *LazyTable) WithHashTable(ht *HashTable) *LazyTable {
	next := *lt
	next.HashTable = ht
	return &next
}

// RowIDs returns the concrete global row ids lt represents: its existing
// Indices if a join has already positioned it, otherwise every row its
// Filter (or, lacking one, the table's own validity bitmaps) marks live, in
// block order. Join, FilterJoin, HashAggregate, and Project all consume a
// LazyTable's participating rows through this one method.
func (lt *LazyTable) RowIDs() ([]table.RowID, error) {
	if lt.Indices != nil {
		return lt.Indices, nil
	}
	var out []table.RowID
	err := lt.Table.ForEachBlock(func(blockIdx int, offset int64, b *block.Block) error {
		valid := b.Validity()
		it := valid.Iterator()
		for it.HasNext() {
			row := int64(it.Next())
			g := offset + row
			if lt.Filter != nil && !lt.Filter.Contains(uint32(g)) {
				continue
			}
			out = append(out, table.RowID(g))
		}
		return nil
	})
	return out, err
}

// OperatorResult is an ordered set of LazyTables passed between operators
// (spec §3). It carries a first-error slot (spec §7): the first operator
// to fail records its error here and stops spawning further subtasks; the
// terminal operator observes the slot and surfaces one error to the
// caller.
type OperatorResult struct {
	Tables []*LazyTable

	errOnce sync.Once
	err     error
}

// NewOperatorResult wraps an ordered list of LazyTables.
func NewOperatorResult(tables ...*LazyTable) *OperatorResult {
	return &OperatorResult{Tables: tables}
}

// Find returns the LazyTable bound to the named table, or nil.
func (r *OperatorResult) Find(tableName string) *LazyTable {
	for _, lt := range r.Tables {
		if lt.Table.Name == tableName {
			return lt
		}
	}
	return nil
}

// SetError records the first error reported against this result. Later
// calls are no-ops, matching spec §7's "first-error slot".
func (r *OperatorResult) SetError(err error) {
	if err == nil {
		return
	}
	r.errOnce.Do(func() { r.err = err })
}

// Err returns the first recorded error, or nil.
func (r *OperatorResult) Err() error {
	return r.err
}
