// Package block implements the columnar row-group storage unit described in
// spec §3: a fixed-maximum-byte-size block holding one Arrow array per
// column, a roaring validity bitmap, and per-column SMA metadata.
package block

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow/go/arrow/array"
	"github.com/apache/arrow/go/arrow/memory"

	"github.com/hustle-db/hustle/internal/sma"
	"github.com/hustle-db/hustle/internal/types"
)

// Block is a row group of bounded byte size (spec §3). Inserts only
// append; deletes only clear a validity bit; updates rewrite a cell in
// place (recompacting the owning column when a variable-length value's
// width changes).
type Block struct {
	mu sync.RWMutex

	schema   types.Schema
	capacity int64
	alloc    memory.Allocator

	columns  []*column
	validity *roaring.Bitmap
	rowCount int
	byteCnt  int64

	sma      []sma.MinMax
	smaDirty bool
}

// column holds one Arrow-backed column buffer plus the bookkeeping needed
// to rebuild it on update (Arrow arrays are immutable once built, so an
// in-place cell rewrite rebuilds the backing array from its current
// values).
type column struct {
	typ    types.ColumnType
	width  int // FixedChar width; ignored otherwise
	ints   []int64
	strs   []string // VarChar/FixedChar
	nulls  []bool
	cached array.Interface // lazily (re)built Arrow array; nil when stale
}

// New creates an empty Block for schema with the given byte capacity.
func New(schema types.Schema, capacityBytes int64) *Block {
	b := &Block{
		schema:   schema,
		capacity: capacityBytes,
		alloc:    memory.NewGoAllocator(),
		validity: roaring.New(),
		sma:      make([]sma.MinMax, len(schema.Columns)),
		smaDirty: true,
	}
	for _, c := range schema.Columns {
		b.columns = append(b.columns, &column{typ: c.Type, width: c.Width})
	}
	return b
}

// RowCount returns the block's row count (live + tombstoned).
func (b *Block) RowCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rowCount
}

// ByteCount returns the block's live byte count, used for admission.
func (b *Block) ByteCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byteCnt
}

// Capacity returns the block's configured maximum byte size.
func (b *Block) Capacity() int64 {
	return b.capacity
}

// Validity returns a clone of the block's validity bitmap (1 = live row).
// Callers must not assume the returned bitmap stays in sync with later
// mutations.
func (b *Block) Validity() *roaring.Bitmap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.validity.Clone()
}

// RowWidth estimates the byte width of one row of values, honoring the
// insert_record width convention where -1 means variable-length (spec
// §4.2): the view's own length is used.
func RowWidth(schema types.Schema, values []types.Value) int64 {
	var n int64
	for i, c := range schema.Columns {
		w := c.Type.FixedWidth(c.Width)
		if w >= 0 {
			n += int64(w)
			continue
		}
		n += int64(len(values[i].Str))
	}
	return n
}

// CanAdmit reports whether a new row of rowBytes can be admitted without
// exceeding capacity (spec §4.2's admission rule).
func (b *Block) CanAdmit(rowBytes int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byteCnt+rowBytes <= b.capacity
}

// AppendRow appends one row of values, already validated against schema by
// the caller (table.Table owns schema validation). Returns the row's local
// index within the block.
func (b *Block) AppendRow(values []types.Value) (int, error) {
	if len(values) != len(b.columns) {
		return 0, fmt.Errorf("block: expected %d values, got %d", len(b.columns), len(values))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	row := b.rowCount
	for i, col := range b.columns {
		v := values[i]
		switch col.typ {
		case types.Int64:
			col.ints = append(col.ints, v.Int)
		default:
			col.strs = append(col.strs, v.Str)
		}
		col.nulls = append(col.nulls, v.Null)
		col.cached = nil
	}
	b.validity.Add(uint32(row))
	b.rowCount++
	b.byteCnt += RowWidth(b.schema, values)
	b.smaDirty = true
	return row, nil
}

// DeleteRow clears the validity bit for a local row index (spec §4.2:
// tombstone, not space reclamation).
func (b *Block) DeleteRow(row int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if row < 0 || row >= b.rowCount {
		return fmt.Errorf("block: row %d out of range [0,%d)", row, b.rowCount)
	}
	b.validity.Remove(uint32(row))
	return nil
}

// UpdateCell rewrites one cell in place. For variable-length columns, a
// value with a different byte width triggers recompaction of that column's
// backing array (spec §4.2).
func (b *Block) UpdateCell(row, colID int, v types.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if row < 0 || row >= b.rowCount {
		return fmt.Errorf("block: row %d out of range [0,%d)", row, b.rowCount)
	}
	if colID < 0 || colID >= len(b.columns) {
		return fmt.Errorf("block: column %d out of range", colID)
	}
	col := b.columns[colID]
	oldWidth := cellWidth(col, row)

	switch col.typ {
	case types.Int64:
		col.ints[row] = v.Int
	default:
		col.strs[row] = v.Str
	}
	col.nulls[row] = v.Null
	col.cached = nil

	newWidth := int64(len(v.Str))
	if col.typ == types.Int64 {
		newWidth = 8
	}
	b.byteCnt += newWidth - oldWidth
	b.smaDirty = true
	return nil
}

func cellWidth(col *column, row int) int64 {
	if col.typ == types.Int64 {
		return 8
	}
	return int64(len(col.strs[row]))
}

// Int64Array returns (rebuilding if necessary) the Arrow Int64 array for
// colID. Panics if the column isn't Int64-typed; callers dispatch on
// schema type first, the same pattern the operator pipeline uses elsewhere.
func (b *Block) Int64Array(colID int) *array.Int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	col := b.columns[colID]
	if col.cached == nil {
		bldr := array.NewInt64Builder(b.alloc)
		defer bldr.Release()
		for i, v := range col.ints {
			if col.nulls[i] {
				bldr.AppendNull()
			} else {
				bldr.Append(v)
			}
		}
		col.cached = bldr.NewArray()
	}
	return col.cached.(*array.Int64)
}

// StringArray returns (rebuilding if necessary) the Arrow String array for
// colID (VarChar or FixedChar).
func (b *Block) StringArray(colID int) *array.String {
	b.mu.Lock()
	defer b.mu.Unlock()
	col := b.columns[colID]
	if col.cached == nil {
		bldr := array.NewStringBuilder(b.alloc)
		defer bldr.Release()
		for i, v := range col.strs {
			if col.nulls[i] {
				bldr.AppendNull()
			} else {
				bldr.Append(v)
			}
		}
		col.cached = bldr.NewArray()
	}
	return col.cached.(*array.String)
}

// ValueAt reconstructs the typed Value at (row, colID), returning a null
// Value when the cell's null flag is set. It does not consult the validity
// bitmap: a tombstoned row's stored values are still returned, since
// ValueAt is a raw accessor and operators filter tombstoned rows out
// before reading cells.
func (b *Block) ValueAt(row, colID int) types.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	col := b.columns[colID]
	if col.nulls[row] {
		return types.NullValue(col.typ)
	}
	if col.typ == types.Int64 {
		return types.IntValue(col.ints[row])
	}
	return types.StringValue(col.typ, col.strs[row])
}

// SMA returns the current SMA entry for colID, recomputing lazily if the
// block has been mutated since the last computation (spec §4.3).
func (b *Block) SMA(colID int) sma.MinMax {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.smaDirty {
		b.recomputeSMALocked()
	}
	return b.sma[colID]
}

func (b *Block) recomputeSMALocked() {
	live := func(row int) bool { return b.validity.Contains(uint32(row)) }
	for i, col := range b.columns {
		switch col.typ {
		case types.Int64:
			arr := func() *array.Int64 {
				bldr := array.NewInt64Builder(b.alloc)
				defer bldr.Release()
				for j, v := range col.ints {
					if col.nulls[j] {
						bldr.AppendNull()
					} else {
						bldr.Append(v)
					}
				}
				return bldr.NewArray().(*array.Int64)
			}()
			b.sma[i] = sma.ComputeInt64(arr, live)
			arr.Release()
		default:
			n := len(col.strs)
			b.sma[i] = sma.ComputeString(n, func(row int) (string, bool) {
				if col.nulls[row] {
					return "", false
				}
				return col.strs[row], true
			}, live)
		}
	}
	b.smaDirty = false
}

// Schema returns the block's schema.
func (b *Block) Schema() types.Schema { return b.schema }
