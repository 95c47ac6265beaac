// Package table implements the ordered sequence of Blocks sharing one
// schema described in spec §3/§4.2: bulk and row-wise insertion, row-id
// update/delete, and block-ordered iteration.
package table

import (
	"fmt"
	"sync"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/types"
)

// RowID identifies a row globally across a Table's blocks.
type RowID int64

// Table is an ordered sequence of Blocks sharing one schema, plus a
// block-row-offset prefix sum enabling (block_id, row_in_block) <-> RowID
// conversions (spec §3). Appends are serialized behind a single writer
// lock; readers take the lock only to snapshot the block list and offsets,
// then read blocks (which are themselves internally synchronized) lock-free
// (spec §5).
type Table struct {
	Name   string
	schema types.Schema

	capacityBytes int64

	mu      sync.RWMutex
	blocks  []*block.Block
	offsets []int64 // offsets[i] = sum of rowCount of blocks[0:i]
}

// New creates an empty Table for schema with the given per-block byte
// capacity (spec §3 default 1 MiB, overridable for tests).
func New(name string, schema types.Schema, capacityBytes int64) *Table {
	return &Table{Name: name, schema: schema, capacityBytes: capacityBytes}
}

// Schema returns the table's immutable schema.
func (t *Table) Schema() types.Schema { return t.schema }

// NumBlocks returns the number of blocks currently in the table.
func (t *Table) NumBlocks() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blocks)
}

// NumRows returns the total row count (including tombstones) across all
// blocks.
func (t *Table) NumRows() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.offsets) == 0 {
		return 0
	}
	last := t.blocks[len(t.blocks)-1]
	return t.offsets[len(t.offsets)-1] + int64(last.RowCount())
}

// lastBlockLocked returns the current last block, allocating the first one
// if the table is empty. Caller holds t.mu for write.
func (t *Table) lastBlockLocked() *block.Block {
	if len(t.blocks) == 0 {
		b := block.New(t.schema, t.capacityBytes)
		t.blocks = append(t.blocks, b)
		t.offsets = append(t.offsets, 0)
		return b
	}
	return t.blocks[len(t.blocks)-1]
}

// InsertRecord appends one row, choosing the last block if it has room or
// allocating a new one otherwise (spec §4.2). Returns the row's global id.
func (t *Table) InsertRecord(values []types.Value) (RowID, error) {
	if err := t.schema.Validate(values); err != nil {
		return 0, fmt.Errorf("table %s: %w", t.Name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	last := t.lastBlockLocked()
	rowBytes := block.RowWidth(t.schema, values)
	if !last.CanAdmit(rowBytes) {
		newOffset := t.offsets[len(t.offsets)-1] + int64(last.RowCount())
		last = block.New(t.schema, t.capacityBytes)
		t.blocks = append(t.blocks, last)
		t.offsets = append(t.offsets, newOffset)
	}

	localRow, err := last.AppendRow(values)
	if err != nil {
		return 0, err
	}
	blockOffset := t.offsets[len(t.blocks)-1]
	return RowID(blockOffset + int64(localRow)), nil
}

// InsertRecords bulk-appends many rows, splitting across newly allocated
// blocks as needed (spec §4.2's "bulk allocation when the current block
// cannot fit").
func (t *Table) InsertRecords(rows [][]types.Value) ([]RowID, error) {
	ids := make([]RowID, 0, len(rows))
	for _, r := range rows {
		id, err := t.InsertRecord(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// locate converts a global RowID to (blockIndex, localRow).
func (t *Table) locate(id RowID) (int, int, error) {
	if len(t.offsets) == 0 {
		return 0, 0, fmt.Errorf("table %s: row id %d out of range (empty table)", t.Name, id)
	}
	// offsets is increasing; find last offset <= id.
	lo, hi := 0, len(t.offsets)-1
	blockIdx := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if t.offsets[mid] <= int64(id) {
			blockIdx = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if blockIdx == -1 {
		return 0, 0, fmt.Errorf("table %s: row id %d out of range", t.Name, id)
	}
	local := int64(id) - t.offsets[blockIdx]
	if local < 0 || local >= int64(t.blocks[blockIdx].RowCount()) {
		return 0, 0, fmt.Errorf("table %s: row id %d out of range", t.Name, id)
	}
	return blockIdx, int(local), nil
}

// UpdateByRowID rewrites one cell in place (spec §4.2).
func (t *Table) UpdateByRowID(id RowID, colID int, v types.Value) error {
	t.mu.RLock()
	blockIdx, local, err := t.locate(id)
	if err != nil {
		t.mu.RUnlock()
		return err
	}
	b := t.blocks[blockIdx]
	t.mu.RUnlock()
	return b.UpdateCell(local, colID, v)
}

// ValueAt reconstructs the typed Value at a global RowID, used by the join
// operators for random-access key comparison (spec §4.7).
func (t *Table) ValueAt(id RowID, colID int) (types.Value, error) {
	t.mu.RLock()
	blockIdx, local, err := t.locate(id)
	if err != nil {
		t.mu.RUnlock()
		return types.Value{}, err
	}
	b := t.blocks[blockIdx]
	t.mu.RUnlock()
	return b.ValueAt(local, colID), nil
}

// DeleteByRowID clears the validity bit for id (spec §4.2).
func (t *Table) DeleteByRowID(id RowID) error {
	t.mu.RLock()
	blockIdx, local, err := t.locate(id)
	if err != nil {
		t.mu.RUnlock()
		return err
	}
	b := t.blocks[blockIdx]
	t.mu.RUnlock()
	return b.DeleteRow(local)
}

// ForEachBlock iterates blocks in order, calling fn(blockIndex, blockOffset, b).
func (t *Table) ForEachBlock(fn func(blockIdx int, rowOffset int64, b *block.Block) error) error {
	t.mu.RLock()
	blocks := make([]*block.Block, len(t.blocks))
	copy(blocks, t.blocks)
	offsets := make([]int64, len(t.offsets))
	copy(offsets, t.offsets)
	t.mu.RUnlock()

	for i, b := range blocks {
		if err := fn(i, offsets[i], b); err != nil {
			return err
		}
	}
	return nil
}

// BlockAt returns the block at index i and its row offset.
func (t *Table) BlockAt(i int) (*block.Block, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocks[i], t.offsets[i]
}
