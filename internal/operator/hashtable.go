package operator

import (
	"sync"

	"github.com/hustle-db/hustle/internal/bloom"
	"github.com/hustle-db/hustle/internal/types"
)

// JoinKeyHash projects a join-key Value down to the int64 domain a
// HashTable is keyed by: integers pass through unchanged; strings hash via
// bloom.HashString. Because distinct strings can collide in this domain,
// callers must re-compare the actual Values on a hit (spec §4.7: "Hash
// collisions are resolved by key comparison").
func JoinKeyHash(v types.Value) int64 {
	if v.Type == types.Int64 {
		return v.Int
	}
	return int64(bloom.HashString(v.Str))
}

// RowRef packs a (chunk_id, row_in_chunk) pair into 32+32 bits (spec §3's
// HashTable value representation). "Chunk" here is a block index.
type RowRef uint64

// PackRowRef builds a RowRef from a block index and a local row index.
func PackRowRef(chunkID, rowInChunk uint32) RowRef {
	return RowRef(uint64(chunkID)<<32 | uint64(rowInChunk))
}

// ChunkID returns the block index component.
func (r RowRef) ChunkID() uint32 { return uint32(r >> 32) }

// RowInChunk returns the local row index component.
func (r RowRef) RowInChunk() uint32 { return uint32(r) }

// HashTable is keyed by the integer-cast join key; values are RowRef lists
// (spec §3). If Unique is set, only the first entry per key is retained
// (build-side declared unique); otherwise entries chain in insertion order.
type HashTable struct {
	mu     sync.RWMutex
	Unique bool
	rows   map[int64][]RowRef
}

// NewHashTable creates an empty HashTable.
func NewHashTable(unique bool) *HashTable {
	return &HashTable{Unique: unique, rows: make(map[int64][]RowRef)}
}

// Insert adds one (key, ref) pair. Null keys must never be inserted (spec
// §4.7: "Null keys never match") — callers filter nulls before calling.
func (h *HashTable) Insert(key int64, ref RowRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Unique {
		if _, ok := h.rows[key]; ok {
			return
		}
		h.rows[key] = []RowRef{ref}
		return
	}
	h.rows[key] = append(h.rows[key], ref)
}

// Lookup returns all RowRefs for key, or nil if absent.
func (h *HashTable) Lookup(key int64) []RowRef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	refs := h.rows[key]
	if refs == nil {
		return nil
	}
	out := make([]RowRef, len(refs))
	copy(out, refs)
	return out
}

// Len returns the number of distinct keys.
func (h *HashTable) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rows)
}
