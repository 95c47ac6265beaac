// Package sma implements the small-materialized-aggregate column metadata
// (spec §4.3): a per-column-per-block (min, max) used by Select to skip
// blocks whose range cannot satisfy a predicate.
package sma

import (
	"github.com/apache/arrow/go/arrow/array"

	"github.com/hustle-db/hustle/internal/types"
)

// MinMax is the SMA entry for one column of one block. Valid is false when
// the entry hasn't been computed yet or has been invalidated by a mutation;
// a block with an invalid SMA must be treated as "might contain any value"
// (spec §4.3).
type MinMax struct {
	Valid bool
	Int   struct{ Min, Max int64 }
	Str   struct{ Min, Max string }
}

// ComputeInt64 scans a live Int64 array (skipping rows where validity is
// false) and returns the (min, max) SMA entry.
func ComputeInt64(col *array.Int64, live func(row int) bool) MinMax {
	mm := MinMax{}
	first := true
	for i := 0; i < col.Len(); i++ {
		if !live(i) || col.IsNull(i) {
			continue
		}
		v := col.Value(i)
		if first {
			mm.Int.Min, mm.Int.Max = v, v
			first = false
			continue
		}
		if v < mm.Int.Min {
			mm.Int.Min = v
		}
		if v > mm.Int.Max {
			mm.Int.Max = v
		}
	}
	mm.Valid = !first
	return mm
}

// ComputeString scans a live string-backed array (VarChar or FixedChar) and
// returns the lexicographic (min, max) SMA entry.
func ComputeString(n int, valueAt func(row int) (string, bool), live func(row int) bool) MinMax {
	mm := MinMax{}
	first := true
	for i := 0; i < n; i++ {
		if !live(i) {
			continue
		}
		v, ok := valueAt(i)
		if !ok {
			continue
		}
		if first {
			mm.Str.Min, mm.Str.Max = v, v
			first = false
			continue
		}
		if v < mm.Str.Min {
			mm.Str.Min = v
		}
		if v > mm.Str.Max {
			mm.Str.Max = v
		}
	}
	mm.Valid = !first
	return mm
}

// MayContainInt reports whether an Int64 column's range could possibly
// satisfy `col OP v` (and, for BETWEEN, `v2`). An invalid SMA always
// answers true (no skip).
func (mm MinMax) MayContainInt(op Comparator, v, v2 int64) bool {
	if !mm.Valid {
		return true
	}
	lo, hi := mm.Int.Min, mm.Int.Max
	switch op {
	case OpEQ:
		return v >= lo && v <= hi
	case OpNE:
		return !(lo == hi && lo == v)
	case OpLT:
		return lo < v
	case OpLE:
		return lo <= v
	case OpGT:
		return hi > v
	case OpGE:
		return hi >= v
	case OpBetween:
		return hi >= v && lo <= v2
	default:
		return true
	}
}

// MayContainString is the string analogue of MayContainInt.
func (mm MinMax) MayContainString(op Comparator, v, v2 string) bool {
	if !mm.Valid {
		return true
	}
	lo, hi := mm.Str.Min, mm.Str.Max
	switch op {
	case OpEQ:
		return v >= lo && v <= hi
	case OpNE:
		return !(lo == hi && lo == v)
	case OpLT:
		return lo < v
	case OpLE:
		return lo <= v
	case OpGT:
		return hi > v
	case OpGE:
		return hi >= v
	case OpBetween:
		return hi >= v && lo <= v2
	default:
		return true
	}
}

// Comparator mirrors the predicate comparator set used in the block
// metadata skip check (spec §4.5). Defined here (rather than imported from
// operator) to avoid a dependency cycle; operator.Comparator shares the
// same underlying values.
type Comparator int

const (
	OpEQ Comparator = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpBetween
)

// ColumnTypeOf is a small helper so callers don't need to import types just
// to discriminate int vs string SMA computation.
func ColumnTypeOf(t types.ColumnType) bool {
	return t == types.Int64
}
