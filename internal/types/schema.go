// Package types holds the logical type system shared by storage, the
// operator pipeline, and the oracle resolver: column types, schemas, and
// the typed Value used at block/row boundaries.
package types

import "fmt"

// ColumnType is Hustle's logical column type (spec §3).
type ColumnType int

const (
	// Int64 is a signed 64-bit integer column.
	Int64 ColumnType = iota
	// FixedChar is a fixed-length byte string column of Width bytes.
	FixedChar
	// VarChar is a variable-length UTF-8 string column.
	VarChar
	// Float64 never backs a stored table column; it is the type
	// HashAggregate's MEAN kernel and division results use for a
	// synthesized output row (spec §4.8).
	Float64
)

func (t ColumnType) String() string {
	switch t {
	case Int64:
		return "INT64"
	case FixedChar:
		return "CHAR"
	case VarChar:
		return "VARCHAR"
	case Float64:
		return "FLOAT64"
	default:
		return "UNKNOWN"
	}
}

// ParseColumnType parses a column type's String() form back into a
// ColumnType, used by the catalog file's JSON encoding (spec §6).
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "INT64":
		return Int64, nil
	case "CHAR":
		return FixedChar, nil
	case "VARCHAR":
		return VarChar, nil
	case "FLOAT64":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

// FixedWidth reports the on-wire width in bytes for fixed-width types, and
// -1 for variable-length types (spec §4.2's insert_record width convention).
func (t ColumnType) FixedWidth(charWidth int) int {
	switch t {
	case Int64:
		return 8
	case FixedChar:
		return charWidth
	default:
		return -1
	}
}

// Column describes one column of a Schema.
type Column struct {
	Name       string
	Type       ColumnType
	Width      int // byte length for FixedChar; ignored otherwise
	Nullable   bool
	Unique     bool
	PrimaryKey bool
}

// Schema is an ordered, immutable list of columns (spec §3). Once a table
// exists its schema never changes.
type Schema struct {
	Columns []Column
}

// ColumnIndex returns the position of the named column, or -1 if absent.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// PrimaryKeyIndices returns the positions of all primary-key columns.
func (s Schema) PrimaryKeyIndices() []int {
	var idxs []int
	for i, c := range s.Columns {
		if c.PrimaryKey {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// Validate checks a field-value slice against the schema's shape: column
// count, declared type, and NOT NULL constraints (spec §4.2 schema-mismatch
// failure semantics). It does not check uniqueness (the engine never
// enforces it, per spec §3).
func (s Schema) Validate(values []Value) error {
	if len(values) != len(s.Columns) {
		return fmt.Errorf("expected %d columns, got %d", len(s.Columns), len(values))
	}
	for i, c := range s.Columns {
		v := values[i]
		if v.Null {
			if !c.Nullable {
				return fmt.Errorf("column %q is not nullable", c.Name)
			}
			continue
		}
		if v.Type != c.Type {
			return fmt.Errorf("column %q: expected type %s, got %s", c.Name, c.Type, v.Type)
		}
	}
	return nil
}

// Value is a single typed cell, used at schema-validation and
// row-materialization boundaries; bulk, hot-path column data lives in
// Arrow arrays inside block.Block, not as a slice of Value.
type Value struct {
	Type ColumnType
	Null bool
	Int  int64
	Str  string
	Flt  float64 // meaningful only when Type == Float64
}

// NullValue returns a null Value of the given type.
func NullValue(t ColumnType) Value {
	return Value{Type: t, Null: true}
}

// IntValue returns a non-null Int64 Value.
func IntValue(v int64) Value {
	return Value{Type: Int64, Int: v}
}

// StringValue returns a non-null VarChar/FixedChar Value.
func StringValue(t ColumnType, v string) Value {
	return Value{Type: t, Str: v}
}

// FloatValue returns a non-null Float64 Value.
func FloatValue(v float64) Value {
	return Value{Type: Float64, Flt: v}
}
