package operator

import (
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

// RowResolver reads column values out of a terminal OperatorResult by
// pipeline row position, the shared last step every consumer of an
// OperatorResult needs (HashAggregate reading group/aggregate expression
// inputs, Project materializing the final result table). It resolves a
// ColumnReference to the bound LazyTable's schema once, then answers
// per-row reads against that table's RowIDs, translating NullRowID (an
// unmatched left-join row, spec §8 scenario 2) into a null value instead of
// a table lookup.
type RowResolver struct {
	tables map[string]*resolvedTable
	n      int
}

type resolvedTable struct {
	lt     *LazyTable
	ids    []table.RowID
	schema types.Schema
}

// NewRowResolver binds every table in result and records the pipeline's row
// count: every bound LazyTable's RowIDs share one length once joins have
// positioned them, so the first table observed determines it.
func NewRowResolver(result *OperatorResult) (*RowResolver, error) {
	if len(result.Tables) == 0 {
		return nil, herr.New(herr.KindPlanError, "row_resolver: empty operator result")
	}
	r := &RowResolver{tables: make(map[string]*resolvedTable, len(result.Tables))}
	for i, lt := range result.Tables {
		ids, err := lt.RowIDs()
		if err != nil {
			return nil, err
		}
		if i == 0 {
			r.n = len(ids)
		}
		r.tables[lt.Table.Name] = &resolvedTable{lt: lt, ids: ids, schema: lt.Table.Schema()}
	}
	return r, nil
}

// RowCount returns the number of rows flowing through the bound result.
func (r *RowResolver) RowCount() int {
	return r.n
}

// ColumnType returns the declared type of ref without reading any row.
func (r *RowResolver) ColumnType(ref ColumnReference) (types.ColumnType, error) {
	rt, idx, err := r.locate(ref)
	if err != nil {
		return 0, err
	}
	return rt.schema.Columns[idx].Type, nil
}

// Value reads ref's value at pipeline row position row.
func (r *RowResolver) Value(ref ColumnReference, row int) (types.Value, error) {
	rt, idx, err := r.locate(ref)
	if err != nil {
		return types.Value{}, err
	}
	rowID := rt.ids[row]
	if rowID == NullRowID {
		return types.NullValue(rt.schema.Columns[idx].Type), nil
	}
	return rt.lt.Table.ValueAt(rowID, idx)
}

func (r *RowResolver) locate(ref ColumnReference) (*resolvedTable, int, error) {
	rt, ok := r.tables[ref.Table]
	if !ok {
		return nil, -1, herr.New(herr.KindPlanError, "row_resolver: unbound table %q", ref.Table)
	}
	idx := rt.schema.ColumnIndex(ref.Column)
	if idx < 0 {
		return nil, -1, herr.New(herr.KindPlanError, "row_resolver: unknown column %q on table %q", ref.Column, ref.Table)
	}
	return rt, idx, nil
}
