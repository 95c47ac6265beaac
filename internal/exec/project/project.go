// Package project materializes a terminal OperatorResult or HashAggregate
// result into the result_table the public execute_query API returns (spec
// §4.2, §6, §4.9): a typed, row-major table whose column names come from
// SELECT aliases when present. It is a thin adapter over whatever produced
// the final pipeline stage, the same shape as the teacher's
// StorageProvider adapting one interface onto another.
package project

import (
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/types"
)

// Ref is one projected output column: a source column plus an optional
// alias (spec §6: "column names come from aliases when present").
type Ref struct {
	Column operator.ColumnReference
	Alias  string
}

func (r Ref) name() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Column.Column
}

// ResultTable is the materialized, row-major output of execute_query: a
// fixed set of named, typed columns and the rows beneath them.
type ResultTable struct {
	Columns []ResultColumn
	Rows    [][]types.Value
}

// ResultColumn names and types one ResultTable column.
type ResultColumn struct {
	Name string
	Type types.ColumnType
}

// RowCount returns the number of materialized rows.
func (rt *ResultTable) RowCount() int {
	return len(rt.Rows)
}

// Project materializes refs against result, the pre-aggregation path
// (spec §4.9: the terminal OperatorResult feeds the projection step
// directly when the query has no GROUP BY/aggregate).
func Project(result *operator.OperatorResult, refs []Ref) (*ResultTable, error) {
	if len(refs) == 0 {
		return nil, herr.New(herr.KindPlanError, "project: no projected columns")
	}
	resolve, err := operator.NewRowResolver(result)
	if err != nil {
		return nil, err
	}

	cols := make([]ResultColumn, len(refs))
	for i, r := range refs {
		t, err := resolve.ColumnType(r.Column)
		if err != nil {
			return nil, err
		}
		cols[i] = ResultColumn{Name: r.name(), Type: t}
	}

	n := resolve.RowCount()
	rows := make([][]types.Value, n)
	for row := 0; row < n; row++ {
		out := make([]types.Value, len(refs))
		for i, r := range refs {
			v, err := resolve.Value(r.Column, row)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		rows[row] = out
	}

	return &ResultTable{Columns: cols, Rows: rows}, nil
}

// aggregateResult is the minimal view of aggregate.Result this package
// needs. HashAggregate's concrete types live in internal/exec/aggregate;
// the aggregation path reads them through this small structural interface
// instead of importing that package.
type aggregateResult interface {
	GroupRefs() []operator.ColumnReference
	AggRefs() []operator.AggregateRef
	RowCount() int
	GroupValue(row, col int) types.Value
	AggValue(row, col int) types.Value
}

// AggRef names one output column sourced from an aggregate result: either
// one of its group-by columns (by table/column) or one of its aggregate
// columns (by alias).
type AggRef struct {
	GroupColumn *operator.ColumnReference
	AggAlias    string
	Alias       string
}

func (r AggRef) name() string {
	if r.Alias != "" {
		return r.Alias
	}
	if r.GroupColumn != nil {
		return r.GroupColumn.Column
	}
	return r.AggAlias
}

// ProjectAggregate materializes refs against an aggregated result (spec
// §4.9: the projection step runs after HashAggregate when the query has a
// GROUP BY/aggregate).
func ProjectAggregate(result aggregateResult, refs []AggRef) (*ResultTable, error) {
	if len(refs) == 0 {
		return nil, herr.New(herr.KindPlanError, "project: no projected columns")
	}
	groupIdx := make(map[operator.ColumnReference]int, len(result.GroupRefs()))
	for i, g := range result.GroupRefs() {
		groupIdx[g] = i
	}
	aggIdx := make(map[string]int, len(result.AggRefs()))
	for i, a := range result.AggRefs() {
		aggIdx[a.Alias] = i
	}

	type resolved struct {
		isGroup bool
		idx     int
		typ     types.ColumnType
	}
	plans := make([]resolved, len(refs))
	cols := make([]ResultColumn, len(refs))
	for i, r := range refs {
		if r.GroupColumn != nil {
			idx, ok := groupIdx[*r.GroupColumn]
			if !ok {
				return nil, herr.New(herr.KindPlanError, "project: unknown group-by column %q.%q", r.GroupColumn.Table, r.GroupColumn.Column)
			}
			plans[i] = resolved{isGroup: true, idx: idx}
		} else {
			idx, ok := aggIdx[r.AggAlias]
			if !ok {
				return nil, herr.New(herr.KindPlanError, "project: unknown aggregate alias %q", r.AggAlias)
			}
			plans[i] = resolved{isGroup: false, idx: idx}
		}
		cols[i] = ResultColumn{Name: r.name()}
	}

	n := result.RowCount()
	rows := make([][]types.Value, n)
	for row := 0; row < n; row++ {
		out := make([]types.Value, len(refs))
		for i, p := range plans {
			if p.isGroup {
				out[i] = result.GroupValue(row, p.idx)
			} else {
				out[i] = result.AggValue(row, p.idx)
			}
		}
		rows[row] = out
	}
	for i := range cols {
		if n > 0 {
			cols[i].Type = rows[0][i].Type
		}
	}

	return &ResultTable{Columns: cols, Rows: rows}, nil
}
