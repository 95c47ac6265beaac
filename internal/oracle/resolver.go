package oracle

import (
	"strconv"

	"github.com/hustle-db/hustle/internal/exec/project"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/operator"
	"github.com/hustle-db/hustle/internal/types"
)

// Plan is the resolver's output (spec §6): the consumer-ready shape
// internal/engine feeds directly into the operator pipeline — per-table
// PredicateTrees for select pushdown, the join edges, group-by/order-by
// references, the projected output columns, and zero-or-one aggregate
// reference.
type Plan struct {
	Tables      []string
	Predicates  map[string]*operator.PredicateTree
	Joins       []JoinEdge
	GroupBy     []operator.ColumnReference
	OrderBy     []operator.OrderByRef
	Aggregate   *operator.AggregateRef
	Projected   []project.Ref
	ProjectedAgg []project.AggRef
}

// HasAggregate reports whether the query groups or aggregates, which
// selects the post-aggregation projection path (spec §4.9).
func (p *Plan) HasAggregate() bool {
	return p.Aggregate != nil || len(p.GroupBy) > 0
}

// JoinEdge is one resolved join: the equijoin predicate plus its kind
// (operator.JoinPredicate alone does not carry INNER/LEFT).
type JoinEdge struct {
	Predicate operator.JoinPredicate
	Kind      operator.JoinKind
}

type tableBinding struct {
	real   string
	schema types.Schema
}

// Resolve binds stmt's table/column references against schemas (keyed by
// real table name) and produces a Plan. schemas must contain every table
// named in stmt's FROM/JOIN clauses.
func Resolve(stmt *SelectStmt, schemas map[string]types.Schema) (*Plan, error) {
	bindings := map[string]tableBinding{}
	var tableOrder []string
	bind := func(ref TableRef) error {
		schema, ok := schemas[ref.Name]
		if !ok {
			return herr.New(herr.KindPlanError, "unknown table %q", ref.Name)
		}
		b := tableBinding{real: ref.Name, schema: schema}
		bindings[ref.Name] = b
		if ref.Alias != "" {
			bindings[ref.Alias] = b
		}
		tableOrder = append(tableOrder, ref.Name)
		return nil
	}
	if err := bind(stmt.From); err != nil {
		return nil, err
	}
	for _, j := range stmt.Joins {
		if err := bind(j.Table); err != nil {
			return nil, err
		}
	}

	resolveCol := func(c ColumnRef) (operator.ColumnReference, error) {
		if c.Table != "" {
			b, ok := bindings[c.Table]
			if !ok {
				return operator.ColumnReference{}, herr.New(herr.KindPlanError, "unknown table %q", c.Table)
			}
			if b.schema.ColumnIndex(c.Column) < 0 {
				return operator.ColumnReference{}, herr.New(herr.KindPlanError, "unknown column %q on table %q", c.Column, b.real)
			}
			return operator.ColumnReference{Table: b.real, Column: c.Column}, nil
		}
		// Unqualified: resolve against whichever bound table declares it,
		// requiring the match to be unique.
		var found *operator.ColumnReference
		for _, name := range tableOrder {
			schema := bindings[name].schema
			if schema.ColumnIndex(c.Column) >= 0 {
				if found != nil {
					return operator.ColumnReference{}, herr.New(herr.KindPlanError, "ambiguous column %q", c.Column)
				}
				ref := operator.ColumnReference{Table: name, Column: c.Column}
				found = &ref
			}
		}
		if found == nil {
			return operator.ColumnReference{}, herr.New(herr.KindPlanError, "unknown column %q", c.Column)
		}
		return *found, nil
	}

	plan := &Plan{
		Tables:     tableOrder,
		Predicates: make(map[string]*operator.PredicateTree, len(tableOrder)),
	}

	// JOIN ... ON clauses: each must resolve to a single equijoin edge
	// between the new table and an already-bound one.
	for _, j := range stmt.Joins {
		edge, err := resolveJoinOn(j.On, resolveCol)
		if err != nil {
			return nil, err
		}
		kind := operator.JoinInner
		if j.Kind == "LEFT" {
			kind = operator.JoinLeft
		}
		plan.Joins = append(plan.Joins, JoinEdge{Predicate: edge, Kind: kind})
	}

	colType := func(col operator.ColumnReference) (types.ColumnType, error) {
		b, ok := bindings[col.Table]
		if !ok {
			return 0, herr.New(herr.KindPlanError, "unknown table %q", col.Table)
		}
		idx := b.schema.ColumnIndex(col.Column)
		if idx < 0 {
			return 0, herr.New(herr.KindPlanError, "unknown column %q on table %q", col.Column, col.Table)
		}
		return b.schema.Columns[idx].Type, nil
	}

	if stmt.Where != nil {
		conjuncts := flattenAnd(stmt.Where)
		for _, c := range conjuncts {
			if edge, isJoin, err := asJoinEquality(c, resolveCol); err != nil {
				return nil, err
			} else if isJoin {
				plan.Joins = append(plan.Joins, JoinEdge{Predicate: edge, Kind: operator.JoinInner})
				continue
			}
			tbl, err := singleTable(c, resolveCol)
			if err != nil {
				return nil, err
			}
			tree, err := buildPredicateTree(c, resolveCol, colType)
			if err != nil {
				return nil, err
			}
			if existing, ok := plan.Predicates[tbl]; ok {
				plan.Predicates[tbl] = operator.And(existing, tree)
			} else {
				plan.Predicates[tbl] = tree
			}
		}
	}

	for _, c := range stmt.GroupBy {
		ref, err := resolveCol(c)
		if err != nil {
			return nil, err
		}
		plan.GroupBy = append(plan.GroupBy, ref)
	}

	aggCount := 0
	for _, item := range stmt.Items {
		if item.Agg != nil {
			aggCount++
		}
	}
	if aggCount > 1 {
		return nil, herr.New(herr.KindUnsupportedFeature, "more than one aggregate reference in a single query")
	}
	hasAggregate := aggCount == 1 || len(plan.GroupBy) > 0

	if hasAggregate {
		for _, item := range stmt.Items {
			if item.Agg != nil {
				ref, err := resolveAgg(item, resolveCol, bindings, tableOrder)
				if err != nil {
					return nil, err
				}
				plan.Aggregate = ref
				plan.ProjectedAgg = append(plan.ProjectedAgg, project.AggRef{AggAlias: ref.Alias, Alias: item.Alias})
				continue
			}
			col, err := resolveCol(*item.Column)
			if err != nil {
				return nil, err
			}
			plan.ProjectedAgg = append(plan.ProjectedAgg, project.AggRef{GroupColumn: &col, Alias: item.Alias})
		}
	} else {
		for _, item := range stmt.Items {
			col, err := resolveCol(*item.Column)
			if err != nil {
				return nil, err
			}
			plan.Projected = append(plan.Projected, project.Ref{Column: col, Alias: item.Alias})
		}
	}

	// ORDER BY may name either a real column (resolved normally) or, when
	// the query aggregates, the aggregate's output alias — which is not a
	// schema column at all, so it is matched by name instead of resolved.
	for _, o := range stmt.OrderBy {
		if o.Column.Table == "" && plan.Aggregate != nil && o.Column.Column == plan.Aggregate.Alias {
			plan.OrderBy = append(plan.OrderBy, operator.OrderByRef{Column: operator.ColumnReference{Column: o.Column.Column}, Desc: o.Desc})
			continue
		}
		ref, err := resolveCol(o.Column)
		if err != nil {
			return nil, err
		}
		plan.OrderBy = append(plan.OrderBy, operator.OrderByRef{Column: ref, Desc: o.Desc})
	}

	return plan, nil
}

func resolveAgg(item SelectItem, resolveCol func(ColumnRef) (operator.ColumnReference, error), bindings map[string]tableBinding, tableOrder []string) (*operator.AggregateRef, error) {
	agg := item.Agg
	var kernel operator.AggregateKernel
	switch agg.Kernel {
	case "SUM":
		kernel = operator.AggSum
	case "COUNT":
		kernel = operator.AggCount
	case "AVG":
		kernel = operator.AggMean
	default:
		return nil, herr.New(herr.KindUnsupportedFeature, "unknown aggregate function %q", agg.Kernel)
	}

	var expr operator.AggregateExpr
	switch {
	case agg.Left != nil && agg.Right != nil:
		left, err := resolveCol(*agg.Left)
		if err != nil {
			return nil, err
		}
		right, err := resolveCol(*agg.Right)
		if err != nil {
			return nil, err
		}
		op, err := arithOpFromByte(agg.BinOp)
		if err != nil {
			return nil, err
		}
		expr = operator.BinaryExpr(op, left, right)
	case agg.Column != nil:
		col, err := resolveCol(*agg.Column)
		if err != nil {
			return nil, err
		}
		expr = operator.ColumnExpr(col)
	default:
		// COUNT(*): count every row via the FROM table's first column.
		first := tableOrder[0]
		schema := bindings[first].schema
		if len(schema.Columns) == 0 {
			return nil, herr.New(herr.KindPlanError, "COUNT(*) on table %q with no columns", first)
		}
		expr = operator.ColumnExpr(operator.ColumnReference{Table: first, Column: schema.Columns[0].Name})
	}

	alias := item.Alias
	if alias == "" {
		alias = defaultAggAlias(agg)
	}
	return &operator.AggregateRef{Kernel: kernel, Expr: expr, Alias: alias}, nil
}

func defaultAggAlias(agg *AggCall) string {
	switch {
	case agg.Left != nil && agg.Right != nil:
		return agg.Kernel + "(" + agg.Left.Column + string(agg.BinOp) + agg.Right.Column + ")"
	case agg.Column != nil:
		return agg.Kernel + "(" + agg.Column.Column + ")"
	default:
		return agg.Kernel + "(*)"
	}
}

func arithOpFromByte(b byte) (operator.ArithOp, error) {
	switch b {
	case '+':
		return operator.ArithAdd, nil
	case '-':
		return operator.ArithSub, nil
	case '*':
		return operator.ArithMul, nil
	case '/':
		return operator.ArithDiv, nil
	default:
		return 0, herr.New(herr.KindInternal, "oracle: unknown arithmetic operator %q", b)
	}
}

// flattenAnd splits a predicate at its top-level AND boundaries, leaving
// OR/NOT/BETWEEN/comparison subtrees intact — the resolver pushes each
// conjunct down as far as it can (one table's PredicateTree, or a join
// edge) independently (spec §6's per-table pushdown map).
func flattenAnd(p Predicate) []Predicate {
	if and, ok := p.(*AndPredicate); ok {
		return append(flattenAnd(and.Left), flattenAnd(and.Right)...)
	}
	return []Predicate{p}
}

// asJoinEquality reports whether c is exactly `a.x = b.y` across two
// different tables, the shape WHERE-clause join predicates take.
func asJoinEquality(p Predicate, resolveCol func(ColumnRef) (operator.ColumnReference, error)) (operator.JoinPredicate, bool, error) {
	cmp, ok := p.(*Comparison)
	if !ok || cmp.Right == nil {
		return operator.JoinPredicate{}, false, nil
	}
	left, err := resolveCol(cmp.Left)
	if err != nil {
		return operator.JoinPredicate{}, false, err
	}
	right, err := resolveCol(*cmp.Right)
	if err != nil {
		return operator.JoinPredicate{}, false, err
	}
	if left.Table == right.Table {
		return operator.JoinPredicate{}, false, nil
	}
	if cmp.Op != CmpEQ {
		return operator.JoinPredicate{}, false, herr.New(herr.KindUnsupportedFeature, "non-equijoin predicate between %q and %q", left.Table, right.Table)
	}
	return operator.JoinPredicate{Left: left, Right: right}, true, nil
}

// resolveJoinOn resolves a JOIN ... ON clause, which must be a single
// equijoin comparison (spec §7 UnsupportedFeature: "non-equijoin
// predicate").
func resolveJoinOn(p Predicate, resolveCol func(ColumnRef) (operator.ColumnReference, error)) (operator.JoinPredicate, error) {
	edge, isJoin, err := asJoinEquality(p, resolveCol)
	if err != nil {
		return operator.JoinPredicate{}, err
	}
	if !isJoin {
		return operator.JoinPredicate{}, herr.New(herr.KindUnsupportedFeature, "JOIN ... ON must be a single equijoin predicate")
	}
	return edge, nil
}

// singleTable returns the one table a WHERE conjunct refers to, rejecting
// conjuncts that mix tables outside the two-column-equality shape
// asJoinEquality already handles.
func singleTable(p Predicate, resolveCol func(ColumnRef) (operator.ColumnReference, error)) (string, error) {
	tables := map[string]bool{}
	var walk func(p Predicate) error
	walk = func(p Predicate) error {
		switch n := p.(type) {
		case *Comparison:
			left, err := resolveCol(n.Left)
			if err != nil {
				return err
			}
			tables[left.Table] = true
			if n.Right != nil {
				right, err := resolveCol(*n.Right)
				if err != nil {
					return err
				}
				tables[right.Table] = true
			}
		case *BetweenPredicate:
			ref, err := resolveCol(n.Column)
			if err != nil {
				return err
			}
			tables[ref.Table] = true
		case *AndPredicate:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)
		case *OrPredicate:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)
		case *NotPredicate:
			return walk(n.Operand)
		}
		return nil
	}
	if err := walk(p); err != nil {
		return "", err
	}
	if len(tables) != 1 {
		return "", herr.New(herr.KindUnsupportedFeature, "predicate references more than one table outside a simple equijoin")
	}
	for t := range tables {
		return t, nil
	}
	return "", herr.New(herr.KindInternal, "oracle: empty predicate table set")
}

// buildPredicateTree converts a single-table Predicate subtree into an
// operator.PredicateTree, resolving each leaf's literal via colType and
// rejecting NOT at any non-leaf position (spec §7 UnsupportedFeature).
func buildPredicateTree(p Predicate, resolveCol func(ColumnRef) (operator.ColumnReference, error), colType func(operator.ColumnReference) (types.ColumnType, error)) (*operator.PredicateTree, error) {
	switch n := p.(type) {
	case *Comparison:
		if n.RightLit == nil {
			return nil, herr.New(herr.KindUnsupportedFeature, "column-to-column comparison within a single table")
		}
		col, err := resolveCol(n.Left)
		if err != nil {
			return nil, err
		}
		ct, err := colType(col)
		if err != nil {
			return nil, err
		}
		val, err := literalValue(*n.RightLit, ct)
		if err != nil {
			return nil, err
		}
		return operator.Leaf(col, compareOpToComparator(n.Op), val), nil
	case *BetweenPredicate:
		col, err := resolveCol(n.Column)
		if err != nil {
			return nil, err
		}
		ct, err := colType(col)
		if err != nil {
			return nil, err
		}
		lo, err := literalValue(n.Lo, ct)
		if err != nil {
			return nil, err
		}
		hi, err := literalValue(n.Hi, ct)
		if err != nil {
			return nil, err
		}
		return operator.Between(col, lo, hi), nil
	case *AndPredicate:
		left, err := buildPredicateTree(n.Left, resolveCol, colType)
		if err != nil {
			return nil, err
		}
		right, err := buildPredicateTree(n.Right, resolveCol, colType)
		if err != nil {
			return nil, err
		}
		return operator.And(left, right), nil
	case *OrPredicate:
		left, err := buildPredicateTree(n.Left, resolveCol, colType)
		if err != nil {
			return nil, err
		}
		right, err := buildPredicateTree(n.Right, resolveCol, colType)
		if err != nil {
			return nil, err
		}
		return operator.Or(left, right), nil
	case *NotPredicate:
		cmp, ok := n.Operand.(*Comparison)
		if !ok {
			return nil, herr.New(herr.KindUnsupportedFeature, "NOT connective in a non-leaf position")
		}
		negated, ok := compareOpToComparator(cmp.Op).Negate()
		if !ok {
			return nil, herr.New(herr.KindUnsupportedFeature, "NOT over a comparator with no single-leaf negation")
		}
		if cmp.RightLit == nil {
			return nil, herr.New(herr.KindUnsupportedFeature, "column-to-column comparison within a single table")
		}
		col, err := resolveCol(cmp.Left)
		if err != nil {
			return nil, err
		}
		ct, err := colType(col)
		if err != nil {
			return nil, err
		}
		val, err := literalValue(*cmp.RightLit, ct)
		if err != nil {
			return nil, err
		}
		return operator.Leaf(col, negated, val), nil
	default:
		return nil, herr.New(herr.KindInternal, "oracle: unknown predicate node %T", p)
	}
}

func compareOpToComparator(op CompareOp) operator.Comparator {
	switch op {
	case CmpEQ:
		return operator.OpEQ
	case CmpNE:
		return operator.OpNE
	case CmpLT:
		return operator.OpLT
	case CmpLE:
		return operator.OpLE
	case CmpGT:
		return operator.OpGT
	case CmpGE:
		return operator.OpGE
	default:
		return operator.OpEQ
	}
}

func literalValue(lit Literal, ct types.ColumnType) (types.Value, error) {
	switch ct {
	case types.Int64:
		n, err := strconv.ParseInt(lit.Value, 10, 64)
		if err != nil {
			return types.Value{}, herr.New(herr.KindPlanError, "literal %q is not a valid INT64", lit.Value)
		}
		return types.IntValue(n), nil
	case types.FixedChar, types.VarChar:
		return types.StringValue(ct, lit.Value), nil
	default:
		return types.Value{}, herr.New(herr.KindPlanError, "unsupported literal column type %v", ct)
	}
}
