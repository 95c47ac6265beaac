// Package operator defines the framework shared by every relational
// operator (spec §3, §4.9): ColumnReference, PredicateTree, JoinPredicate,
// LazyTable, OperatorResult, and the ExecutionPlan DAG that ties operators
// together for the scheduler.
package operator

import "github.com/hustle-db/hustle/internal/types"

// ColumnReference names a column by table and column name. Operators
// resolve these against a concrete table.Table/types.Schema at execution
// time; the reference itself is a plain value, consistent with the
// redesign note (spec §9) to model cross-references as value types rather
// than pointer webs.
type ColumnReference struct {
	Table  string
	Column string
}

// Comparator is a predicate leaf's comparison operator (spec §4.5). NOT is
// expressed by negating the comparator, never as a tree node.
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

// Negate returns the comparator that expresses NOT(c OP v) as a single
// leaf comparator where possible (EQ<->NE, LT<->GE, LE<->GT). BETWEEN has
// no single-comparator negation and is rejected by the resolver before it
// reaches a predicate tree (spec §7 UnsupportedFeature: "NOT connective in
// a non-leaf position").
func (c Comparator) Negate() (Comparator, bool) {
	switch c {
	case OpEQ:
		return OpNE, true
	case OpNE:
		return OpEQ, true
	case OpLT:
		return OpGE, true
	case OpGE:
		return OpLT, true
	case OpLE:
		return OpGT, true
	case OpGT:
		return OpLE, true
	default:
		return c, false
	}
}

// Connective joins two PredicateTree children.
type Connective int

const (
	ConnAND Connective = iota
	ConnOR
)

// PredicateTree is a leaf (column_ref, comparator, value[, value2]) or an
// internal AND/OR node with exactly two children (spec §4.5).
type PredicateTree struct {
	// Leaf fields; IsLeaf is true iff Left/Right are nil.
	Column ColumnReference
	Op     Comparator
	Value  types.Value
	Value2 types.Value // only meaningful when Op == OpBetween

	Conn        Connective
	Left, Right *PredicateTree
}

// IsLeaf reports whether this node is a predicate leaf.
func (p *PredicateTree) IsLeaf() bool {
	return p.Left == nil && p.Right == nil
}

// Leaf builds a leaf predicate node.
func Leaf(col ColumnReference, op Comparator, v types.Value) *PredicateTree {
	return &PredicateTree{Column: col, Op: op, Value: v}
}

// Between builds a BETWEEN leaf.
func Between(col ColumnReference, lo, hi types.Value) *PredicateTree {
	return &PredicateTree{Column: col, Op: OpBetween, Value: lo, Value2: hi}
}

// And builds an AND connective node.
func And(l, r *PredicateTree) *PredicateTree {
	return &PredicateTree{Conn: ConnAND, Left: l, Right: r}
}

// Or builds an OR connective node.
func Or(l, r *PredicateTree) *PredicateTree {
	return &PredicateTree{Conn: ConnOR, Left: l, Right: r}
}

// Tables returns the set of distinct table names referenced by leaves of
// the tree, used by the resolver to split a multi-table WHERE clause into
// per-table PredicateTrees for select pushdown (spec §6).
func (p *PredicateTree) Tables() []string {
	seen := map[string]bool{}
	var order []string
	var walk func(n *PredicateTree)
	walk = func(n *PredicateTree) {
		if n == nil {
			return
		}
		if n.IsLeaf() {
			if !seen[n.Column.Table] {
				seen[n.Column.Table] = true
				order = append(order, n.Column.Table)
			}
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(p)
	return order
}

// JoinPredicate is one equijoin edge L.x = R.y (spec §3, §4.7). Hustle does
// not support non-equijoin predicates in the core execution path (spec §7
// UnsupportedFeature).
type JoinPredicate struct {
	Left  ColumnReference
	Right ColumnReference
}

// JoinKind distinguishes the join output semantics the core supports: an
// inner equijoin, or a left outer join that preserves unmatched left rows
// with null right-side values (spec §8 end-to-end scenario 2). Full outer
// join remains out of scope (spec §1 Non-goals).
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)
