package oracle

// ColumnRef names a column, optionally qualified by table, as it appears
// in SQL text before resolution binds it against a schema.
type ColumnRef struct {
	Table  string // empty when unqualified; the resolver infers it
	Column string
}

// CompareOp is a WHERE/ON leaf comparison operator.
type CompareOp int

const (
	CmpEQ CompareOp = iota
	CmpNE
	CmpLT
	CmpLE
	CmpGT
	CmpGE
)

// Literal is a WHERE-clause scalar as lexed, before the resolver converts
// it to a types.Value using the compared column's declared type.
type Literal struct {
	Kind  TokenType // TokenString or TokenNumber
	Value string
}

// Predicate is a node of a WHERE (or JOIN ... ON) boolean tree: a leaf
// comparison/BETWEEN, or an AND/OR/NOT connective.
type Predicate interface {
	predicateNode()
}

// Comparison is a leaf `column OP literal-or-column` predicate. Right is
// set when comparing two columns (join predicates); RightLit is set when
// comparing a column to a literal (select predicates).
type Comparison struct {
	Left     ColumnRef
	Op       CompareOp
	Right    *ColumnRef
	RightLit *Literal
}

func (*Comparison) predicateNode() {}

// BetweenPredicate is a `column BETWEEN lo AND hi` leaf.
type BetweenPredicate struct {
	Column ColumnRef
	Lo, Hi Literal
}

func (*BetweenPredicate) predicateNode() {}

// AndPredicate is a logical AND of two subtrees.
type AndPredicate struct{ Left, Right Predicate }

func (*AndPredicate) predicateNode() {}

// OrPredicate is a logical OR of two subtrees.
type OrPredicate struct{ Left, Right Predicate }

func (*OrPredicate) predicateNode() {}

// NotPredicate negates its operand. The resolver only accepts this at leaf
// position (spec §7 UnsupportedFeature: "NOT connective in a non-leaf
// position").
type NotPredicate struct{ Operand Predicate }

func (*NotPredicate) predicateNode() {}

// AggCall is an aggregate function application, SUM/COUNT/AVG over either
// a single column or an arithmetic expression of two columns — the shape
// operator.AggregateExpr supports (spec §4.8).
type AggCall struct {
	Kernel string // "SUM", "COUNT", "AVG"
	Column *ColumnRef
	BinOp  byte // '+', '-', '*', '/'; meaningful when Left/Right set
	Left   *ColumnRef
	Right  *ColumnRef
}

// SelectItem is one entry of the SELECT list: a plain column reference or
// an aggregate call, with an optional AS alias.
type SelectItem struct {
	Column *ColumnRef
	Agg    *AggCall
	Alias  string
}

// TableRef names a FROM/JOIN table, with an optional AS alias.
type TableRef struct {
	Name  string
	Alias string
}

// JoinClause is one JOIN ... ON clause.
type JoinClause struct {
	Kind  string // "INNER" or "LEFT"
	Table TableRef
	On    Predicate
}

// OrderItem is one ORDER BY entry.
type OrderItem struct {
	Column ColumnRef
	Desc   bool
}

// SelectStmt is the parsed shape of one SELECT statement.
type SelectStmt struct {
	Items   []SelectItem
	From    TableRef
	Joins   []JoinClause
	Where   Predicate
	GroupBy []ColumnRef
	OrderBy []OrderItem
}
