package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleSelectWhereAndOrderBy(t *testing.T) {
	stmt, err := Parse("SELECT id, name AS full_name FROM customers WHERE id > 10 ORDER BY name DESC")
	require.NoError(t, err)
	require.Len(t, stmt.Items, 2)
	require.Equal(t, "id", stmt.Items[0].Column.Column)
	require.Equal(t, "full_name", stmt.Items[1].Alias)
	require.Equal(t, "customers", stmt.From.Name)

	cmp, ok := stmt.Where.(*Comparison)
	require.True(t, ok)
	require.Equal(t, "id", cmp.Left.Column)
	require.Equal(t, CmpGT, cmp.Op)
	require.Equal(t, "10", cmp.RightLit.Value)

	require.Len(t, stmt.OrderBy, 1)
	require.True(t, stmt.OrderBy[0].Desc)
}

func TestParseJoinOnAndGroupBy(t *testing.T) {
	stmt, err := Parse(`SELECT o.customer_id, SUM(o.amount) AS total
		FROM orders o
		INNER JOIN customers c ON o.customer_id = c.id
		GROUP BY o.customer_id`)
	require.NoError(t, err)
	require.Len(t, stmt.Joins, 1)
	require.Equal(t, "INNER", stmt.Joins[0].Kind)
	require.Equal(t, "customers", stmt.Joins[0].Table.Name)

	on, ok := stmt.Joins[0].On.(*Comparison)
	require.True(t, ok)
	require.Equal(t, "o", on.Left.Table)
	require.Equal(t, "c", on.Right.Table)

	require.Len(t, stmt.GroupBy, 1)
	require.Equal(t, "o", stmt.GroupBy[0].Table)

	require.NotNil(t, stmt.Items[1].Agg)
	require.Equal(t, "SUM", stmt.Items[1].Agg.Kernel)
	require.Equal(t, "total", stmt.Items[1].Alias)
}

func TestParseLeftJoinKeyword(t *testing.T) {
	stmt, err := Parse("SELECT a.x FROM a LEFT OUTER JOIN b ON a.id = b.id")
	require.NoError(t, err)
	require.Equal(t, "LEFT", stmt.Joins[0].Kind)
}

func TestParseBetweenAndBooleanConnectives(t *testing.T) {
	stmt, err := Parse("SELECT x FROM t WHERE (a BETWEEN 1 AND 5) AND NOT b = 2")
	require.NoError(t, err)
	and, ok := stmt.Where.(*AndPredicate)
	require.True(t, ok)
	_, ok = and.Left.(*BetweenPredicate)
	require.True(t, ok)
	not, ok := and.Right.(*NotPredicate)
	require.True(t, ok)
	_, ok = not.Operand.(*Comparison)
	require.True(t, ok)
}

func TestParseCountStar(t *testing.T) {
	stmt, err := Parse("SELECT COUNT(*) FROM orders")
	require.NoError(t, err)
	require.NotNil(t, stmt.Items[0].Agg)
	require.Equal(t, "COUNT", stmt.Items[0].Agg.Kernel)
	require.Nil(t, stmt.Items[0].Agg.Column)
}

func TestParseAggregateOverArithmeticExpression(t *testing.T) {
	stmt, err := Parse("SELECT AVG(a.total / a.count) AS avg_rate FROM a")
	require.NoError(t, err)
	agg := stmt.Items[0].Agg
	require.Equal(t, "AVG", agg.Kernel)
	require.Equal(t, byte('/'), agg.BinOp)
	require.Equal(t, "total", agg.Left.Column)
	require.Equal(t, "count", agg.Right.Column)
}

func TestParseRejectsMissingFrom(t *testing.T) {
	_, err := Parse("SELECT x WHERE y = 1")
	require.Error(t, err)
}
