package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Columns: []Column{
		{Name: "a", Type: Int64, PrimaryKey: true},
		{Name: "b", Type: Int64},
		{Name: "c", Type: VarChar, Nullable: true},
	}}
}

func TestColumnIndex(t *testing.T) {
	s := testSchema()
	require.Equal(t, 1, s.ColumnIndex("b"))
	require.Equal(t, -1, s.ColumnIndex("missing"))
}

func TestPrimaryKeyIndices(t *testing.T) {
	s := testSchema()
	require.Equal(t, []int{0}, s.PrimaryKeyIndices())
}

func TestValidateColumnCountMismatch(t *testing.T) {
	s := testSchema()
	err := s.Validate([]Value{IntValue(1)})
	require.Error(t, err)
}

func TestValidateTypeMismatch(t *testing.T) {
	s := testSchema()
	err := s.Validate([]Value{IntValue(1), StringValue(VarChar, "x"), NullValue(VarChar)})
	require.Error(t, err)
}

func TestValidateNotNullRejectsNull(t *testing.T) {
	s := testSchema()
	err := s.Validate([]Value{IntValue(1), NullValue(Int64), NullValue(VarChar)})
	require.Error(t, err)
}

func TestValidateOK(t *testing.T) {
	s := testSchema()
	err := s.Validate([]Value{IntValue(1), IntValue(2), NullValue(VarChar)})
	require.NoError(t, err)
}
