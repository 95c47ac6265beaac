package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/types"
)

func testSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "a", Type: types.Int64},
		{Name: "b", Type: types.VarChar, Nullable: true},
	}}
}

func TestAppendRowAndValueAt(t *testing.T) {
	b := New(testSchema(), 1<<20)
	row, err := b.AppendRow([]types.Value{types.IntValue(1), types.StringValue(types.VarChar, "x")})
	require.NoError(t, err)
	require.Equal(t, 0, row)
	require.Equal(t, int64(1), b.ValueAt(0, 0).Int)
	require.Equal(t, "x", b.ValueAt(0, 1).Str)
	require.EqualValues(t, 1, b.RowCount())
}

func TestDeleteRowClearsValidityNotData(t *testing.T) {
	b := New(testSchema(), 1<<20)
	_, _ = b.AppendRow([]types.Value{types.IntValue(1), types.StringValue(types.VarChar, "x")})
	require.NoError(t, b.DeleteRow(0))
	require.False(t, b.Validity().Contains(0))
	require.Equal(t, int64(1), b.ValueAt(0, 0).Int) // data not reclaimed
}

func TestUpdateCellRecomputesByteCount(t *testing.T) {
	b := New(testSchema(), 1<<20)
	_, _ = b.AppendRow([]types.Value{types.IntValue(1), types.StringValue(types.VarChar, "x")})
	before := b.ByteCount()
	require.NoError(t, b.UpdateCell(0, 1, types.StringValue(types.VarChar, "longer-value")))
	require.Greater(t, b.ByteCount(), before)
	require.Equal(t, "longer-value", b.ValueAt(0, 1).Str)
}

func TestCanAdmitRespectsCapacity(t *testing.T) {
	b := New(testSchema(), 16)
	require.True(t, b.CanAdmit(8))
	_, _ = b.AppendRow([]types.Value{types.IntValue(1), types.StringValue(types.VarChar, "")})
	require.False(t, b.CanAdmit(1<<10))
}

func TestSMARecomputesOnDemand(t *testing.T) {
	b := New(testSchema(), 1<<20)
	_, _ = b.AppendRow([]types.Value{types.IntValue(5), types.NullValue(types.VarChar)})
	_, _ = b.AppendRow([]types.Value{types.IntValue(1), types.NullValue(types.VarChar)})
	mm := b.SMA(0)
	require.True(t, mm.Valid)
	require.Equal(t, int64(1), mm.Int.Min)
	require.Equal(t, int64(5), mm.Int.Max)
}

func TestInt64ArrayMatchesAppendedValues(t *testing.T) {
	b := New(testSchema(), 1<<20)
	_, _ = b.AppendRow([]types.Value{types.IntValue(42), types.NullValue(types.VarChar)})
	arr := b.Int64Array(0)
	require.Equal(t, int64(42), arr.Value(0))
}
