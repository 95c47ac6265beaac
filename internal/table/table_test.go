package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/types"
)

func testSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "a", Type: types.Int64},
		{Name: "b", Type: types.Int64},
	}}
}

func TestInsertRecordGrowsAcrossBlocks(t *testing.T) {
	tbl := New("t", testSchema(), 32) // tiny capacity forces multiple blocks
	var ids []RowID
	for i := 0; i < 10; i++ {
		id, err := tbl.InsertRecord([]types.Value{types.IntValue(int64(i)), types.IntValue(int64(i * 2))})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Greater(t, tbl.NumBlocks(), 1)
	require.EqualValues(t, 10, tbl.NumRows())

	for i, id := range ids {
		require.EqualValues(t, i, id)
	}
}

func TestUpdateAndDeleteByRowID(t *testing.T) {
	tbl := New("t", testSchema(), 1<<20)
	id, err := tbl.InsertRecord([]types.Value{types.IntValue(1), types.IntValue(2)})
	require.NoError(t, err)

	require.NoError(t, tbl.UpdateByRowID(id, 1, types.IntValue(99)))
	b, _ := tbl.BlockAt(0)
	require.Equal(t, int64(99), b.ValueAt(0, 1).Int)

	require.NoError(t, tbl.DeleteByRowID(id))
	require.False(t, b.Validity().Contains(0))
}

func TestValueAtResolvesAcrossBlocks(t *testing.T) {
	tbl := New("t", testSchema(), 32)
	var ids []RowID
	for i := 0; i < 10; i++ {
		id, err := tbl.InsertRecord([]types.Value{types.IntValue(int64(i)), types.IntValue(int64(i * 2))})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	v, err := tbl.ValueAt(ids[7], 1)
	require.NoError(t, err)
	require.Equal(t, int64(14), v.Int)
}

func TestSchemaMismatchRejected(t *testing.T) {
	tbl := New("t", testSchema(), 1<<20)
	_, err := tbl.InsertRecord([]types.Value{types.IntValue(1)})
	require.Error(t, err)
}

func TestForEachBlockVisitsInOrder(t *testing.T) {
	tbl := New("t", testSchema(), 24)
	for i := 0; i < 6; i++ {
		_, err := tbl.InsertRecord([]types.Value{types.IntValue(int64(i)), types.IntValue(0)})
		require.NoError(t, err)
	}
	var seen []int
	err := tbl.ForEachBlock(func(idx int, offset int64, b *block.Block) error {
		seen = append(seen, idx)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, len(seen), tbl.NumBlocks())
}
