// Package snapshot reads and writes the block file format (spec §6): a
// little-endian on-disk serialization of a table.Table's blocks, used to
// persist and restore table contents across process restarts. Import/export
// is organized the same way the teacher's bootstrap path moves a table's
// rows through a buffered reader/writer one block (there: one JSONL line)
// at a time (internal/storage/dolt/bootstrap.go), adapted from a JSONL
// text format to this spec's fixed binary layout.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/hustle-db/hustle/internal/block"
	"github.com/hustle-db/hustle/internal/herr"
	"github.com/hustle-db/hustle/internal/table"
	"github.com/hustle-db/hustle/internal/types"
)

// magic is the block file format's 8-byte header (spec §6: `HSLB\0\0\0\0`).
var magic = [8]byte{'H', 'S', 'L', 'B', 0, 0, 0, 0}

// Write serializes t to path in the block file format (spec §6).
func Write(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "snapshot: create %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := WriteTo(w, t); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "snapshot: flush %s", path)
	}
	return f.Sync()
}

// WriteTo serializes t's blocks to w, in the same on-disk layout Write
// uses, for callers that already hold an open writer (tests, in-memory
// buffers).
func WriteTo(w io.Writer, t *table.Table) error {
	if _, err := w.Write(magic[:]); err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "snapshot: write magic")
	}

	var blockOffsets []uint64
	var offset uint64 = uint64(len(magic))
	schema := t.Schema()

	err := t.ForEachBlock(func(blockIdx int, rowOffset int64, b *block.Block) error {
		body, err := encodeBlockBody(schema, b)
		if err != nil {
			return err
		}
		blockOffsets = append(blockOffsets, offset)

		var header [8]byte
		binary.LittleEndian.PutUint32(header[0:4], uint32(b.RowCount()))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(body)))
		if _, err := w.Write(header[:]); err != nil {
			return herr.Wrap(herr.KindExecutionError, err, "snapshot: write block header")
		}
		if _, err := w.Write(body); err != nil {
			return herr.Wrap(herr.KindExecutionError, err, "snapshot: write block body")
		}
		offset += uint64(len(header)) + uint64(len(body))
		return nil
	})
	if err != nil {
		return err
	}

	trailerOffset := offset
	for _, bo := range blockOffsets {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], bo)
		if _, err := w.Write(buf[:]); err != nil {
			return herr.Wrap(herr.KindExecutionError, err, "snapshot: write trailer entry")
		}
	}

	var footer [16]byte
	binary.LittleEndian.PutUint64(footer[0:8], uint64(len(blockOffsets)))
	binary.LittleEndian.PutUint64(footer[8:16], trailerOffset)
	if _, err := w.Write(footer[:]); err != nil {
		return herr.Wrap(herr.KindExecutionError, err, "snapshot: write footer")
	}
	return nil
}

// encodeBlockBody writes one block's validity bitmap plus per-column
// arrays (spec §6): fixed-width columns as `data[rc*width]`, variable-length
// columns as a `u32` offsets array followed by the concatenated bytes.
// Nullable columns round-trip as their type's zero value — the format has
// no reserved per-cell null indicator beyond the row-liveness bitmap (see
// DESIGN.md's Open Question resolution for this gap).
func encodeBlockBody(schema types.Schema, b *block.Block) ([]byte, error) {
	rc := b.RowCount()
	var body []byte

	validity := b.Validity()
	bitmapLen := (rc + 7) / 8
	bitmap := make([]byte, bitmapLen)
	for i := 0; i < rc; i++ {
		if validity.Contains(uint32(i)) {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	body = append(body, bitmap...)

	for colID, col := range schema.Columns {
		width := col.Type.FixedWidth(col.Width)
		if width >= 0 {
			buf := make([]byte, rc*width)
			for row := 0; row < rc; row++ {
				v := b.ValueAt(row, colID)
				switch col.Type {
				case types.Int64:
					var n int64
					if !v.Null {
						n = v.Int
					}
					binary.LittleEndian.PutUint64(buf[row*width:], uint64(n))
				case types.FixedChar:
					if !v.Null {
						copy(buf[row*width:(row+1)*width], v.Str)
					}
				}
			}
			body = append(body, buf...)
			continue
		}

		// Variable-length column: u32 offsets[rc+1], then the concatenated
		// row bytes.
		offsets := make([]byte, (rc+1)*4)
		var data []byte
		var cur uint32
		for row := 0; row < rc; row++ {
			binary.LittleEndian.PutUint32(offsets[row*4:], cur)
			v := b.ValueAt(row, colID)
			if !v.Null {
				data = append(data, v.Str...)
				cur += uint32(len(v.Str))
			}
		}
		binary.LittleEndian.PutUint32(offsets[rc*4:], cur)
		body = append(body, offsets...)
		body = append(body, data...)
	}
	return body, nil
}

// Read deserializes path's block file format into a new Table for schema,
// using capacityBytes for any new blocks the reconstructed table allocates.
func Read(path string, schema types.Schema, capacityBytes int64) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: open %s", path)
	}
	defer f.Close()
	return ReadFrom(f, schema, capacityBytes)
}

// ReadFrom deserializes r's block file format (r must support random
// access, to read the trailing footer before walking blocks in order).
func ReadFrom(r io.ReadSeeker, schema types.Schema, capacityBytes int64) (*table.Table, error) {
	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: read magic")
	}
	if gotMagic != magic {
		return nil, herr.New(herr.KindExecutionError, "snapshot: bad magic %v", gotMagic)
	}

	if _, err := r.Seek(-16, io.SeekEnd); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: seek footer")
	}
	var footer [16]byte
	if _, err := io.ReadFull(r, footer[:]); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: read footer")
	}
	blockCount := binary.LittleEndian.Uint64(footer[0:8])
	trailerOffset := binary.LittleEndian.Uint64(footer[8:16])

	if _, err := r.Seek(int64(trailerOffset), io.SeekStart); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: seek trailer")
	}
	blockOffsets := make([]uint64, blockCount)
	for i := range blockOffsets {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: read trailer entry")
		}
		blockOffsets[i] = binary.LittleEndian.Uint64(buf[:])
	}

	t := table.New("", schema, capacityBytes)
	for _, bo := range blockOffsets {
		if _, err := r.Seek(int64(bo), io.SeekStart); err != nil {
			return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: seek block")
		}
		rows, err := decodeBlock(r, schema)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row == nil {
				continue // tombstoned row: not reinserted
			}
			if _, err := t.InsertRecord(row); err != nil {
				return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: reinsert row")
			}
		}
	}
	return t, nil
}

// decodeBlock reads one block's header+body and reconstructs its rows.
// A nil entry marks a tombstoned (not-live) row, dropped by the caller.
func decodeBlock(r io.Reader, schema types.Schema) ([][]types.Value, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: read block header")
	}
	rc := int(binary.LittleEndian.Uint32(header[0:4]))
	byteCount := int(binary.LittleEndian.Uint32(header[4:8]))

	body := make([]byte, byteCount)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, herr.Wrap(herr.KindExecutionError, err, "snapshot: read block body")
	}

	bitmapLen := (rc + 7) / 8
	if len(body) < bitmapLen {
		return nil, herr.New(herr.KindExecutionError, "snapshot: block body truncated before validity bitmap")
	}
	bitmap := body[:bitmapLen]
	pos := bitmapLen

	rows := make([][]types.Value, rc)
	live := make([]bool, rc)
	for i := 0; i < rc; i++ {
		live[i] = bitmap[i/8]&(1<<uint(i%8)) != 0
	}
	for i := range rows {
		if live[i] {
			rows[i] = make([]types.Value, len(schema.Columns))
		}
	}

	for colID, col := range schema.Columns {
		width := col.Type.FixedWidth(col.Width)
		if width >= 0 {
			need := rc * width
			if pos+need > len(body) {
				return nil, herr.New(herr.KindExecutionError, "snapshot: block body truncated in column %q", col.Name)
			}
			chunk := body[pos : pos+need]
			pos += need
			for row := 0; row < rc; row++ {
				if !live[row] {
					continue
				}
				cell := chunk[row*width : (row+1)*width]
				switch col.Type {
				case types.Int64:
					rows[row][colID] = types.IntValue(int64(binary.LittleEndian.Uint64(cell)))
				case types.FixedChar:
					rows[row][colID] = types.StringValue(types.FixedChar, trimTrailingZeros(cell))
				}
			}
			continue
		}

		offsetsLen := (rc + 1) * 4
		if pos+offsetsLen > len(body) {
			return nil, herr.New(herr.KindExecutionError, "snapshot: block body truncated in column %q offsets", col.Name)
		}
		offsets := make([]uint32, rc+1)
		for i := range offsets {
			offsets[i] = binary.LittleEndian.Uint32(body[pos+i*4:])
		}
		pos += offsetsLen

		dataLen := int(offsets[rc])
		if pos+dataLen > len(body) {
			return nil, herr.New(herr.KindExecutionError, "snapshot: block body truncated in column %q data", col.Name)
		}
		data := body[pos : pos+dataLen]
		pos += dataLen

		for row := 0; row < rc; row++ {
			if !live[row] {
				continue
			}
			s := string(data[offsets[row]:offsets[row+1]])
			rows[row][colID] = types.StringValue(types.VarChar, s)
		}
	}

	return rows, nil
}

func trimTrailingZeros(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}
