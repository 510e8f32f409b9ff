package tabular

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// sniffArrowFileSchema reads an Arrow IPC File's footer schema (§4.7.1).
// Unlike CSV/TSV, the IPC File format already carries typed column
// metadata, so there's nothing to infer from a sample window.
func sniffArrowFileSchema(r readerAtSeeker) (Schema, error) {
	rdr, err := newArrowFileReader(r)
	if err != nil {
		return Schema{}, err
	}
	defer rdr.Close()
	return schemaFromArrow(rdr.Schema()), nil
}

// buildRowIndexFromArrowFile reads every record batch in the IPC File and
// transposes it into the RowIndex's row-major shape.
func buildRowIndexFromArrowFile(r readerAtSeeker, schema Schema) (*RowIndex, error) {
	rdr, err := newArrowFileReader(r)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	idx := &RowIndex{Schema: schema}
	for i := 0; i < rdr.NumRecords(); i++ {
		rec, err := rdr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("tabular: reading arrow record %d: %w", i, err)
		}
		for r := 0; r < int(rec.NumRows()); r++ {
			row := make([]oxhash.Value, len(schema.Fields))
			for c, field := range schema.Fields {
				if c >= int(rec.NumCols()) {
					row[c] = oxhash.NullValue()
					continue
				}
				row[c] = valueFromArrowAny(rec.Column(c), r, field.Type)
			}
			idx.Rows = append(idx.Rows, row)
			idx.RowHashes = append(idx.RowHashes, oxhash.HashRow(row))
		}
	}
	return idx, nil
}

func newArrowFileReader(r readerAtSeeker) (*ipc.FileReader, error) {
	if _, err := r.Seek(0, 0); err != nil {
		return nil, err
	}
	rdr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("tabular: opening arrow ipc file: %w", err)
	}
	return rdr, nil
}
