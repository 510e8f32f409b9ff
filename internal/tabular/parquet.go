package tabular

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// sniffParquetSchema reads a Parquet file's footer-embedded schema (§4.7.1).
// Parquet carries exact column types, so there's no sampling window to
// apply; widenArrowType collapses them to this package's four logical
// types the same way CSV/TSV sniffing does.
func sniffParquetSchema(r readerAtSeeker) (Schema, error) {
	rdr, err := newParquetArrowReader(r)
	if err != nil {
		return Schema{}, err
	}
	schema, err := rdr.Schema()
	if err != nil {
		return Schema{}, fmt.Errorf("tabular: reading parquet schema: %w", err)
	}
	return schemaFromArrow(schema), nil
}

// buildRowIndexFromParquet reads every row group and transposes the
// resulting Arrow table into the RowIndex's row-major shape.
func buildRowIndexFromParquet(r readerAtSeeker, schema Schema) (*RowIndex, error) {
	rdr, err := newParquetArrowReader(r)
	if err != nil {
		return nil, err
	}
	table, err := rdr.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("tabular: reading parquet table: %w", err)
	}
	defer table.Release()

	return rowIndexFromTable(table, schema)
}

func newParquetArrowReader(r readerAtSeeker) (*pqarrow.FileReader, error) {
	pf, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("tabular: opening parquet file: %w", err)
	}
	rdr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, fmt.Errorf("tabular: opening parquet arrow reader: %w", err)
	}
	return rdr, nil
}

// rowIndexFromTable transposes an Arrow table (as produced by the Parquet
// reader) into row-major Values. The Arrow IPC path in arrowfile.go reads
// record batches directly and does not go through this function.
func rowIndexFromTable(table arrow.Table, schema Schema) (*RowIndex, error) {
	idx := &RowIndex{Schema: schema}

	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
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
