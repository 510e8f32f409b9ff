package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// RowHashColumn and RowNumColumn are the two synthetic columns every
// RowIndex carries alongside the declared schema (§3.3).
const (
	RowHashColumn = "_row_hash"
	RowNumColumn  = "_row_num"
)

// RowIndex is the columnar artifact materialized for every committed
// tabular file: the original columns plus _row_hash and _row_num (§3.3).
// Rows is kept in memory in row-major form (each entry one row's declared
// columns, in schema order) because the diff and DataFrame operations in
// §4.7.3/§4.7.4 are far simpler to express row-wise; ToArrow/FromArrow
// convert to/from the Arrow columnar shape only at the storage boundary.
type RowIndex struct {
	Schema    Schema
	Rows      [][]oxhash.Value
	RowHashes []oxhash.ContentHash
}

// BuildRowIndex dispatches on format and builds the RowIndex accordingly:
// CSV/TSV are streamed through encoding/csv, Parquet and Arrow IPC files are
// read column-wise via arrow-go and transposed to row-major, and JSONL is
// decoded object-by-object. Each path computes _row_hash per row and assigns
// _row_num in the source's natural order (§4.7.2).
func BuildRowIndex(r io.Reader, schema Schema, format Format) (*RowIndex, error) {
	switch format {
	case FormatCSV, FormatTSV:
		return buildDelimitedRowIndex(r, schema, format)
	case FormatParquet:
		ra, ok := asReaderAtSeeker(r)
		if !ok {
			return nil, fmt.Errorf("tabular: parquet row index requires a seekable source")
		}
		return buildRowIndexFromParquet(ra, schema)
	case FormatArrow:
		ra, ok := asReaderAtSeeker(r)
		if !ok {
			return nil, fmt.Errorf("tabular: arrow row index requires a seekable source")
		}
		return buildRowIndexFromArrowFile(ra, schema)
	case FormatJSONL:
		return buildRowIndexFromJSONL(r, schema)
	default:
		return nil, fmt.Errorf("tabular: unsupported format %q", format)
	}
}

// readerAtSeeker is satisfied by *os.File and *bytes.Reader, the two
// concrete readers every caller in this tree passes for Parquet/Arrow
// sources. Both formats carry a trailing footer, so random access is
// mandatory — a plain io.Reader can't serve them.
type readerAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

func asReaderAtSeeker(r io.Reader) (readerAtSeeker, bool) {
	ra, ok := r.(readerAtSeeker)
	return ra, ok
}

// buildDelimitedRowIndex streams CSV/TSV rows through the parser, computing
// _row_hash per row and assigning _row_num in stream order (§4.7.2).
func buildDelimitedRowIndex(r io.Reader, schema Schema, format Format) (*RowIndex, error) {
	delim := ','
	if format == FormatTSV {
		delim = '\t'
	}
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil { // header
		if err == io.EOF {
			return &RowIndex{Schema: schema}, nil
		}
		return nil, err
	}

	idx := &RowIndex{Schema: schema}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]oxhash.Value, len(schema.Fields))
		for i, field := range schema.Fields {
			var raw string
			if i < len(record) {
				raw = record[i]
			}
			row[i] = parseValue(raw, field.Type)
		}
		idx.Rows = append(idx.Rows, row)
		idx.RowHashes = append(idx.RowHashes, oxhash.HashRow(row))
	}
	return idx, nil
}

func parseValue(raw, logicalType string) oxhash.Value {
	if raw == "" {
		return oxhash.NullValue()
	}
	switch logicalType {
	case "int":
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return oxhash.StringValue(raw)
		}
		return oxhash.IntValue(v)
	case "float":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return oxhash.StringValue(raw)
		}
		return oxhash.FloatValue(v)
	case "bool":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return oxhash.StringValue(raw)
		}
		return oxhash.BoolValue(v)
	default:
		return oxhash.StringValue(raw)
	}
}

// ToDelimited renders idx back into delimited text (CSV when delim is ',',
// TSV when '\t'), used to materialize a merge result's worktree content
// (§4.8.2) — the RowIndex's declared columns only, synthetic columns
// excluded, since a worked file should round-trip like the original.
func (idx *RowIndex) ToDelimited(delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim

	header := make([]string, len(idx.Schema.Fields))
	for i, f := range idx.Schema.Fields {
		header[i] = f.Name
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range idx.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = valueToString(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// arrowSchema builds the Arrow schema for idx's declared columns plus the
// two synthetic ones, satisfying §3.3 invariant (a).
func (idx *RowIndex) arrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(idx.Schema.Fields)+2)
	for _, f := range idx.Schema.Fields {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true})
	}
	fields = append(fields,
		arrow.Field{Name: RowHashColumn, Type: arrow.BinaryTypes.String},
		arrow.Field{Name: RowNumColumn, Type: arrow.PrimitiveTypes.Int64},
	)
	return arrow.NewSchema(fields, nil)
}

func arrowType(logicalType string) arrow.DataType {
	switch logicalType {
	case "int":
		return arrow.PrimitiveTypes.Int64
	case "float":
		return arrow.PrimitiveTypes.Float64
	case "bool":
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// ToArrow renders idx as an Arrow record batch, iterating rows in _row_num
// order so the result reproduces the original row order (§3.3 invariant b).
func (idx *RowIndex) ToArrow(mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	schema := idx.arrowSchema()
	builders := make([]array.Builder, len(idx.Schema.Fields))
	for i, f := range idx.Schema.Fields {
		builders[i] = newBuilder(mem, f.Type)
		defer builders[i].Release()
	}
	hashBuilder := array.NewStringBuilder(mem)
	defer hashBuilder.Release()
	numBuilder := array.NewInt64Builder(mem)
	defer numBuilder.Release()

	for rowNum, row := range idx.Rows {
		for c, v := range row {
			appendValue(builders[c], v)
		}
		hashBuilder.Append(idx.RowHashes[rowNum].String())
		numBuilder.Append(int64(rowNum))
	}

	cols := make([]arrow.Array, 0, len(builders)+2)
	for _, b := range builders {
		arr := b.NewArray()
		defer arr.Release()
		cols = append(cols, arr)
	}
	hashArr := hashBuilder.NewArray()
	defer hashArr.Release()
	numArr := numBuilder.NewArray()
	defer numArr.Release()
	cols = append(cols, hashArr, numArr)

	return array.NewRecord(schema, cols, int64(len(idx.Rows)))
}

func newBuilder(mem memory.Allocator, logicalType string) array.Builder {
	switch logicalType {
	case "int":
		return array.NewInt64Builder(mem)
	case "float":
		return array.NewFloat64Builder(mem)
	case "bool":
		return array.NewBooleanBuilder(mem)
	default:
		return array.NewStringBuilder(mem)
	}
}

func appendValue(b array.Builder, v oxhash.Value) {
	if v.Kind == oxhash.KindNull {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(v.Int)
	case *array.Float64Builder:
		bb.Append(v.Flt)
	case *array.BooleanBuilder:
		bb.Append(v.Bool)
	case *array.StringBuilder:
		bb.Append(v.Str)
	}
}

// Serialize encodes idx as an Arrow IPC stream — the bytes hashed and stored
// as the RowIndex Blob (§4.7.2 step 5).
func (idx *RowIndex) Serialize() ([]byte, error) {
	mem := memory.NewGoAllocator()
	rec := idx.ToArrow(mem)
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("tabular: writing arrow ipc stream: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("tabular: closing arrow ipc writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize reconstructs a RowIndex from a serialized Arrow IPC stream,
// recovering the declared Schema from every column except the two synthetic
// ones.
func Deserialize(data []byte) (*RowIndex, error) {
	mem := memory.NewGoAllocator()
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("tabular: opening arrow ipc stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		return &RowIndex{}, nil
	}
	rec := reader.Record()

	schemaFields := make([]oxhash.SchemaField, 0, rec.NumCols()-2)
	for _, f := range rec.Schema().Fields() {
		if f.Name == RowHashColumn || f.Name == RowNumColumn {
			continue
		}
		schemaFields = append(schemaFields, oxhash.SchemaField{Name: f.Name, Type: logicalTypeName(f.Type)})
	}
	schema := Schema{Fields: schemaFields, Hash: oxhash.HashSchema(schemaFields)}

	idx := &RowIndex{Schema: schema}
	numRows := int(rec.NumRows())
	idx.Rows = make([][]oxhash.Value, numRows)
	idx.RowHashes = make([]oxhash.ContentHash, numRows)

	hashCol, _ := columnByName(rec, RowHashColumn).(*array.String)

	for r := 0; r < numRows; r++ {
		row := make([]oxhash.Value, len(schemaFields))
		for c, f := range schemaFields {
			col := columnByName(rec, f.Name)
			row[c] = valueFromArrow(col, r, f.Type)
		}
		idx.Rows[r] = row
		if hashCol != nil {
			h, _ := oxhash.Parse(hashCol.Value(r))
			idx.RowHashes[r] = h
		} else {
			idx.RowHashes[r] = oxhash.HashRow(row)
		}
	}
	return idx, nil
}

func columnByName(rec arrow.Record, name string) arrow.Array {
	for i, f := range rec.Schema().Fields() {
		if f.Name == name {
			return rec.Column(i)
		}
	}
	return nil
}

func logicalTypeName(t arrow.DataType) string {
	switch t.ID() {
	case arrow.INT64:
		return "int"
	case arrow.FLOAT64:
		return "float"
	case arrow.BOOL:
		return "bool"
	default:
		return "string"
	}
}

func valueFromArrow(col arrow.Array, row int, logicalType string) oxhash.Value {
	if col == nil || col.IsNull(row) {
		return oxhash.NullValue()
	}
	switch logicalType {
	case "int":
		return oxhash.IntValue(col.(*array.Int64).Value(row))
	case "float":
		return oxhash.FloatValue(col.(*array.Float64).Value(row))
	case "bool":
		return oxhash.BoolValue(col.(*array.Boolean).Value(row))
	default:
		return oxhash.StringValue(col.(*array.String).Value(row))
	}
}

// widenArrowType maps an arbitrary Arrow column type to one of the four
// logical types this package tracks. Unlike logicalTypeName (which only
// ever sees the narrow Int64/Float64/Bool/String shape this package itself
// writes in Serialize), external Parquet and Arrow files can carry any of
// Arrow's integer widths, both floating point widths, and decimals, so this
// widens rather than requiring an exact match.
func widenArrowType(t arrow.DataType) string {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return "int"
	case arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return "float"
	case arrow.BOOL:
		return "bool"
	default:
		return "string"
	}
}

// marshalable is satisfied by every concrete array type in arrow-go (it
// backs their MarshalJSON), giving us a type-erased way to read a single
// element out of array types this package has no dedicated case for, like
// timestamps or nested lists read out of a foreign Parquet/Arrow file.
type marshalable interface {
	GetOneForMarshal(i int) interface{}
}

// valueFromArrowAny is valueFromArrow's counterpart for ingesting external
// Parquet/Arrow files (parquet.go, arrowfile.go), which may carry a much
// wider variety of physical column types than the narrow Int64/Float64/
// Bool/String shape this package writes itself in ToArrow.
func valueFromArrowAny(col arrow.Array, row int, logicalType string) oxhash.Value {
	if col == nil || col.IsNull(row) {
		return oxhash.NullValue()
	}
	switch a := col.(type) {
	case *array.Int8:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Int16:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Int32:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Int64:
		return oxhash.IntValue(a.Value(row))
	case *array.Uint8:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Uint16:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Uint32:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Uint64:
		return oxhash.IntValue(int64(a.Value(row)))
	case *array.Float32:
		return oxhash.FloatValue(float64(a.Value(row)))
	case *array.Float64:
		return oxhash.FloatValue(a.Value(row))
	case *array.Boolean:
		return oxhash.BoolValue(a.Value(row))
	case *array.String:
		return oxhash.StringValue(a.Value(row))
	case *array.LargeString:
		return oxhash.StringValue(a.Value(row))
	case *array.Binary:
		return oxhash.StringValue(string(a.Value(row)))
	case *array.LargeBinary:
		return oxhash.StringValue(string(a.Value(row)))
	default:
		if m, ok := col.(marshalable); ok {
			return oxhash.StringValue(fmt.Sprintf("%v", m.GetOneForMarshal(row)))
		}
		return oxhash.StringValue(logicalType)
	}
}

// schemaFromArrow converts an Arrow schema (as read from a Parquet file's
// embedded metadata or an Arrow IPC file's footer) into this package's
// Schema, widening every column's physical type down to int/float/bool/
// string.
func schemaFromArrow(as *arrow.Schema) Schema {
	fields := make([]oxhash.SchemaField, as.NumFields())
	for i, f := range as.Fields() {
		fields[i] = oxhash.SchemaField{Name: f.Name, Type: widenArrowType(f.Type)}
	}
	return Schema{Fields: fields, Hash: oxhash.HashSchema(fields)}
}
