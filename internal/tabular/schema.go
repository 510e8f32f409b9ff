// Package tabular implements the schema detection, RowIndex construction,
// tabular diff, and DataFrame operations of §4.7, backed by Apache Arrow's
// Go implementation for the in-memory/on-disk columnar shape.
package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// Format is a detected tabular file format (§4.7.1).
type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatParquet Format = "parquet"
	FormatArrow   Format = "arrow"
	FormatJSONL   Format = "jsonl"
	FormatUnknown Format = ""
)

// DefaultSampleWindow is the number of rows scanned to infer column types
// (§4.7.1). The delimiter is not sniffed: it is ',' for CSV and '\t' for TSV.
const DefaultSampleWindow = 10000

// DetectFormat classifies a path by extension, per §4.7.1's recognized set.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".tsv":
		return FormatTSV
	case ".parquet":
		return FormatParquet
	case ".arrow":
		return FormatArrow
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatUnknown
	}
}

// Schema is a tabular file's field_name -> logical_type map with its own
// ContentHash (§3.3). Field order is the declared column order — the order
// rows are hashed in — which is independent of the sorted order used only to
// compute the hash.
type Schema struct {
	Fields []oxhash.SchemaField
	Hash   oxhash.ContentHash
}

// SniffSchema detects a tabular file's schema (§4.7.1). CSV/TSV have no
// embedded schema, so their column types are inferred by scanning a sample
// window; Parquet and Arrow IPC files carry an exact schema in their
// footer and are read directly (the window is ignored); JSONL has no
// footer either, so its columns are inferred the same way CSV's are, from
// the first sampleWindow records. r must be an *os.File or *bytes.Reader
// for Parquet/Arrow — both formats require random access to read their
// footer.
func SniffSchema(r io.Reader, format Format, sampleWindow int) (Schema, error) {
	switch format {
	case FormatParquet:
		ra, ok := asReaderAtSeeker(r)
		if !ok {
			return Schema{}, fmt.Errorf("tabular: parquet schema sniffing requires a seekable source")
		}
		return sniffParquetSchema(ra)
	case FormatArrow:
		ra, ok := asReaderAtSeeker(r)
		if !ok {
			return Schema{}, fmt.Errorf("tabular: arrow schema sniffing requires a seekable source")
		}
		return sniffArrowFileSchema(ra)
	case FormatJSONL:
		return sniffJSONLSchema(r, sampleWindow)
	case FormatCSV, FormatTSV:
		// fall through to the delimited sniffing below
	default:
		return Schema{}, fmt.Errorf("tabular: unsupported format %q", format)
	}

	if sampleWindow <= 0 {
		sampleWindow = DefaultSampleWindow
	}
	delim := ','
	if format == FormatTSV {
		delim = '\t'
	}

	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return Schema{}, err
	}

	columns := make([][]string, len(header))
	for i := 0; i < sampleWindow; i++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Schema{}, err
		}
		for c, v := range row {
			if c < len(columns) {
				columns[c] = append(columns[c], v)
			}
		}
	}

	fields := make([]oxhash.SchemaField, len(header))
	for i, name := range header {
		fields[i] = oxhash.SchemaField{Name: name, Type: inferType(columns[i])}
	}

	return Schema{Fields: fields, Hash: oxhash.HashSchema(fields)}, nil
}

// inferType picks the narrowest logical type that every sampled value agrees
// on, falling back to string.
func inferType(samples []string) string {
	if len(samples) == 0 {
		return "string"
	}
	allInt, allFloat, allBool := true, true, true
	for _, v := range samples {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
		}
		if _, err := strconv.ParseBool(v); err != nil {
			allBool = false
		}
	}
	switch {
	case allInt:
		return "int"
	case allFloat:
		return "float"
	case allBool:
		return "bool"
	default:
		return "string"
	}
}
