package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// orderedRow decodes one JSONL line's top-level object while preserving the
// order its keys appeared in the source, which a plain map[string]any
// unmarshal would lose. Decoding mixes Token() (for keys, to capture order)
// with Decode() (for values, so nested objects/arrays don't need their own
// hand-rolled walk) on the same sub-decoder.
type orderedRow struct {
	keys   []string
	values map[string]any
}

func (o *orderedRow) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("tabular: jsonl row is not an object")
	}

	o.values = make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("tabular: jsonl object key is not a string")
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("tabular: decoding value for %q: %w", key, err)
		}
		o.keys = append(o.keys, key)
		o.values[key] = v
	}
	_, err = dec.Token() // closing '}'
	return err
}

// jsonScalarString renders a decoded JSON value as text, the shape both
// inferType and parseValue already expect. Nested objects/arrays fall back
// to their JSON text, which never round-trips as int/float/bool and so
// naturally lands in the "string" column type.
func jsonScalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case json.Number:
		return t.String()
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// sniffJSONLSchema infers each column's logical type from the first
// sampleWindow records, and fixes the column order from the first record
// (§4.7.1) — later records are free to omit or reorder keys; the schema
// tracks whatever the first row declared.
func sniffJSONLSchema(r io.Reader, sampleWindow int) (Schema, error) {
	if sampleWindow <= 0 {
		sampleWindow = DefaultSampleWindow
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var columnOrder []string
	samples := map[string][]string{}

	for count := 0; dec.More() && count < sampleWindow; count++ {
		var row orderedRow
		if err := dec.Decode(&row); err != nil {
			return Schema{}, fmt.Errorf("tabular: decoding jsonl row %d: %w", count, err)
		}
		if columnOrder == nil {
			columnOrder = row.keys
		}
		for _, k := range row.keys {
			samples[k] = append(samples[k], jsonScalarString(row.values[k]))
		}
	}
	if columnOrder == nil {
		return Schema{}, fmt.Errorf("tabular: jsonl file has no records")
	}

	fields := make([]oxhash.SchemaField, len(columnOrder))
	for i, name := range columnOrder {
		fields[i] = oxhash.SchemaField{Name: name, Type: inferType(samples[name])}
	}
	return Schema{Fields: fields, Hash: oxhash.HashSchema(fields)}, nil
}

// buildRowIndexFromJSONL decodes every record in source order, mapping each
// onto schema's column order (missing keys become null).
func buildRowIndexFromJSONL(r io.Reader, schema Schema) (*RowIndex, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	idx := &RowIndex{Schema: schema}
	for dec.More() {
		var row orderedRow
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("tabular: decoding jsonl row %d: %w", len(idx.Rows), err)
		}
		values := make([]oxhash.Value, len(schema.Fields))
		for i, field := range schema.Fields {
			raw, ok := row.values[field.Name]
			if !ok {
				values[i] = oxhash.NullValue()
				continue
			}
			values[i] = parseValue(jsonScalarString(raw), field.Type)
		}
		idx.Rows = append(idx.Rows, values)
		idx.RowHashes = append(idx.RowHashes, oxhash.HashRow(values))
	}
	return idx, nil
}
