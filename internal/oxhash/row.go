package oxhash

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
)

// ValueKind tags the logical type of a canonicalized row value. The tag is
// written into the byte stream ahead of the value so that e.g. the integer
// zero and the empty string never collide.
type ValueKind byte

const (
	// KindNull marks a SQL-style null: a reserved zero-length tag, per §4.1.
	KindNull ValueKind = iota
	// KindInt marks a 64-bit two's-complement integer.
	KindInt
	// KindFloat marks an IEEE-754 double.
	KindFloat
	// KindString marks a UTF-8 string.
	KindString
	// KindBool marks a boolean, canonicalized as a single 0/1 byte.
	KindBool
)

// Value is one canonicalized column value within a row.
type Value struct {
	Kind ValueKind
	Int  int64
	Flt  float64
	Str  string
	Bool bool
}

// NullValue returns a canonical null Value.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue wraps an integer, always canonicalized as the widest (64-bit) width.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// FloatValue wraps a float, canonicalizing -0.0 to +0.0 per §4.1.
func FloatValue(v float64) Value {
	if v == 0 {
		v = 0 // normalizes -0.0 to +0.0
	}
	return Value{Kind: KindFloat, Flt: v}
}

// StringValue wraps a UTF-8 string.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BoolValue wraps a boolean.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// appendCanonical writes the canonical byte encoding of v to buf, per the
// rules in §4.1: integers as little-endian two's complement of their widest
// width, floats as IEEE-754 bit patterns with -0.0 normalized to +0.0,
// strings as raw UTF-8 bytes, nulls as a zero-length tag.
func appendCanonical(buf *bytes.Buffer, v Value) {
	buf.WriteByte(byte(v.Kind))
	switch v.Kind {
	case KindNull:
		// zero-length payload
	case KindInt:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.Int))
		buf.Write(b[:])
	case KindFloat:
		f := v.Flt
		if f == 0 {
			f = 0
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
	case KindString:
		buf.WriteString(v.Str)
	case KindBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
}

// HashRow computes the ContentHash of a canonicalized, type-tagged sequence
// of column values — the row-hasher described in §4.1. Column order matters:
// callers must present values in a stable (e.g. schema) column order.
func HashRow(values []Value) ContentHash {
	var buf bytes.Buffer
	for _, v := range values {
		appendCanonical(&buf, v)
	}
	return SumBytes(buf.Bytes())
}

// SchemaField is one (name, logical type) pair of a tabular Schema.
type SchemaField struct {
	Name string
	Type string
}

// HashSchema computes the SchemaHash: the row-hash of the sorted
// (name, type) field tuples, per §4.1.
func HashSchema(fields []SchemaField) ContentHash {
	sorted := make([]SchemaField, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Type < sorted[j].Type
	})

	values := make([]Value, 0, len(sorted)*2)
	for _, f := range sorted {
		values = append(values, StringValue(f.Name), StringValue(f.Type))
	}
	return HashRow(values)
}
