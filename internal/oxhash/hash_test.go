package oxhash

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestSumBytesDeterministic(t *testing.T) {
	a := SumBytes([]byte("hello world"))
	b := SumBytes([]byte("hello world"))
	if a != b {
		t.Fatalf("SumBytes not deterministic: %s != %s", a, b)
	}

	c := SumBytes([]byte("hello worlds"))
	if a == c {
		t.Fatalf("SumBytes collided on different input")
	}
}

func TestSumMatchesSumBytes(t *testing.T) {
	data := []byte(strings.Repeat("oxen", 10000))
	streamed, err := Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if streamed != SumBytes(data) {
		t.Fatalf("streamed hash %s != in-memory hash %s", streamed, SumBytes(data))
	}
}

func TestHasherWriteInChunks(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h := New()
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}
		if _, err := h.Write(data[i:end]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if h.Sum() != SumBytes(data) {
		t.Fatalf("chunked write hash mismatch")
	}
}

func TestParseRoundTrip(t *testing.T) {
	h := SumBytes([]byte("round trip"))
	parsed, err := Parse(h.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: %s != %s", parsed, h)
	}
}

func TestParseInvalidLength(t *testing.T) {
	if _, err := Parse("deadbeef"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestShard(t *testing.T) {
	h := SumBytes([]byte("shard me"))
	shard, rest := h.Shard()
	if len(shard) != 2 {
		t.Fatalf("shard prefix length = %d, want 2", len(shard))
	}
	if shard+rest != h.String() {
		t.Fatalf("shard+rest != full hash")
	}
}

func TestHashRowNegativeZeroNormalized(t *testing.T) {
	withNeg := HashRow([]Value{FloatValue(math.Copysign(0, -1))})
	withPos := HashRow([]Value{FloatValue(0.0)})
	if withNeg != withPos {
		t.Fatalf("-0.0 and +0.0 hashed differently")
	}
}

func TestHashRowNullDistinctFromEmptyString(t *testing.T) {
	nullRow := HashRow([]Value{NullValue()})
	emptyStr := HashRow([]Value{StringValue("")})
	if nullRow == emptyStr {
		t.Fatalf("null and empty string collided")
	}
}

func TestHashRowOrderMatters(t *testing.T) {
	a := HashRow([]Value{IntValue(1), StringValue("x")})
	b := HashRow([]Value{StringValue("x"), IntValue(1)})
	if a == b {
		t.Fatalf("row hash independent of column order; order should matter")
	}
}

func TestHashSchemaOrderIndependent(t *testing.T) {
	a := HashSchema([]SchemaField{{Name: "file", Type: "str"}, {Name: "label", Type: "str"}})
	b := HashSchema([]SchemaField{{Name: "label", Type: "str"}, {Name: "file", Type: "str"}})
	if a != b {
		t.Fatalf("SchemaHash depends on field order; spec requires sorted tuples")
	}
}

func TestHashSchemaTypeChangeAffectsHash(t *testing.T) {
	a := HashSchema([]SchemaField{{Name: "label", Type: "str"}})
	b := HashSchema([]SchemaField{{Name: "label", Type: "int"}})
	if a == b {
		t.Fatalf("SchemaHash did not change with field type")
	}
}
