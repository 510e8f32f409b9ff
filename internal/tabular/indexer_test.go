package tabular

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

type fakeBlobStore struct {
	puts int
}

func (f *fakeBlobStore) Put(r io.Reader) (oxhash.ContentHash, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	f.puts++
	return oxhash.HashRow([]oxhash.Value{oxhash.StringValue(string(data))}), nil
}

func writeTempFile(t *testing.T, name, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening temp file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestIndexerDetectCSV(t *testing.T) {
	f := writeTempFile(t, "data.csv", "id,name\n1,alice\n")
	ix := NewIndexer(&fakeBlobStore{})
	if !ix.Detect("data.csv", f) {
		t.Error("Detect: expected CSV file to be recognized")
	}
}

func TestIndexerDetectJSONL(t *testing.T) {
	f := writeTempFile(t, "data.jsonl", `{"id": 1, "name": "alice"}`+"\n")
	ix := NewIndexer(&fakeBlobStore{})
	if !ix.Detect("data.jsonl", f) {
		t.Error("Detect: expected JSONL file to be recognized")
	}
}

// TestIndexerDetectRejectsMisnamedContent guards against silently accepting
// a file whose extension claims a structured format it doesn't actually
// contain — Parquet and Arrow both carry a footer that has to parse.
func TestIndexerDetectRejectsMisnamedContent(t *testing.T) {
	f := writeTempFile(t, "data.parquet", "this is not a parquet file\n")
	ix := NewIndexer(&fakeBlobStore{})
	if ix.Detect("data.parquet", f) {
		t.Error("Detect: expected non-parquet content with a .parquet extension to be rejected")
	}
}

func TestIndexerDetectRejectsMalformedJSONL(t *testing.T) {
	f := writeTempFile(t, "data.jsonl", "not json at all\n")
	ix := NewIndexer(&fakeBlobStore{})
	if ix.Detect("data.jsonl", f) {
		t.Error("Detect: expected malformed JSONL content to be rejected")
	}
}

func TestIndexerBuildRowIndexJSONL(t *testing.T) {
	f := writeTempFile(t, "data.jsonl", `{"id": 1, "name": "alice"}`+"\n"+`{"id": 2, "name": "bob"}`+"\n")
	blobs := &fakeBlobStore{}
	ix := NewIndexer(blobs)
	if _, err := ix.BuildRowIndex("data.jsonl", f); err != nil {
		t.Fatalf("BuildRowIndex: %v", err)
	}
	if blobs.puts != 1 {
		t.Errorf("expected exactly one blob Put, got %d", blobs.puts)
	}
}
