package objstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("hello oxen")
	h, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if !s.Has(h) {
		t.Fatalf("Has(%s) = false after Put", h)
	}

	r, err := s.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestPutIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte("duplicate me")
	h1, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	h2, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ across identical puts: %s != %s", h1, h2)
	}
}

func TestGetMissing(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fake := oxhash.SumBytes([]byte("never written"))
	if s.Has(fake) {
		t.Fatalf("Has reported true for unwritten hash")
	}
	if _, err := s.Get(fake); err == nil {
		t.Fatalf("Get succeeded for unwritten hash")
	}
}

func TestSweepStaleTemps(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "ab")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stale := filepath.Join(shardDir, "tmp-leftover")
	if err := os.WriteFile(stale, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temp file was not swept: err=%v", err)
	}
}

func TestPutChunkedRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := []byte(strings.Repeat("0123456789", 5000)) // 50000 bytes
	h, manifest, err := s.PutChunked(bytes.NewReader(content), 4096)
	if err != nil {
		t.Fatalf("PutChunked: %v", err)
	}
	if manifest.Size != int64(len(content)) {
		t.Fatalf("manifest size = %d, want %d", manifest.Size, len(content))
	}
	wantChunks := (len(content) + 4095) / 4096
	if len(manifest.Chunks) != wantChunks {
		t.Fatalf("chunk count = %d, want %d", len(manifest.Chunks), wantChunks)
	}

	r, err := s.OpenRange(h, 0, int64(len(content)))
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("full-range read mismatch")
	}
}

func TestOpenRangePartial(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	content := []byte(strings.Repeat("abcdefghij", 1000)) // 10000 bytes
	h, _, err := s.PutChunked(bytes.NewReader(content), 1024)
	if err != nil {
		t.Fatalf("PutChunked: %v", err)
	}

	r, err := s.OpenRange(h, 1500, 2000)
	if err != nil {
		t.Fatalf("OpenRange: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := content[1500:3500]
	if !bytes.Equal(got, want) {
		t.Fatalf("partial range mismatch: got %d bytes, want %d", len(got), len(want))
	}
}

func TestOpenRangeDeduplicatesIdenticalChunks(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Two files sharing identical 4096-byte-aligned content should dedupe
	// their chunk blobs on disk, even though they are different logical files.
	chunk := bytes.Repeat([]byte{0x42}, 4096)
	fileA := append(append([]byte{}, chunk...), chunk...)
	fileB := append(append([]byte{}, chunk...), bytes.Repeat([]byte{0x7}, 4096)...)

	_, manifestA, err := s.PutChunked(bytes.NewReader(fileA), 4096)
	if err != nil {
		t.Fatalf("PutChunked A: %v", err)
	}
	_, manifestB, err := s.PutChunked(bytes.NewReader(fileB), 4096)
	if err != nil {
		t.Fatalf("PutChunked B: %v", err)
	}

	if manifestA.Chunks[0] != manifestB.Chunks[0] {
		t.Fatalf("identical leading chunks did not dedupe to the same hash")
	}
}
