package staging

import (
	"io"
	"os"
	"testing"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

type fakeBlobWriter struct{}

func (fakeBlobWriter) Put(r io.Reader) (oxhash.ContentHash, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	return oxhash.SumBytes(data), nil
}

type fakeTabularIndexer struct{ hash oxhash.ContentHash }

func (fakeTabularIndexer) Detect(path string, f *os.File) bool { return true }

func (f fakeTabularIndexer) BuildRowIndex(path string, file *os.File) (oxhash.ContentHash, error) {
	return f.hash, nil
}

func TestAddOpaqueFile(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "readme.md", "hello oxen")

	store := openTestStore(t)
	if err := Add(store, fakeBlobWriter{}, nil, root, "readme.md", OpAdd); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e, ok, err := store.Get("readme.md")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if e.TrackingMode != TrackingOpaque {
		t.Fatalf("tracking mode = %v, want opaque", e.TrackingMode)
	}
	want := oxhash.SumBytes([]byte("hello oxen"))
	if e.FileHash != want {
		t.Fatalf("file hash = %s, want %s", e.FileHash, want)
	}
}

func TestAddTabularFileBuildsRowIndex(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "data/train.csv", "a,b\n1,2\n")

	store := openTestStore(t)
	indexer := fakeTabularIndexer{hash: oxhash.SumBytes([]byte("row-index"))}

	if err := Add(store, fakeBlobWriter{}, indexer, root, "data/train.csv", OpAdd); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e, ok, err := store.Get("data/train.csv")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if e.TrackingMode != TrackingTabular {
		t.Fatalf("tracking mode = %v, want tabular", e.TrackingMode)
	}
	if e.RowIndexHash == nil || *e.RowIndexHash != indexer.hash {
		t.Fatalf("RowIndexHash = %v, want %s", e.RowIndexHash, indexer.hash)
	}
}

func TestAddIsRestartableAcrossFiles(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, root, "a.txt", "a")
	mustWrite(t, root, "b.txt", "b")

	store := openTestStore(t)
	if err := Add(store, fakeBlobWriter{}, nil, root, "a.txt", OpAdd); err != nil {
		t.Fatalf("Add a.txt: %v", err)
	}
	// Simulate a restart: a.txt must still be staged even though we only
	// process b.txt in this "second pass".
	if err := Add(store, fakeBlobWriter{}, nil, root, "b.txt", OpAdd); err != nil {
		t.Fatalf("Add b.txt: %v", err)
	}

	entries, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d staged entries, want 2", len(entries))
	}
}
