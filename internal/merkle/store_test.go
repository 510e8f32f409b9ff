package merkle

import (
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen/internal/kvstore"
)

func TestPersistAndReload(t *testing.T) {
	pool := kvstore.NewPool(8)
	store := NewStore(pool, filepath.Join(t.TempDir(), "history"))

	tr := Build([]Entry{
		{Path: "README.md", Node: leaf("hello")},
		{Path: "data/train.csv", Node: leaf("rows")},
	})

	if err := store.Persist("commit-1", tr); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	root, ok, err := store.Dir("commit-1", "")
	if err != nil || !ok {
		t.Fatalf("Dir(root): ok=%v err=%v", ok, err)
	}
	if root.Hash != tr.RootHash {
		t.Fatalf("reloaded root hash %s != built root hash %s", root.Hash, tr.RootHash)
	}

	f, ok, err := store.File("commit-1", "data/train.csv")
	if err != nil || !ok {
		t.Fatalf("File(data/train.csv): ok=%v err=%v", ok, err)
	}
	if f.Hash != tr.Files["data/train.csv"].Hash {
		t.Fatalf("reloaded file hash mismatch")
	}
}

func TestDirMissingCommitReportsNotFound(t *testing.T) {
	pool := kvstore.NewPool(8)
	store := NewStore(pool, filepath.Join(t.TempDir(), "history"))

	_, ok, err := store.Dir("nonexistent", "")
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if ok {
		t.Fatalf("Dir reported ok=true for a commit that was never persisted")
	}
}
