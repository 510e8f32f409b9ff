package merkle

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/oxen-ai/oxen/internal/kvstore"
)

func setupCommits(t *testing.T, from, to []Entry) *Store {
	t.Helper()
	pool := kvstore.NewPool(8)
	store := NewStore(pool, filepath.Join(t.TempDir(), "history"))
	if err := store.Persist("from", Build(from)); err != nil {
		t.Fatalf("persist from: %v", err)
	}
	if err := store.Persist("to", Build(to)); err != nil {
		t.Fatalf("persist to: %v", err)
	}
	return store
}

func TestDiffDetectsAddedRemovedModified(t *testing.T) {
	from := []Entry{
		{Path: "a.txt", Node: leaf("a")},
		{Path: "dir/b.txt", Node: leaf("b")},
		{Path: "dir/c.txt", Node: leaf("c")},
	}
	to := []Entry{
		{Path: "a.txt", Node: leaf("a-modified")},
		{Path: "dir/c.txt", Node: leaf("c")},
		{Path: "dir/new.txt", Node: leaf("new")},
	}
	store := setupCommits(t, from, to)

	changes, err := Diff(store, "from", "to")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}

	byPath := map[string]ChangeKind{}
	for _, c := range changes {
		byPath[c.Path] = c.Kind
	}
	want := map[string]ChangeKind{
		"a.txt":       Modified,
		"dir/b.txt":   Removed,
		"dir/new.txt": Added,
	}
	if len(byPath) != len(want) {
		t.Fatalf("got %d changes %+v, want %+v", len(byPath), byPath, want)
	}
	for p, k := range want {
		if got := byPath[p]; got != k {
			t.Fatalf("path %s: got kind %v, want %v", p, got, k)
		}
	}
}

func TestDiffIdenticalTreesProduceNoChanges(t *testing.T) {
	entries := []Entry{
		{Path: "a.txt", Node: leaf("a")},
		{Path: "dir/b.txt", Node: leaf("b")},
	}
	store := setupCommits(t, entries, entries)

	changes, err := Diff(store, "from", "to")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("got %d changes for identical trees, want 0: %+v", len(changes), changes)
	}
}

func TestDiffShortCircuitsUnchangedSubtree(t *testing.T) {
	// dir/unchanged/* never differs between from and to; dir/touched.txt does.
	from := []Entry{
		{Path: "dir/unchanged/x.txt", Node: leaf("x")},
		{Path: "dir/touched.txt", Node: leaf("v1")},
	}
	to := []Entry{
		{Path: "dir/unchanged/x.txt", Node: leaf("x")},
		{Path: "dir/touched.txt", Node: leaf("v2")},
	}
	store := setupCommits(t, from, to)

	changes, err := Diff(store, "from", "to")
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	var paths []string
	for _, c := range changes {
		paths = append(paths, c.Path)
	}
	sort.Strings(paths)
	if len(paths) != 1 || paths[0] != "dir/touched.txt" {
		t.Fatalf("got changes %v, want only dir/touched.txt", paths)
	}
}
