package staging

import (
	"testing"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/refs"
)

type fakeTreeReader struct {
	byCommit map[string]map[string]*merkle.FileNode
}

func (f *fakeTreeReader) AllFiles(commit string) (map[string]*merkle.FileNode, error) {
	out := map[string]*merkle.FileNode{}
	for p, n := range f.byCommit[commit] {
		cp := *n
		out[p] = &cp
	}
	return out, nil
}

func TestComposeTreeAppliesStagedEdits(t *testing.T) {
	reader := &fakeTreeReader{byCommit: map[string]map[string]*merkle.FileNode{
		"head": {
			"keep.txt":   {Hash: oxhash.SumBytes([]byte("keep"))},
			"remove.txt": {Hash: oxhash.SumBytes([]byte("bye"))},
		},
	}}

	staged := []Entry{
		{Path: "remove.txt", Operation: OpRemove},
		{Path: "new.txt", Operation: OpAdd, FileHash: oxhash.SumBytes([]byte("new"))},
	}

	assembly, err := ComposeTree(reader, "head", staged)
	if err != nil {
		t.Fatalf("ComposeTree: %v", err)
	}
	if _, ok := assembly.Tree.Files["remove.txt"]; ok {
		t.Fatalf("remove.txt still present after staged removal")
	}
	if _, ok := assembly.Tree.Files["new.txt"]; !ok {
		t.Fatalf("new.txt missing after staged add")
	}
	if _, ok := assembly.Tree.Files["keep.txt"]; !ok {
		t.Fatalf("keep.txt (untouched by staging) dropped from composed tree")
	}
}

func TestComposeTreeNoHeadStartsEmpty(t *testing.T) {
	reader := &fakeTreeReader{byCommit: map[string]map[string]*merkle.FileNode{}}
	staged := []Entry{{Path: "a.txt", Operation: OpAdd, FileHash: oxhash.SumBytes([]byte("a"))}}

	assembly, err := ComposeTree(reader, "", staged)
	if err != nil {
		t.Fatalf("ComposeTree: %v", err)
	}
	if len(assembly.Tree.Files) != 1 {
		t.Fatalf("got %d files, want 1", len(assembly.Tree.Files))
	}
}

func TestBuildCommitHashReflectsTree(t *testing.T) {
	author := refs.ActorId{Name: "a", Email: "a@example.com"}
	c1 := BuildCommit(oxhash.SumBytes([]byte("tree-1")), nil, author, "msg")
	c2 := BuildCommit(oxhash.SumBytes([]byte("tree-2")), nil, author, "msg")
	if c1.Hash == c2.Hash {
		t.Fatalf("different root hashes produced the same commit hash")
	}
}
