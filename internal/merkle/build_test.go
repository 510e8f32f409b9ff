package merkle

import (
	"testing"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

func leaf(content string) FileNode {
	return FileNode{Hash: oxhash.SumBytes([]byte(content)), Size: int64(len(content))}
}

func TestBuildRootHashIndependentOfInsertionOrder(t *testing.T) {
	a := []Entry{
		{Path: "a.txt", Node: leaf("a")},
		{Path: "dir/b.txt", Node: leaf("b")},
		{Path: "dir/c.txt", Node: leaf("c")},
	}
	b := []Entry{
		{Path: "dir/c.txt", Node: leaf("c")},
		{Path: "a.txt", Node: leaf("a")},
		{Path: "dir/b.txt", Node: leaf("b")},
	}

	ta := Build(a)
	tb := Build(b)
	if ta.RootHash != tb.RootHash {
		t.Fatalf("root hash depends on insertion order: %s != %s", ta.RootHash, tb.RootHash)
	}
}

func TestBuildDifferentContentDifferentHash(t *testing.T) {
	a := Build([]Entry{{Path: "a.txt", Node: leaf("a")}})
	b := Build([]Entry{{Path: "a.txt", Node: leaf("b")}})
	if a.RootHash == b.RootHash {
		t.Fatalf("different file content produced the same root hash")
	}
}

func TestBuildEmptyDirectoriesNotRepresented(t *testing.T) {
	tr := Build([]Entry{{Path: "a/b/c.txt", Node: leaf("x")}})
	if _, ok := tr.Dirs["a/b"]; !ok {
		t.Fatalf("expected a/b to be represented (it has a file)")
	}
	if _, ok := tr.Dirs["a/b/empty"]; ok {
		t.Fatalf("a/b/empty should not exist — it was never an input entry")
	}
}

func TestBuildNestedDirsRollUp(t *testing.T) {
	tr := Build([]Entry{
		{Path: "x/y/z.txt", Node: leaf("z")},
	})
	root, ok := tr.Dirs[""]
	if !ok {
		t.Fatalf("missing root dir")
	}
	if len(root.Children) != 1 || root.Children[0].Name != "x" || root.Children[0].Kind != ChildDir {
		t.Fatalf("root children = %+v, want single dir child x", root.Children)
	}

	x, ok := tr.Dirs["x"]
	if !ok || len(x.Children) != 1 || x.Children[0].Name != "y" {
		t.Fatalf("dir x children wrong: %+v", x)
	}
}

func TestBuildFileDirKindCollisionProducesDistinctHash(t *testing.T) {
	withFile := Build([]Entry{{Path: "x", Node: leaf("content")}})

	h := oxhash.New()
	_, _ = h.Write([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	_, _ = h.Write([]byte("x"))
	_, _ = h.Write([]byte{byte(ChildDir)})
	dummy := withFile.Files["x"].Hash
	_, _ = h.Write(dummy[:])
	asIfDir := h.Sum()

	if withFile.RootHash == asIfDir {
		t.Fatalf("kind discriminator failed to distinguish file vs dir child with same name/hash")
	}
}
