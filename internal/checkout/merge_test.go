package checkout

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/tabular"
)

type fakeResolver struct {
	base oxhash.ContentHash
}

func (f fakeResolver) MergeBase(a, b oxhash.ContentHash) (oxhash.ContentHash, error) {
	return f.base, nil
}

func commitHash(name string) oxhash.ContentHash {
	return oxhash.SumBytes([]byte(name))
}

func persistTree(t *testing.T, tree *merkle.Store, commit oxhash.ContentHash, entries []merkle.Entry) {
	t.Helper()
	tr := merkle.Build(entries)
	if err := tree.Persist(commit.String(), tr); err != nil {
		t.Fatalf("Persist %s: %v", commit, err)
	}
}

func putBlob(t *testing.T, blobs *objstore.Store, content string) oxhash.ContentHash {
	t.Helper()
	h, err := blobs.Put(bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return h
}

func TestMergeThreeWayFastForward(t *testing.T) {
	tree, blobs, root := newTestEnv(t)
	_ = blobs
	_ = root

	ours := commitHash("ours")
	theirs := commitHash("theirs")
	resolver := fakeResolver{base: ours}

	out, err := MergeThreeWay(resolver, tree, blobs, root, ours, theirs, false)
	if err != nil {
		t.Fatalf("MergeThreeWay: %v", err)
	}
	if !out.FastForward {
		t.Fatalf("expected FastForward, got %+v", out)
	}
}

func TestMergeThreeWayUpToDate(t *testing.T) {
	tree, blobs, root := newTestEnv(t)
	ours := commitHash("ours")
	theirs := commitHash("theirs")
	resolver := fakeResolver{base: theirs}

	out, err := MergeThreeWay(resolver, tree, blobs, root, ours, theirs, false)
	if err != nil {
		t.Fatalf("MergeThreeWay: %v", err)
	}
	if !out.UpToDate {
		t.Fatalf("expected UpToDate, got %+v", out)
	}
}

func TestMergeThreeWayIdenticalCommits(t *testing.T) {
	tree, blobs, root := newTestEnv(t)
	same := commitHash("same")
	resolver := fakeResolver{base: same}

	out, err := MergeThreeWay(resolver, tree, blobs, root, same, same, false)
	if err != nil {
		t.Fatalf("MergeThreeWay: %v", err)
	}
	if !out.UpToDate {
		t.Fatalf("expected UpToDate for identical commits, got %+v", out)
	}
}

func TestMergeThreeWayClassifiesChanges(t *testing.T) {
	tree, blobs, root := newTestEnv(t)

	base := commitHash("base")
	ours := commitHash("ours")
	theirs := commitHash("theirs")
	resolver := fakeResolver{base: base}

	sharedContent := "shared base content"
	persistTree(t, tree, base, []merkle.Entry{
		{Path: "same.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, sharedContent), Size: int64(len(sharedContent)), Mime: merkle.MimeText}},
		{Path: "conflict.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, "original"), Size: 8, Mime: merkle.MimeText}},
	})

	convergedContent := "both agree"
	persistTree(t, tree, ours, []merkle.Entry{
		{Path: "same.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, convergedContent), Size: int64(len(convergedContent)), Mime: merkle.MimeText}},
		{Path: "conflict.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, "ours edit"), Size: 9, Mime: merkle.MimeText}},
		{Path: "ours-only.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, "new from ours"), Size: 13, Mime: merkle.MimeText}},
	})

	persistTree(t, tree, theirs, []merkle.Entry{
		{Path: "same.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, convergedContent), Size: int64(len(convergedContent)), Mime: merkle.MimeText}},
		{Path: "conflict.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, "theirs edit"), Size: 11, Mime: merkle.MimeText}},
		{Path: "theirs-only.txt", Node: merkle.FileNode{Hash: putBlob(t, blobs, "new from theirs"), Size: 15, Mime: merkle.MimeText}},
	})

	out, err := MergeThreeWay(resolver, tree, blobs, root, ours, theirs, false)
	if err != nil {
		t.Fatalf("MergeThreeWay: %v", err)
	}
	if out.FastForward || out.UpToDate {
		t.Fatalf("expected a real three-way merge, got %+v", out)
	}

	byPath := map[string]FileResolution{}
	for _, f := range out.Files {
		byPath[f.Path] = f
	}

	if r, ok := byPath["ours-only.txt"]; !ok || r.Kind != ResolutionOurs {
		t.Fatalf("ours-only.txt resolution = %+v", r)
	}
	if r, ok := byPath["theirs-only.txt"]; !ok || r.Kind != ResolutionTheirs {
		t.Fatalf("theirs-only.txt resolution = %+v", r)
	}
	if r, ok := byPath["same.txt"]; !ok || r.Kind != ResolutionSame {
		t.Fatalf("same.txt resolution = %+v", r)
	}
	if r, ok := byPath["conflict.txt"]; !ok || r.Kind != ResolutionConflict {
		t.Fatalf("conflict.txt resolution = %+v", r)
	}
	if len(out.Conflicts) != 1 || out.Conflicts[0] != "conflict.txt" {
		t.Fatalf("expected conflict.txt reported, got %v", out.Conflicts)
	}

	data, err := os.ReadFile(filepath.Join(root, "conflict.txt.conflict"))
	if err != nil {
		t.Fatalf("expected a .conflict sidecar: %v", err)
	}
	if string(data) != "theirs edit" {
		t.Fatalf("conflict sidecar content = %q, want theirs' content", data)
	}

	data, err = os.ReadFile(filepath.Join(root, "theirs-only.txt"))
	if err != nil {
		t.Fatalf("expected theirs-only.txt materialized: %v", err)
	}
	if string(data) != "new from theirs" {
		t.Fatalf("theirs-only.txt content = %q", data)
	}
}

func buildRowIndexBlob(t *testing.T, blobs *objstore.Store, csvContent string) (fileHash oxhash.ContentHash, rowIndexHash oxhash.ContentHash) {
	t.Helper()
	schema, err := tabular.SniffSchema(strings.NewReader(csvContent), tabular.FormatCSV, 0)
	if err != nil {
		t.Fatalf("SniffSchema: %v", err)
	}
	idx, err := tabular.BuildRowIndex(strings.NewReader(csvContent), schema, tabular.FormatCSV)
	if err != nil {
		t.Fatalf("BuildRowIndex: %v", err)
	}
	data, err := idx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	rowIndexHash = putBlob(t, blobs, string(data))
	fileHash = putBlob(t, blobs, csvContent)
	return fileHash, rowIndexHash
}

func TestMergeThreeWayTabularRowUnion(t *testing.T) {
	tree, blobs, root := newTestEnv(t)

	base := commitHash("base")
	ours := commitHash("ours")
	theirs := commitHash("theirs")
	resolver := fakeResolver{base: base}

	baseCSV := "id,name\n1,a\n2,b\n"
	oursCSV := "id,name\n1,a\n2,b\n3,c\n"
	theirsCSV := "id,name\n1,a\n2,b\n4,d\n"

	baseFileHash, baseRowHash := buildRowIndexBlob(t, blobs, baseCSV)
	oursFileHash, oursRowHash := buildRowIndexBlob(t, blobs, oursCSV)
	theirsFileHash, theirsRowHash := buildRowIndexBlob(t, blobs, theirsCSV)

	persistTree(t, tree, base, []merkle.Entry{
		{Path: "data.csv", Node: merkle.FileNode{Hash: baseFileHash, Mime: merkle.MimeTabular, RowIndexHash: &baseRowHash}},
	})
	persistTree(t, tree, ours, []merkle.Entry{
		{Path: "data.csv", Node: merkle.FileNode{Hash: oursFileHash, Mime: merkle.MimeTabular, RowIndexHash: &oursRowHash}},
	})
	persistTree(t, tree, theirs, []merkle.Entry{
		{Path: "data.csv", Node: merkle.FileNode{Hash: theirsFileHash, Mime: merkle.MimeTabular, RowIndexHash: &theirsRowHash}},
	})

	out, err := MergeThreeWay(resolver, tree, blobs, root, ours, theirs, false)
	if err != nil {
		t.Fatalf("MergeThreeWay: %v", err)
	}
	if len(out.Files) != 1 || out.Files[0].Kind != ResolutionCombined {
		t.Fatalf("expected a combined resolution, got %+v", out.Files)
	}
	if len(out.Conflicts) != 0 {
		t.Fatalf("expected no conflicts from a disjoint row-union merge, got %v", out.Conflicts)
	}

	merged, err := os.ReadFile(filepath.Join(root, "data.csv"))
	if err != nil {
		t.Fatalf("ReadFile merged data.csv: %v", err)
	}
	for _, want := range []string{"1,a", "2,b", "3,c", "4,d"} {
		if !strings.Contains(string(merged), want) {
			t.Fatalf("merged data.csv missing row %q, got:\n%s", want, merged)
		}
	}
}
