package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oxen-ai/oxen/internal/repo"
)

func TestGetWorkingTreeStatus(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	defer r.Close()

	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("tracked.txt"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := r.Commit("initial"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Modify the tracked file and add an untracked one, but don't stage
	// either, so both show up only in their respective status buckets.
	if err := os.WriteFile(filepath.Join(dir, "tracked.txt"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "staged.txt"), []byte("staged"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Add("staged.txt"); err != nil {
		t.Fatalf("add staged.txt: %v", err)
	}

	status := getWorkingTreeStatus(r)
	if status == nil {
		t.Fatal("getWorkingTreeStatus returned nil")
	}
	if len(status.Staged) != 1 || status.Staged[0].Path != "staged.txt" {
		t.Errorf("staged = %+v, want exactly staged.txt", status.Staged)
	}
	if len(status.Modified) != 1 || status.Modified[0].Path != "tracked.txt" {
		t.Errorf("modified = %+v, want exactly tracked.txt", status.Modified)
	}
	if len(status.Untracked) != 1 || status.Untracked[0].Path != "untracked.txt" {
		t.Errorf("untracked = %+v, want exactly untracked.txt", status.Untracked)
	}
}
