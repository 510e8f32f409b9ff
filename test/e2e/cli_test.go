//go:build e2e

package e2e

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitCreatesMetadataDir(t *testing.T) {
	dir := t.TempDir()
	mustRunOxen(t, dir, "init")

	if _, err := os.Stat(filepath.Join(dir, ".oxen")); err != nil {
		t.Fatalf("expected .oxen directory after init: %v", err)
	}
}

func TestInitTwiceFails(t *testing.T) {
	dir := t.TempDir()
	mustRunOxen(t, dir, "init")

	_, stderr, code := runOxen(t, dir, "init")
	if code == 0 {
		t.Fatal("expected second init in the same directory to fail")
	}
	if !strings.Contains(stderr, "already") {
		t.Errorf("stderr = %q, want a mention of the repository already existing", stderr)
	}
}

func TestAddCommitLog(t *testing.T) {
	dir := initRepoWithCommit(t, "README.md", "# hello\n", "initial commit")

	out := mustRunOxen(t, dir, "log")
	if !strings.Contains(out, "initial commit") {
		t.Errorf("log output = %q, want it to contain the commit message", out)
	}
}

func TestStatusShowsUntrackedAndStaged(t *testing.T) {
	dir := initRepoWithCommit(t, "README.md", "# hello\n", "initial commit")

	if err := os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "staged.txt"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustRunOxen(t, dir, "add", "staged.txt")

	out := mustRunOxen(t, dir, "status")
	if !strings.Contains(out, "untracked.txt") {
		t.Errorf("status output missing untracked.txt:\n%s", out)
	}
	if !strings.Contains(out, "staged.txt") {
		t.Errorf("status output missing staged.txt:\n%s", out)
	}
}

func TestBranchAndCheckout(t *testing.T) {
	dir := initRepoWithCommit(t, "README.md", "# hello\n", "initial commit")

	createOut := mustRunOxen(t, dir, "branch", "feature")
	if !strings.Contains(createOut, "feature") {
		t.Errorf("branch creation output = %q, want it to mention \"feature\"", createOut)
	}

	checkoutOut := mustRunOxen(t, dir, "checkout", "feature")
	if !strings.Contains(checkoutOut, "feature") {
		t.Errorf("checkout output = %q, want it to mention the target branch \"feature\"", checkoutOut)
	}

	branchOut := mustRunOxen(t, dir, "branch")
	if !strings.Contains(branchOut, "feature") {
		t.Errorf("branch output after checkout = %q, want it to report \"feature\" as HEAD", branchOut)
	}
}

func TestCommitWithoutMessageFails(t *testing.T) {
	dir := t.TempDir()
	mustRunOxen(t, dir, "init")
	mustRunOxen(t, dir, "config", "--name", "Test User", "--email", "test@example.com")

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustRunOxen(t, dir, "add", "a.txt")

	_, _, code := runOxen(t, dir, "commit")
	if code != 2 {
		t.Errorf("commit with no -m exited %d, want 2 (usage error)", code)
	}
}

func TestRemoteAddAndList(t *testing.T) {
	dir := initRepoWithCommit(t, "README.md", "# hello\n", "initial commit")

	mustRunOxen(t, dir, "remote", "add", "origin", "http://localhost:9999/sync")
	out := mustRunOxen(t, dir, "remote", "-v")
	if !strings.Contains(out, "origin") || !strings.Contains(out, "localhost:9999") {
		t.Errorf("remote -v output = %q, want it to list origin", out)
	}
}
