package repo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestInitCreatesUnbornRepository(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	if r.DefaultBranch() != "main" {
		t.Fatalf("expected default branch main, got %q", r.DefaultBranch())
	}
	if _, err := os.Stat(filepath.Join(dir, ".oxen", "config.toml")); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	if _, err := Init(dir); err == nil {
		t.Fatal("expected second Init to fail, repo already exists")
	}
}

func TestOpenFindsRepositoryFromSubdirectory(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.Close()

	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	opened, err := Open(sub)
	if err != nil {
		t.Fatalf("Open from subdirectory: %v", err)
	}
	defer opened.Close()

	if opened.WorkDir() != dir {
		t.Fatalf("expected workdir %q, got %q", dir, opened.WorkDir())
	}
}

func TestOpenFailsOutsideRepository(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err == nil {
		t.Fatal("expected Open to fail outside a repository")
	}
}

func TestAddAndCommitAdvancesBranch(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	writeFile(t, dir, "hello.txt", "hello world\n")

	if err := r.Add("."); err != nil {
		t.Fatalf("Add: %v", err)
	}
	staged, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("expected 1 staged entry, got %d", len(staged))
	}

	if err := r.SetAuthor("Test Author", "test@example.com"); err != nil {
		t.Fatalf("SetAuthor: %v", err)
	}
	commit, err := r.Commit("initial commit")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commit.Message != "initial commit" {
		t.Fatalf("unexpected commit message %q", commit.Message)
	}
	if len(commit.Parents) != 0 {
		t.Fatalf("expected root commit to have no parents, got %d", len(commit.Parents))
	}

	staged, err = r.Status()
	if err != nil {
		t.Fatalf("Status after commit: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected staging cleared after commit, got %d entries", len(staged))
	}

	head, err := r.headCommit()
	if err != nil {
		t.Fatalf("headCommit: %v", err)
	}
	if head != commit.Hash {
		t.Fatalf("expected HEAD to advance to new commit")
	}
}

func TestCommitWithNothingStagedFails(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	if _, err := r.Commit("empty"); err == nil {
		t.Fatal("expected commit with nothing staged to fail")
	}
}

func TestCheckoutMaterializesCommittedFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	writeFile(t, dir, "data.csv", "id,name\n1,alice\n2,bob\n")
	if err := r.Add("."); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := r.Commit("add data"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := r.CreateBranch("feature"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "data.csv")); err != nil {
		t.Fatalf("remove working file: %v", err)
	}

	if _, err := r.Checkout("feature", true); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "data.csv"))
	if err != nil {
		t.Fatalf("expected data.csv restored by checkout: %v", err)
	}
	if string(got) != "id,name\n1,alice\n2,bob\n" {
		t.Fatalf("unexpected restored content: %q", got)
	}
}

func TestRemoteConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	r, err := Init(dir)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer r.Close()

	if err := r.SetRemote("origin", "http://localhost:9999"); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}
	r.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	remote, ok := reopened.Remote("origin")
	if !ok {
		t.Fatal("expected origin remote to persist across reopen")
	}
	if remote.URL != "http://localhost:9999" {
		t.Fatalf("unexpected remote %+v", remote)
	}
}

func TestHostTokenPersistsAcrossHostsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("OXEN_HOME", home)

	if err := SetHostToken("oxen.example.com", "tok-123"); err != nil {
		t.Fatalf("SetHostToken: %v", err)
	}
	token, err := TokenForURL("https://oxen.example.com/repos/foo")
	if err != nil {
		t.Fatalf("TokenForURL: %v", err)
	}
	if token != "tok-123" {
		t.Fatalf("expected stored token, got %q", token)
	}

	t.Setenv("OXEN_AUTH_TOKEN", "override")
	token, err = TokenForURL("https://oxen.example.com/repos/foo")
	if err != nil {
		t.Fatalf("TokenForURL with override: %v", err)
	}
	if token != "override" {
		t.Fatalf("expected OXEN_AUTH_TOKEN override, got %q", token)
	}
}
