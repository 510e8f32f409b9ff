package workspace

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/tabular"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	pool := kvstore.NewPool(8)

	refsStore, err := refs.Open(pool, filepath.Join(root, "oxen"))
	if err != nil {
		t.Fatalf("opening refs: %v", err)
	}
	t.Cleanup(func() { refsStore.Close() })

	tree := merkle.NewStore(pool, filepath.Join(root, "oxen", "history"))

	blobs, err := objstore.Open(filepath.Join(root, "versions"))
	if err != nil {
		t.Fatalf("opening objstore: %v", err)
	}

	return NewManager(pool, filepath.Join(root, "oxen"), blobs, tree, refsStore)
}

func author() refs.ActorId {
	return refs.ActorId{Name: "tester", Email: "tester@example.com"}
}

func TestWorkspaceAddAndCommitAdvancesBranch(t *testing.T) {
	mgr := newManager(t)

	ws, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening workspace: %v", err)
	}
	defer ws.Close()

	if !ws.BaseCommit.IsZero() {
		t.Fatalf("expected zero base commit for a branch that doesn't exist yet")
	}

	if _, err := ws.Add("a.txt", []byte("hello")); err != nil {
		t.Fatalf("add: %v", err)
	}

	status, err := ws.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Staged) != 1 {
		t.Fatalf("staged entries = %d, want 1", len(status.Staged))
	}

	commit, err := ws.Commit(author(), "first")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	head, _, err := mgr.refs.ResolveBranch("main")
	if err != nil {
		t.Fatalf("resolving branch after commit: %v", err)
	}
	if head != commit.Hash {
		t.Fatalf("branch head = %s, want %s", head, commit.Hash)
	}

	files, err := mgr.tree.AllFiles(commit.Hash.String())
	if err != nil {
		t.Fatalf("reading committed tree: %v", err)
	}
	if _, ok := files["a.txt"]; !ok {
		t.Fatalf("committed tree missing a.txt")
	}

	statusAfter, err := ws.Status()
	if err != nil {
		t.Fatalf("status after commit: %v", err)
	}
	if len(statusAfter.Staged) != 0 {
		t.Fatalf("expected staging cleared after commit, got %d entries", len(statusAfter.Staged))
	}
}

func TestWorkspacesAreIsolatedPerActor(t *testing.T) {
	mgr := newManager(t)

	wsA, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening workspace A: %v", err)
	}
	defer wsA.Close()
	wsB, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening workspace B: %v", err)
	}
	defer wsB.Close()

	if _, err := wsA.Add("a.txt", []byte("from a")); err != nil {
		t.Fatalf("add in A: %v", err)
	}

	statusA, err := wsA.Status()
	if err != nil {
		t.Fatalf("status A: %v", err)
	}
	statusB, err := wsB.Status()
	if err != nil {
		t.Fatalf("status B: %v", err)
	}
	if len(statusA.Staged) != 1 {
		t.Fatalf("workspace A staged = %d, want 1", len(statusA.Staged))
	}
	if len(statusB.Staged) != 0 {
		t.Fatalf("workspace B staged = %d, want 0 (isolation violated)", len(statusB.Staged))
	}
}

func TestWorkspaceCommitRejectedWhenBranchMovedUnderneath(t *testing.T) {
	mgr := newManager(t)

	ws, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening workspace: %v", err)
	}
	defer ws.Close()

	if _, err := ws.Add("a.txt", []byte("hello")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Simulate another client racing a commit onto "main" after this
	// workspace captured its base commit.
	other, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening other workspace: %v", err)
	}
	defer other.Close()
	if _, err := other.Add("b.txt", []byte("world")); err != nil {
		t.Fatalf("add in other: %v", err)
	}
	if _, err := other.Commit(author(), "lands first"); err != nil {
		t.Fatalf("other commit: %v", err)
	}

	_, err = ws.Commit(author(), "lands second")
	if err == nil {
		t.Fatalf("expected commit to fail once the branch has moved")
	}
	diverged, ok := err.(*ozerr.RefDiverged)
	if !ok {
		t.Fatalf("expected *ozerr.RefDiverged, got %T: %v", err, err)
	}
	if diverged.Expected != ws.BaseCommit.String() {
		t.Fatalf("diverged.Expected = %s, want workspace base commit %s", diverged.Expected, ws.BaseCommit)
	}
}

func TestWorkspaceDFAppendMaterializesOnCommit(t *testing.T) {
	mgr := newManager(t)

	ws, err := mgr.Open("main", uuid.New())
	if err != nil {
		t.Fatalf("opening workspace: %v", err)
	}
	defer ws.Close()

	csv := "id,name\n1,alice\n"
	if _, err := ws.Add("people.csv", []byte(csv)); err != nil {
		t.Fatalf("add csv: %v", err)
	}

	rowID, err := ws.DFAppend("people.csv", []byte(`{"id":"2","name":"bob"}`))
	if err != nil {
		t.Fatalf("df_append: %v", err)
	}
	if rowID == "" {
		t.Fatalf("expected non-empty row id")
	}

	commit, err := ws.Commit(author(), "add people with bob")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	files, err := mgr.tree.AllFiles(commit.Hash.String())
	if err != nil {
		t.Fatalf("reading committed tree: %v", err)
	}
	file, ok := files["people.csv"]
	if !ok {
		t.Fatalf("committed tree missing people.csv")
	}
	if file.RowIndexHash == nil {
		t.Fatalf("expected people.csv to carry a row index")
	}

	content := mustReadBlob(t, mgr, file.Hash)
	if !strings.Contains(string(content), "bob") {
		t.Fatalf("committed people.csv does not contain appended row: %q", content)
	}

	idx, err := tabular.Deserialize(mustReadBlob(t, mgr, *file.RowIndexHash))
	if err != nil {
		t.Fatalf("deserializing row index: %v", err)
	}
	if len(idx.Rows) != 2 {
		t.Fatalf("row index has %d rows, want 2", len(idx.Rows))
	}
}

func mustReadBlob(t *testing.T, mgr *Manager, h oxhash.ContentHash) []byte {
	t.Helper()
	rc, err := mgr.blobs.Get(h)
	if err != nil {
		t.Fatalf("reading blob %s: %v", h, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading blob %s: %v", h, err)
	}
	return data
}
