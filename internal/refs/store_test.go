package refs

import (
	"testing"
	"time"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/oxhash"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	pool := kvstore.NewPool(8)
	s, err := Open(pool, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkCommit(s *Store, parents []oxhash.ContentHash, msg string) *CommitNode {
	root := oxhash.SumBytes([]byte(msg))
	c := &CommitNode{
		RootDirHash: root,
		Parents:     parents,
		Author:      ActorId{Name: "tester", Email: "t@example.com"},
		Timestamp:   time.Unix(1700000000, 0).UTC(),
		Message:     msg,
	}
	c.Hash = ComputeHash(c.RootDirHash, c.Parents, c.Author, c.Timestamp, c.Message)
	return c
}

func TestCreateBranchFailsIfAlreadyExists(t *testing.T) {
	s := openTestStore(t)
	c := oxhash.SumBytes([]byte("c1"))

	if err := s.CreateBranch("main", c); err != nil {
		t.Fatalf("first CreateBranch: %v", err)
	}
	err := s.CreateBranch("main", c)
	if _, ok := err.(*ozerr.BranchExists); !ok {
		t.Fatalf("second CreateBranch error = %v, want *ozerr.BranchExists", err)
	}
}

func TestDeleteBranchRejectsHead(t *testing.T) {
	s := openTestStore(t)
	c := oxhash.SumBytes([]byte("c1"))
	if err := s.CreateBranch("main", c); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := s.SetHeadBranch("main"); err != nil {
		t.Fatalf("SetHeadBranch: %v", err)
	}
	if err := s.DeleteBranch("main"); err == nil {
		t.Fatalf("DeleteBranch succeeded for the current HEAD branch")
	}
}

func TestUpdateRefCASRejectsDivergedExpectation(t *testing.T) {
	s := openTestStore(t)
	c1 := oxhash.SumBytes([]byte("c1"))
	c2 := oxhash.SumBytes([]byte("c2"))
	c3 := oxhash.SumBytes([]byte("c3"))

	if err := s.CreateBranch("main", c1); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := s.UpdateRef("main", c1, c2); err != nil {
		t.Fatalf("UpdateRef c1->c2: %v", err)
	}
	err := s.UpdateRef("main", c1, c3) // stale expectation: main is now c2
	if _, ok := err.(*ozerr.RefDiverged); !ok {
		t.Fatalf("UpdateRef with stale expectation = %v, want *ozerr.RefDiverged", err)
	}

	got, _, err := s.ResolveBranch("main")
	if err != nil {
		t.Fatalf("ResolveBranch: %v", err)
	}
	if got != c2 {
		t.Fatalf("branch advanced despite rejected CAS: got %s, want %s", got, c2)
	}
}

func TestHeadDetachedVsBranch(t *testing.T) {
	s := openTestStore(t)
	c := oxhash.SumBytes([]byte("c1"))

	if err := s.SetHeadDetached(c); err != nil {
		t.Fatalf("SetHeadDetached: %v", err)
	}
	head, err := s.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head.Branch != "" || head.Detached != c {
		t.Fatalf("GetHead = %+v, want detached at %s", head, c)
	}

	if err := s.SetHeadBranch("main"); err != nil {
		t.Fatalf("SetHeadBranch: %v", err)
	}
	head, err = s.GetHead()
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head.Branch != "main" {
		t.Fatalf("GetHead = %+v, want branch main", head)
	}
}

func TestLogFollowsFirstParentOnly(t *testing.T) {
	s := openTestStore(t)

	c1 := mkCommit(s, nil, "root")
	if err := s.PutCommit(c1); err != nil {
		t.Fatalf("PutCommit c1: %v", err)
	}
	c2 := mkCommit(s, []oxhash.ContentHash{c1.Hash}, "second")
	if err := s.PutCommit(c2); err != nil {
		t.Fatalf("PutCommit c2: %v", err)
	}
	branch := mkCommit(s, []oxhash.ContentHash{c1.Hash}, "side-branch")
	if err := s.PutCommit(branch); err != nil {
		t.Fatalf("PutCommit branch: %v", err)
	}
	merge := mkCommit(s, []oxhash.ContentHash{c2.Hash, branch.Hash}, "merge")
	if err := s.PutCommit(merge); err != nil {
		t.Fatalf("PutCommit merge: %v", err)
	}

	log, err := s.Log(merge.Hash, 0, 10)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("Log returned %d commits, want 3 (merge, second, root), got %+v", len(log), log)
	}
	if log[0].Hash != merge.Hash || log[1].Hash != c2.Hash || log[2].Hash != c1.Hash {
		t.Fatalf("Log did not follow first-parent chain: %+v", log)
	}
}

func TestIsAncestorAndMergeBase(t *testing.T) {
	s := openTestStore(t)

	c1 := mkCommit(s, nil, "root")
	_ = s.PutCommit(c1)
	c2 := mkCommit(s, []oxhash.ContentHash{c1.Hash}, "second")
	_ = s.PutCommit(c2)
	branchA := mkCommit(s, []oxhash.ContentHash{c2.Hash}, "branch-a")
	_ = s.PutCommit(branchA)
	branchB := mkCommit(s, []oxhash.ContentHash{c2.Hash}, "branch-b")
	_ = s.PutCommit(branchB)

	ok, err := s.IsAncestor(c1.Hash, branchA.Hash)
	if err != nil || !ok {
		t.Fatalf("IsAncestor(root, branchA) = %v, %v, want true", ok, err)
	}
	ok, err = s.IsAncestor(branchA.Hash, branchB.Hash)
	if err != nil || ok {
		t.Fatalf("IsAncestor(branchA, branchB) = %v, %v, want false", ok, err)
	}

	base, err := s.MergeBase(branchA.Hash, branchB.Hash)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if base != c2.Hash {
		t.Fatalf("MergeBase = %s, want %s", base, c2.Hash)
	}
}

func TestComputeHashDeterministicAcrossEquivalentInputs(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	author := ActorId{Name: "a", Email: "a@example.com"}
	root := oxhash.SumBytes([]byte("tree"))

	h1 := ComputeHash(root, nil, author, ts, "msg")
	h2 := ComputeHash(root, nil, author, ts, "msg")
	if h1 != h2 {
		t.Fatalf("ComputeHash not deterministic: %s != %s", h1, h2)
	}

	h3 := ComputeHash(root, nil, author, ts, "different message")
	if h1 == h3 {
		t.Fatalf("ComputeHash ignored message content")
	}
}
