package refs

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
)

const headKey = "HEAD"

// branchKey and remoteKey format the two ref namespaces from §3.2.
func branchKey(name string) string { return "branches/" + name }
func remoteKey(remote, name string) string { return "remotes/" + remote + "/" + name }

// Store is the refs+commits KV pair for one repository, opened against
// <repo>/.oxen/refs and <repo>/.oxen/commits (§3.5).
type Store struct {
	refs    *kvstore.DB
	commits *kvstore.DB
}

// Open acquires the refs and commits KV handles under oxenDir.
func Open(pool *kvstore.Pool, oxenDir string) (*Store, error) {
	refsDB, err := pool.OpenDB(filepath.Join(oxenDir, "refs"))
	if err != nil {
		return nil, fmt.Errorf("refs: opening refs db: %w", err)
	}
	commitsDB, err := pool.OpenDB(filepath.Join(oxenDir, "commits"))
	if err != nil {
		refsDB.Close()
		return nil, fmt.Errorf("refs: opening commits db: %w", err)
	}
	return &Store{refs: refsDB, commits: commitsDB}, nil
}

// Close releases both underlying handles back to the pool.
func (s *Store) Close() error {
	s.refs.Close()
	s.commits.Close()
	return nil
}

// CreateBranch writes branches/<name> -> at, failing if the branch already
// exists (§4.5).
func (s *Store) CreateBranch(name string, at oxhash.ContentHash) error {
	ok, err := s.refs.CAS(branchKey(name), nil, []byte(at.String()))
	if err != nil {
		return fmt.Errorf("refs: creating branch %q: %w", name, err)
	}
	if !ok {
		return &ozerr.BranchExists{Name: name}
	}
	return nil
}

// DeleteBranch removes branches/<name>. It is rejected if name is the
// branch HEAD currently points to.
func (s *Store) DeleteBranch(name string) error {
	head, err := s.GetHead()
	if err != nil {
		return err
	}
	if head.Branch == name {
		return fmt.Errorf("refs: cannot delete branch %q: it is the current HEAD", name)
	}
	if _, _, err := s.ResolveBranch(name); err != nil {
		return err
	}
	return s.refs.Delete(branchKey(name))
}

// ResolveBranch reads the commit a local branch currently points to.
func (s *Store) ResolveBranch(name string) (oxhash.ContentHash, bool, error) {
	return s.resolveHashKey(branchKey(name), name)
}

// ResolveRemoteRef reads a remote-tracking ref's last observed tip.
func (s *Store) ResolveRemoteRef(remote, name string) (oxhash.ContentHash, bool, error) {
	return s.resolveHashKey(remoteKey(remote, name), remote+"/"+name)
}

func (s *Store) resolveHashKey(key, label string) (oxhash.ContentHash, bool, error) {
	raw, ok, err := s.refs.Get(key)
	if err != nil {
		return oxhash.ContentHash{}, false, fmt.Errorf("refs: resolving %q: %w", label, err)
	}
	if !ok {
		return oxhash.ContentHash{}, false, &ozerr.BranchNotFound{Name: label}
	}
	h, err := oxhash.Parse(string(raw))
	if err != nil {
		return oxhash.ContentHash{}, false, fmt.Errorf("refs: corrupt ref %q: %w", label, err)
	}
	return h, true, nil
}

// UpdateRef compare-and-swaps branches/<name> from expected to newCommit,
// giving push and commit advancement a linearizable update (§4.5, §5).
// A zero expected value means "ref must not currently exist."
func (s *Store) UpdateRef(name string, expected, newCommit oxhash.ContentHash) error {
	var expectedBytes []byte
	if !expected.IsZero() {
		expectedBytes = []byte(expected.String())
	}
	ok, err := s.refs.CAS(branchKey(name), expectedBytes, []byte(newCommit.String()))
	if err != nil {
		return fmt.Errorf("refs: updating branch %q: %w", name, err)
	}
	if !ok {
		actual := ""
		if raw, found, gerr := s.refs.Get(branchKey(name)); gerr == nil && found {
			actual = string(raw)
		}
		return &ozerr.RefDiverged{Ref: name, Expected: expected.String(), Actual: actual}
	}
	return nil
}

// UpdateRemoteRef unconditionally sets a remote-tracking ref to the last
// observed tip after a successful fetch/push.
func (s *Store) UpdateRemoteRef(remote, name string, commit oxhash.ContentHash) error {
	return s.refs.Put(remoteKey(remote, name), []byte(commit.String()))
}

// Head describes the HEAD ref: either a named branch (Branch != "") or a
// detached commit (Detached != zero).
type Head struct {
	Branch   string
	Detached oxhash.ContentHash
}

// GetHead reads HEAD, which names either a branch or a detached commit hash.
func (s *Store) GetHead() (Head, error) {
	raw, ok, err := s.refs.Get(headKey)
	if err != nil {
		return Head{}, fmt.Errorf("refs: reading HEAD: %w", err)
	}
	if !ok {
		return Head{}, nil
	}
	const branchPrefix = "ref: "
	text := string(raw)
	if len(text) >= len(branchPrefix) && text[:len(branchPrefix)] == branchPrefix {
		return Head{Branch: text[len(branchPrefix):]}, nil
	}
	h, err := oxhash.Parse(text)
	if err != nil {
		return Head{}, fmt.Errorf("refs: corrupt HEAD: %w", err)
	}
	return Head{Detached: h}, nil
}

// SetHeadBranch points HEAD at a branch name.
func (s *Store) SetHeadBranch(name string) error {
	return s.refs.Put(headKey, []byte("ref: "+name))
}

// SetHeadDetached points HEAD directly at a commit, bypassing any branch.
func (s *Store) SetHeadDetached(commit oxhash.ContentHash) error {
	return s.refs.Put(headKey, []byte(commit.String()))
}

// HeadCommit resolves HEAD all the way to a commit hash, following the
// branch indirection if HEAD is not detached.
func (s *Store) HeadCommit() (oxhash.ContentHash, bool, error) {
	head, err := s.GetHead()
	if err != nil {
		return oxhash.ContentHash{}, false, err
	}
	if head.Branch == "" {
		return head.Detached, !head.Detached.IsZero(), nil
	}
	return s.ResolveBranch(head.Branch)
}

// PutCommit writes a CommitNode, keyed by its own hash. Commits are
// write-once: the hash is computed from the node's content, so writing the
// same commit twice is a no-op.
func (s *Store) PutCommit(c *CommitNode) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("refs: marshaling commit %s: %w", c.Hash, err)
	}
	return s.commits.Put(c.Hash.String(), data)
}

// GetCommit loads a CommitNode by hash.
func (s *Store) GetCommit(hash oxhash.ContentHash) (*CommitNode, error) {
	data, ok, err := s.commits.Get(hash.String())
	if err != nil {
		return nil, fmt.Errorf("refs: reading commit %s: %w", hash, err)
	}
	if !ok {
		return nil, &ozerr.CommitNotFound{Hash: hash.String()}
	}
	var c CommitNode
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("refs: corrupt commit %s: %w", hash, err)
	}
	return &c, nil
}

// Log returns a page of commits reachable from from, following only the
// first parent at merges (§4.5). page is zero-indexed.
func (s *Store) Log(from oxhash.ContentHash, page, size int) ([]*CommitNode, error) {
	if size <= 0 {
		size = 20
	}
	skip := page * size
	var result []*CommitNode
	cur := from
	for i := 0; !cur.IsZero(); i++ {
		c, err := s.GetCommit(cur)
		if err != nil {
			return nil, err
		}
		if i >= skip {
			result = append(result, c)
			if len(result) == size {
				break
			}
		}
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}
	return result, nil
}

// IsAncestor reports whether a is reachable from b by following all parent
// edges (including second parents of merges), via BFS (§4.5).
func (s *Store) IsAncestor(a, b oxhash.ContentHash) (bool, error) {
	if a == b {
		return true, nil
	}
	visited := map[oxhash.ContentHash]bool{b: true}
	queue := []oxhash.ContentHash{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := s.GetCommit(cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == a {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// MergeBase finds the nearest common ancestor of a and b, used by three-way
// merge (§4.8.2): it collects every ancestor of a, then walks b's parent
// edges breadth-first and returns the first commit found in that set.
func (s *Store) MergeBase(a, b oxhash.ContentHash) (oxhash.ContentHash, error) {
	ancestorsOfA, err := s.ancestorSet(a)
	if err != nil {
		return oxhash.ContentHash{}, err
	}

	visited := map[oxhash.ContentHash]bool{}
	queue := []oxhash.ContentHash{b}
	visited[b] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if ancestorsOfA[cur] {
			return cur, nil
		}
		c, err := s.GetCommit(cur)
		if err != nil {
			return oxhash.ContentHash{}, err
		}
		for _, p := range c.Parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return oxhash.ContentHash{}, nil
}

// Ancestors returns every commit reachable from from (inclusive) by
// following all parent edges, breadth-first, stopping once depthCap
// generations have been visited (depthCap <= 0 means unbounded). Used by the
// transfer protocol's commit-graph-diff step (§4.9) to let a peer describe
// its ancestry without shipping its entire history.
func (s *Store) Ancestors(from oxhash.ContentHash, depthCap int) ([]oxhash.ContentHash, error) {
	if from.IsZero() {
		return nil, nil
	}
	visited := map[oxhash.ContentHash]bool{from: true}
	result := []oxhash.ContentHash{from}
	frontier := []oxhash.ContentHash{from}

	for depth := 0; len(frontier) > 0; depth++ {
		if depthCap > 0 && depth >= depthCap {
			break
		}
		var next []oxhash.ContentHash
		for _, cur := range frontier {
			c, err := s.GetCommit(cur)
			if err != nil {
				return nil, err
			}
			for _, p := range c.Parents {
				if !visited[p] {
					visited[p] = true
					result = append(result, p)
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

func (s *Store) ancestorSet(from oxhash.ContentHash) (map[oxhash.ContentHash]bool, error) {
	set := map[oxhash.ContentHash]bool{from: true}
	queue := []oxhash.ContentHash{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := s.GetCommit(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if !set[p] {
				set[p] = true
				queue = append(queue, p)
			}
		}
	}
	return set, nil
}
