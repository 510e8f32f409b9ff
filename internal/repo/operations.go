package repo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oxen-ai/oxen/internal/checkout"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/staging"
	"github.com/oxen-ai/oxen/internal/tabular"
	"github.com/oxen-ai/oxen/internal/transfer"
)

// bearerTransport attaches a remote's configured access token to every
// outgoing request (§6.3's auth'd remote endpoints).
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func authenticatedHTTPClient(token string) *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &bearerTransport{token: token},
	}
}

// headCommit resolves the commit HEAD currently points to, following a
// branch ref if HEAD is attached to one. Returns the zero hash on an unborn
// branch (no commits yet).
func (r *Repository) headCommit() (oxhash.ContentHash, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	if head.Branch == "" {
		return head.Detached, nil
	}
	commit, _, err := r.refs.ResolveBranch(head.Branch)
	if err != nil {
		if _, ok := err.(*ozerr.BranchNotFound); ok {
			return oxhash.ContentHash{}, nil
		}
		return oxhash.ContentHash{}, err
	}
	return commit, nil
}

// HeadCommitHash exposes headCommit to callers outside the package (the
// CLI's df/diff/info commands resolve a path's committed RowIndex against
// it without needing every other Repository internal).
func (r *Repository) HeadCommitHash() (oxhash.ContentHash, error) {
	return r.headCommit()
}

// Scan reports every working-tree file under pathPrefix that differs from
// the committed tree (§4.6.1).
func (r *Repository) Scan(pathPrefix string) ([]staging.WorkingChange, error) {
	head, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	var files map[string]*merkle.FileNode
	if !head.IsZero() {
		files, err = r.tree.AllFiles(head.String())
		if err != nil {
			return nil, err
		}
	}

	ignore, err := staging.LoadIgnoreSet(r.workDir)
	if err != nil {
		return nil, err
	}
	lookup := func(path string) (oxhash.ContentHash, int64, int64, bool) {
		node, ok := files[path]
		if !ok {
			return oxhash.ContentHash{}, 0, 0, false
		}
		return node.Hash, node.Size, node.ModifiedAt.Unix(), true
	}
	scanner := staging.NewScanner(r.workDir, r.oxenDir, ignore, lookup)
	return scanner.Scan(pathPrefix)
}

// Add stages every working-tree change under pathPrefix (§4.6.3).
func (r *Repository) Add(pathPrefix string) error {
	changes, err := r.Scan(pathPrefix)
	if err != nil {
		return err
	}
	adapter := tabular.NewIndexer(r.blobs)
	for _, c := range changes {
		op := staging.OpAdd
		if c.Modified {
			op = staging.OpModify
		}
		if err := staging.Add(r.staged, r.blobs, adapter, r.workDir, c.Path, op); err != nil {
			return fmt.Errorf("repo: adding %q: %w", c.Path, err)
		}
	}
	return nil
}

// Remove stages path's deletion (§4.6.4).
func (r *Repository) Remove(path string) error {
	return r.staged.Put(staging.Entry{Path: path, Operation: staging.OpRemove})
}

// Status returns every staged change (§4.6.2's rollup is derived from this
// by the caller — status -p dir/ further filters by prefix).
func (r *Repository) Status() ([]staging.Entry, error) {
	return r.staged.All()
}

// Commit assembles every staged entry into a new commit on HEAD and advances
// the current branch (§4.6.5). Fails with *ozerr.NotARepository-adjacent
// *ozerr.RefDiverged if HEAD moved underneath the caller (concurrent
// commits from another process against the same working copy).
func (r *Repository) Commit(message string) (*refs.CommitNode, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return nil, err
	}
	if head.Branch == "" {
		return nil, fmt.Errorf("repo: cannot commit in detached HEAD state")
	}

	base, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	staged, err := r.staged.All()
	if err != nil {
		return nil, err
	}
	if len(staged) == 0 {
		return nil, fmt.Errorf("repo: nothing staged to commit")
	}

	headCommitStr := ""
	if !base.IsZero() {
		headCommitStr = base.String()
	}
	assembly, err := staging.ComposeTree(r.tree, headCommitStr, staged)
	if err != nil {
		return nil, err
	}

	var parents []oxhash.ContentHash
	if !base.IsZero() {
		parents = []oxhash.ContentHash{base}
	}
	author := refs.ActorId(r.Author())
	commit := staging.BuildCommit(assembly.Tree.RootHash, parents, author, message)

	if err := r.tree.Persist(commit.Hash.String(), assembly.Tree); err != nil {
		return nil, err
	}
	if err := r.refs.PutCommit(commit); err != nil {
		return nil, err
	}

	if _, exists, _ := r.refs.ResolveBranch(head.Branch); !exists {
		if err := r.refs.CreateBranch(head.Branch, commit.Hash); err != nil {
			return nil, err
		}
	} else if err := r.refs.UpdateRef(head.Branch, base, commit.Hash); err != nil {
		return nil, err
	}

	if err := r.staged.Clear(); err != nil {
		return nil, err
	}
	return commit, nil
}

// Log returns up to size commits reachable from HEAD, newest first.
func (r *Repository) Log(page, size int) ([]*refs.CommitNode, error) {
	head, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	if head.IsZero() {
		return nil, nil
	}
	return r.refs.Log(head, page, size)
}

// CreateBranch creates name at HEAD's current commit.
func (r *Repository) CreateBranch(name string) error {
	head, err := r.headCommit()
	if err != nil {
		return err
	}
	return r.refs.CreateBranch(name, head)
}

// Checkout switches HEAD to branch, materializing its tree into the working
// directory (§4.8.1).
func (r *Repository) Checkout(branch string, force bool) (*checkout.Result, error) {
	target, _, err := r.refs.ResolveBranch(branch)
	if err != nil {
		return nil, err
	}
	from, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	fromStr := ""
	if !from.IsZero() {
		fromStr = from.String()
	}
	result, err := checkout.Checkout(r.tree, r.blobs, r.workDir, fromStr, target.String(), force)
	if err != nil {
		return nil, err
	}
	if err := r.refs.SetHeadBranch(branch); err != nil {
		return nil, err
	}
	return result, nil
}

// Restore materializes paths from sourceCommit (empty string for HEAD)
// without the local-modification check (§4.8.1).
func (r *Repository) Restore(sourceCommit string, paths []string) (*checkout.Result, error) {
	if sourceCommit == "" {
		head, err := r.headCommit()
		if err != nil {
			return nil, err
		}
		sourceCommit = head.String()
	}
	return checkout.Restore(r.tree, r.blobs, r.workDir, sourceCommit, paths)
}

// Merge merges theirs (a branch name) into the current branch (§4.8.2). On
// success with no conflicts, the caller still needs to stage the resolved
// files and create the merge commit. On a fast-forward, Merge itself
// advances the current branch to theirs; an up-to-date result leaves the
// branch where it is.
func (r *Repository) Merge(theirsBranch string, combine bool) (*checkout.MergeOutcome, error) {
	ours, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	theirs, _, err := r.refs.ResolveBranch(theirsBranch)
	if err != nil {
		return nil, err
	}
	outcome, err := checkout.MergeThreeWay(r.refs, r.tree, r.blobs, r.workDir, ours, theirs, combine)
	if err != nil {
		return nil, err
	}

	head, err := r.refs.GetHead()
	if err != nil {
		return nil, err
	}
	if outcome.FastForward {
		if head.Branch != "" {
			if err := r.refs.UpdateRef(head.Branch, ours, theirs); err != nil {
				return nil, err
			}
		}
	}
	return outcome, nil
}

// CommitMerge records a merge commit with two parents (HEAD and theirs)
// from whatever is currently staged, the way Commit does for an ordinary
// commit (§4.8.2). Called after the caller has staged every FileResolution
// from a conflict-free MergeOutcome.
func (r *Repository) CommitMerge(message string, theirs oxhash.ContentHash) (*refs.CommitNode, error) {
	head, err := r.refs.GetHead()
	if err != nil {
		return nil, err
	}
	if head.Branch == "" {
		return nil, fmt.Errorf("repo: cannot commit in detached HEAD state")
	}

	ours, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	staged, err := r.staged.All()
	if err != nil {
		return nil, err
	}

	oursStr := ""
	if !ours.IsZero() {
		oursStr = ours.String()
	}
	assembly, err := staging.ComposeTree(r.tree, oursStr, staged)
	if err != nil {
		return nil, err
	}

	parents := []oxhash.ContentHash{ours, theirs}
	author := refs.ActorId(r.Author())
	commit := staging.BuildCommit(assembly.Tree.RootHash, parents, author, message)

	if err := r.tree.Persist(commit.Hash.String(), assembly.Tree); err != nil {
		return nil, err
	}
	if err := r.refs.PutCommit(commit); err != nil {
		return nil, err
	}
	if err := r.refs.UpdateRef(head.Branch, ours, commit.Hash); err != nil {
		return nil, err
	}
	if err := r.staged.Clear(); err != nil {
		return nil, err
	}
	return commit, nil
}

// remoteClient builds a transfer.Client against a configured remote,
// attaching the bearer token stored for that remote's host (§6.3, §6.5).
func (r *Repository) remoteClient(remoteName string) (*transfer.Client, error) {
	remote, ok := r.Remote(remoteName)
	if !ok {
		return nil, fmt.Errorf("repo: unknown remote %q", remoteName)
	}
	client := transfer.NewClient(remote.URL, r.refs, r.tree, r.blobs)
	token, err := TokenForURL(remote.URL)
	if err != nil {
		return nil, err
	}
	if token != "" {
		client.HTTP = authenticatedHTTPClient(token)
	}
	return client, nil
}

// Push sends branch's new commits to remoteName (§4.9).
func (r *Repository) Push(ctx context.Context, remoteName, branch string, force bool) (*transfer.PushResult, error) {
	return r.PushWithProgress(ctx, remoteName, branch, force, nil)
}

// PushWithProgress is Push with a blob-transfer progress callback, used by
// the CLI to render a percentage line while a push is in flight.
func (r *Repository) PushWithProgress(ctx context.Context, remoteName, branch string, force bool, onProgress transfer.ProgressFunc) (*transfer.PushResult, error) {
	client, err := r.remoteClient(remoteName)
	if err != nil {
		return nil, err
	}
	client.OnProgress = onProgress
	return client.Push(ctx, branch, force)
}

// Pull fetches branch's new commits from remoteName and fast-forwards the
// local branch (§4.9).
func (r *Repository) Pull(ctx context.Context, remoteName, branch string) (*transfer.PullResult, error) {
	return r.PullWithProgress(ctx, remoteName, branch, nil)
}

// PullWithProgress is Pull with a blob-transfer progress callback.
func (r *Repository) PullWithProgress(ctx context.Context, remoteName, branch string, onProgress transfer.ProgressFunc) (*transfer.PullResult, error) {
	client, err := r.remoteClient(remoteName)
	if err != nil {
		return nil, err
	}
	client.OnProgress = onProgress
	return client.Pull(ctx, remoteName, branch)
}

// Clone is Pull against a freshly Init'd, empty repository.
func Clone(ctx context.Context, workDir, remoteURL, branch string) (*Repository, error) {
	return CloneWithProgress(ctx, workDir, remoteURL, branch, nil)
}

// CloneWithProgress is Clone with a blob-transfer progress callback.
func CloneWithProgress(ctx context.Context, workDir, remoteURL, branch string, onProgress transfer.ProgressFunc) (*Repository, error) {
	r, err := Init(workDir)
	if err != nil {
		return nil, err
	}
	if err := r.SetRemote("origin", remoteURL); err != nil {
		r.Close()
		return nil, err
	}
	client := transfer.NewClient(remoteURL, r.refs, r.tree, r.blobs)
	client.OnProgress = onProgress
	if _, err := client.Clone(ctx, "origin", branch); err != nil {
		r.Close()
		return nil, err
	}
	if _, err := r.Checkout(branch, true); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

var _ = time.Now // reserved for future commit-timestamp overrides (CLI --date flag)
