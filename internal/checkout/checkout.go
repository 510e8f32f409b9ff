// Package checkout materializes commit trees into the working directory and
// implements Oxen's three-way merge (§4.8).
package checkout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
)

// TreeReader resolves a commit's full file set, satisfied by *merkle.Store.
type TreeReader interface {
	AllFiles(commit string) (map[string]*merkle.FileNode, error)
}

// BlobStore opens a stored blob for streaming read and accepts new blobs
// (the latter used by Merge to persist a combined RowIndex), satisfied by
// *objstore.Store.
type BlobStore interface {
	Get(h oxhash.ContentHash) (io.ReadCloser, error)
	Put(r io.Reader) (oxhash.ContentHash, error)
}

// Result summarizes what a Checkout/Restore call did.
type Result struct {
	Written []string
	Deleted []string
}

// Checkout materializes toCommit's tree into root (§4.8.1). fromCommit is the
// worktree's previous HEAD, used to determine which committed files should be
// removed because they no longer exist in the target tree; pass "" on a fresh
// checkout into an empty worktree. A path present in the worktree with
// modifications not present in fromCommit's recorded hash is refused unless
// force is set.
func Checkout(reader TreeReader, blobs BlobStore, root, fromCommit, toCommit string, force bool) (*Result, error) {
	target, err := reader.AllFiles(toCommit)
	if err != nil {
		return nil, fmt.Errorf("checkout: reading target tree %s: %w", toCommit, err)
	}
	var from map[string]*merkle.FileNode
	if fromCommit != "" {
		from, err = reader.AllFiles(fromCommit)
		if err != nil {
			return nil, fmt.Errorf("checkout: reading current tree %s: %w", fromCommit, err)
		}
	}

	var conflicts []string
	var writes []string
	for path, node := range target {
		match, err := matchesHash(root, path, node.Hash)
		if err != nil {
			return nil, err
		}
		if match {
			continue // already matches target, nothing to do
		}
		ok, err := canOverwrite(root, path, from[path])
		if err != nil {
			return nil, err
		}
		if !ok && !force {
			conflicts = append(conflicts, path)
			continue
		}
		writes = append(writes, path)
	}

	var deletes []string
	for path := range from {
		if _, stillPresent := target[path]; stillPresent {
			continue
		}
		ok, err := canOverwrite(root, path, from[path])
		if err != nil {
			return nil, err
		}
		if !ok && !force {
			conflicts = append(conflicts, path)
			continue
		}
		deletes = append(deletes, path)
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, &ozerr.WorkingTreeDirty{Paths: conflicts}
	}

	sort.Strings(writes)
	for _, path := range writes {
		if err := materialize(blobs, root, path, target[path]); err != nil {
			return nil, err
		}
	}

	// Deletions run last so the worktree is never transiently missing a file
	// the user might have open (§4.8.1).
	sort.Strings(deletes)
	for _, path := range deletes {
		absPath := filepath.Join(root, filepath.FromSlash(path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("checkout: removing %s: %w", path, err)
		}
		removeEmptyParents(root, filepath.Dir(absPath))
	}

	return &Result{Written: writes, Deleted: deletes}, nil
}

// Restore materializes only the given paths from sourceCommit (defaulting to
// the caller's notion of HEAD) into root, bypassing the local-modification
// check — it is always an explicit, path-scoped overwrite (§4.8.1).
func Restore(reader TreeReader, blobs BlobStore, root, sourceCommit string, paths []string) (*Result, error) {
	tree, err := reader.AllFiles(sourceCommit)
	if err != nil {
		return nil, fmt.Errorf("checkout: reading source tree %s: %w", sourceCommit, err)
	}

	var written []string
	for _, p := range paths {
		node, ok := tree[p]
		if !ok {
			return nil, &ozerr.PathNotFound{Path: p}
		}
		if err := materialize(blobs, root, p, node); err != nil {
			return nil, err
		}
		written = append(written, p)
	}
	return &Result{Written: written}, nil
}

// matchesHash reports whether the worktree file at path already has the
// given content hash, treating a missing file as not matching.
func matchesHash(root, path string, want oxhash.ContentHash) (bool, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checkout: opening %s: %w", path, err)
	}
	defer f.Close()
	h, err := oxhash.Sum(f)
	if err != nil {
		return false, fmt.Errorf("checkout: hashing %s: %w", path, err)
	}
	return h == want, nil
}

// canOverwrite reports whether path can be safely written without losing
// local edits: true if the worktree file is missing, or present but matching
// the last-known committed hash (from may be nil for an untracked/new path).
func canOverwrite(root, path string, from *merkle.FileNode) (bool, error) {
	absPath := filepath.Join(root, filepath.FromSlash(path))
	f, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("checkout: opening %s: %w", path, err)
	}
	defer f.Close()

	if from == nil {
		// No committed record for this path — any existing content here is
		// either untracked or was staged independently; don't clobber it.
		return false, nil
	}

	h, err := oxhash.Sum(f)
	if err != nil {
		return false, fmt.Errorf("checkout: hashing %s: %w", path, err)
	}
	return h == from.Hash, nil
}

// rootJoin resolves a repo-root-relative path to its absolute worktree path.
func rootJoin(root, path string) string {
	return filepath.Join(root, filepath.FromSlash(path))
}

func materialize(blobs BlobStore, root, path string, node *merkle.FileNode) error {
	absPath := rootJoin(root, path)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("checkout: creating parent dir for %s: %w", path, err)
	}

	r, err := blobs.Get(node.Hash)
	if err != nil {
		return fmt.Errorf("checkout: fetching blob for %s: %w", path, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(absPath), ".oxen-checkout-*")
	if err != nil {
		return fmt.Errorf("checkout: creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkout: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkout: publishing %s: %w", path, err)
	}
	if !node.ModifiedAt.IsZero() {
		_ = os.Chtimes(absPath, node.ModifiedAt, node.ModifiedAt)
	}
	return nil
}

// removeEmptyParents prunes directories left empty by a deletion, stopping
// at root. Best-effort: failures are ignored, an empty stray directory is
// harmless.
func removeEmptyParents(root, dir string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
