// Package repo ties together the Object Store (C2), KV Index (C3), Merkle
// Tree (C4), Refs & Commits (C5), Staging Engine (C6), Checkout/Merge (C8),
// and Remote Workspace (C10) components into the single on-disk repository
// described in §3.5, the same role the teacher's gitcore.Repository plays
// for an on-disk .git directory.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/staging"
	"github.com/oxen-ai/oxen/internal/workspace"
)

const metaDirName = ".oxen"

// Repository is an open Oxen working copy: the metadata directory's KV
// stores and blob store, wired together and ready for staging/commit/
// checkout/transfer operations.
type Repository struct {
	mu sync.RWMutex

	workDir string
	oxenDir string
	config  Config

	pool       *kvstore.Pool
	blobs      *objstore.Store
	tree       *merkle.Store
	refs       *refs.Store
	staged     *staging.Store
	workspaces *workspace.Manager
}

// WorkDir returns the repository's working directory (the parent of
// .oxen).
func (r *Repository) WorkDir() string { return r.workDir }

// OxenDir returns the repository's metadata directory.
func (r *Repository) OxenDir() string { return r.oxenDir }

// Blobs, Tree, Refs, Staged, and Workspaces expose the underlying
// components for callers (cli, server) that need direct access beyond the
// convenience methods here.
func (r *Repository) Blobs() *objstore.Store { return r.blobs }
func (r *Repository) Tree() *merkle.Store { return r.tree }
func (r *Repository) Refs() *refs.Store { return r.refs }
func (r *Repository) Staged() *staging.Store { return r.staged }
func (r *Repository) Workspaces() *workspace.Manager { return r.workspaces }

// Init creates a new repository rooted at workDir: the .oxen metadata
// directory, a default config, and HEAD pointing at the default branch
// (unborn — no commits yet, per §4.5).
func Init(workDir string) (*Repository, error) {
	oxenDir := filepath.Join(workDir, metaDirName)
	if _, err := os.Stat(oxenDir); err == nil {
		return nil, &ozerr.RepoAlreadyExists{Path: workDir}
	}
	if err := os.MkdirAll(oxenDir, 0o750); err != nil {
		return nil, fmt.Errorf("repo: creating %s: %w", oxenDir, err)
	}

	cfg := defaultConfig()
	if err := saveConfig(oxenDir, cfg); err != nil {
		return nil, err
	}

	r, err := open(workDir, oxenDir, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.refs.SetHeadBranch(cfg.DefaultBranch); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Open locates an existing repository starting at path (walking parent
// directories the way `git` locates .git, since a command can be run from
// any subdirectory of the working copy) and opens its component stores.
func Open(path string) (*Repository, error) {
	workDir, oxenDir, err := findOxenDir(path)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(oxenDir)
	if err != nil {
		return nil, err
	}
	return open(workDir, oxenDir, cfg)
}

func open(workDir, oxenDir string, cfg Config) (*Repository, error) {
	pool := kvstore.NewPool(kvstore.DefaultMaxOpen)

	refsStore, err := refs.Open(pool, oxenDir)
	if err != nil {
		return nil, err
	}
	stagedStore, err := staging.Open(pool, oxenDir)
	if err != nil {
		refsStore.Close()
		return nil, err
	}
	blobs, err := objstore.Open(filepath.Join(oxenDir, "versions"))
	if err != nil {
		refsStore.Close()
		stagedStore.Close()
		return nil, err
	}
	tree := merkle.NewStore(pool, filepath.Join(oxenDir, "history"))
	workspaces := workspace.NewManager(pool, oxenDir, blobs, tree, refsStore)

	return &Repository{
		workDir:    workDir,
		oxenDir:    oxenDir,
		config:     cfg,
		pool:       pool,
		blobs:      blobs,
		tree:       tree,
		refs:       refsStore,
		staged:     stagedStore,
		workspaces: workspaces,
	}, nil
}

// Close releases every underlying KV handle back to the pool.
func (r *Repository) Close() error {
	r.refs.Close()
	r.staged.Close()
	return r.pool.CloseAll()
}

// findOxenDir walks upward from path looking for a .oxen directory, the
// same upward-search discovery `git` (and the teacher's findGitDirectory)
// uses so a command works from any subdirectory of the working copy.
func findOxenDir(path string) (workDir, oxenDir string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	dir := abs
	for {
		candidate := filepath.Join(dir, metaDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return dir, candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", &ozerr.NotARepository{Path: abs}
		}
		dir = parent
	}
}
