package merkle

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
)

// Store persists and loads per-commit trees under history/<commit>/{dirs,files}
// (§3.5), each commit's pair of logical DBs opened lazily through the shared
// handle pool so a repository with a long history never keeps every commit's
// KV files open at once.
type Store struct {
	pool    *kvstore.Pool
	histDir string // <repo>/.oxen/history
}

// NewStore opens a Store rooted at the repository's history directory.
func NewStore(pool *kvstore.Pool, historyDir string) *Store {
	return &Store{pool: pool, histDir: historyDir}
}

func (s *Store) dirsPath(commit string) string {
	return filepath.Join(s.histDir, commit, "dirs")
}

func (s *Store) filesPath(commit string) string {
	return filepath.Join(s.histDir, commit, "files")
}

// Persist writes every DirNode and FileNode of t into commit's dirs/files KV,
// batched per-DB so a crash mid-write never leaves a partially-written tree
// visible to a reader (§4.3's batched atomic writes).
func (s *Store) Persist(commit string, t *Tree) error {
	dirsDB, err := s.pool.OpenDB(s.dirsPath(commit))
	if err != nil {
		return fmt.Errorf("merkle: opening dirs db for %s: %w", commit, err)
	}
	defer dirsDB.Close()

	dirKVs := make(map[string][]byte, len(t.Dirs))
	for path, node := range t.Dirs {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("merkle: marshaling dir %q: %w", path, err)
		}
		dirKVs[keyOrRoot(path)] = data
	}
	if err := dirsDB.BatchPut(dirKVs); err != nil {
		return fmt.Errorf("merkle: writing dirs for %s: %w", commit, err)
	}

	filesDB, err := s.pool.OpenDB(s.filesPath(commit))
	if err != nil {
		return fmt.Errorf("merkle: opening files db for %s: %w", commit, err)
	}
	defer filesDB.Close()

	fileKVs := make(map[string][]byte, len(t.Files))
	for path, node := range t.Files {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("merkle: marshaling file %q: %w", path, err)
		}
		fileKVs[path] = data
	}
	if err := filesDB.BatchPut(fileKVs); err != nil {
		return fmt.Errorf("merkle: writing files for %s: %w", commit, err)
	}
	return nil
}

// Dir loads a single DirNode by its repo-root-relative path ("" for root).
func (s *Store) Dir(commit, dirPath string) (*DirNode, bool, error) {
	db, err := s.pool.OpenDB(s.dirsPath(commit))
	if err != nil {
		return nil, false, err
	}
	defer db.Close()

	data, ok, err := db.Get(keyOrRoot(dirPath))
	if err != nil || !ok {
		return nil, ok, err
	}
	var node DirNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, false, fmt.Errorf("merkle: corrupt dir record %q@%s: %w", dirPath, commit, err)
	}
	return &node, true, nil
}

// File loads a single FileNode by its repo-root-relative path.
func (s *Store) File(commit, filePath string) (*FileNode, bool, error) {
	db, err := s.pool.OpenDB(s.filesPath(commit))
	if err != nil {
		return nil, false, err
	}
	defer db.Close()

	data, ok, err := db.Get(filePath)
	if err != nil || !ok {
		return nil, ok, err
	}
	var node FileNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, false, fmt.Errorf("merkle: corrupt file record %q@%s: %w", filePath, commit, err)
	}
	return &node, true, nil
}

// AllFiles loads every FileNode under commit's tree, keyed by repo-root-
// relative path. Used to seed a new commit's base file set (§4.6.5) and to
// enumerate a tree for checkout/diff without walking DirNodes one at a time.
func (s *Store) AllFiles(commit string) (map[string]*FileNode, error) {
	db, err := s.pool.OpenDB(s.filesPath(commit))
	if err != nil {
		return nil, fmt.Errorf("merkle: opening files db for %s: %w", commit, err)
	}
	defer db.Close()

	out := map[string]*FileNode{}
	err = db.ForEach(func(key, val []byte) error {
		var node FileNode
		if err := json.Unmarshal(val, &node); err != nil {
			return fmt.Errorf("merkle: corrupt file record %q@%s: %w", key, commit, err)
		}
		out[string(key)] = &node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func keyOrRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
