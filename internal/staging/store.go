package staging

import (
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen/internal/kvstore"
)

// Store persists StagedEntry records and their per-directory rollup under
// <repo>/.oxen/staged/{files,dirs} (§3.5). The dirs KV is a derived cache:
// it is recomputed incrementally as files change so status never has to
// rescan every staged path to answer "how many changes under src/?".
type Store struct {
	files *kvstore.DB
	dirs  *kvstore.DB
}

// Open acquires the staged files/dirs KV handles under oxenDir.
func Open(pool *kvstore.Pool, oxenDir string) (*Store, error) {
	filesDB, err := pool.OpenDB(filepath.Join(oxenDir, "staged", "files"))
	if err != nil {
		return nil, fmt.Errorf("staging: opening staged files db: %w", err)
	}
	dirsDB, err := pool.OpenDB(filepath.Join(oxenDir, "staged", "dirs"))
	if err != nil {
		filesDB.Close()
		return nil, fmt.Errorf("staging: opening staged dirs db: %w", err)
	}
	return &Store{files: filesDB, dirs: dirsDB}, nil
}

// Close releases both underlying handles back to the pool.
func (s *Store) Close() error {
	s.files.Close()
	s.dirs.Close()
	return nil
}

// Put records a StagedEntry, replacing any prior entry for the same path and
// adjusting the affected directory's rollup counts.
func (s *Store) Put(e Entry) error {
	if old, ok, err := s.Get(e.Path); err != nil {
		return err
	} else if ok {
		if err := s.adjustRollup(e.Path, old.Operation, -1); err != nil {
			return err
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("staging: marshaling entry %q: %w", e.Path, err)
	}
	if err := s.files.Put(e.Path, data); err != nil {
		return fmt.Errorf("staging: writing entry %q: %w", e.Path, err)
	}
	return s.adjustRollup(e.Path, e.Operation, 1)
}

// Get loads the StagedEntry for path, if any.
func (s *Store) Get(p string) (Entry, bool, error) {
	data, ok, err := s.files.Get(p)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("staging: corrupt entry %q: %w", p, err)
	}
	return e, true, nil
}

// Delete removes a path's staged entry (used when rm --cached discards a
// pending add, or when status reconciliation drops a stale entry).
func (s *Store) Delete(p string) error {
	old, ok, err := s.Get(p)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.files.Delete(p); err != nil {
		return err
	}
	return s.adjustRollup(p, old.Operation, -1)
}

// All returns every staged entry, in no particular order.
func (s *Store) All() ([]Entry, error) {
	var entries []Entry
	err := s.files.ForEach(func(_, v []byte) error {
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Clear removes every staged entry and rollup, used after a successful
// commit (§4.6.5 step 6).
func (s *Store) Clear() error {
	var fileKeys []string
	if err := s.files.ForEach(func(k, _ []byte) error {
		fileKeys = append(fileKeys, string(k))
		return nil
	}); err != nil {
		return err
	}
	if err := s.files.BatchDelete(fileKeys); err != nil {
		return err
	}

	var dirKeys []string
	if err := s.dirs.ForEach(func(k, _ []byte) error {
		dirKeys = append(dirKeys, string(k))
		return nil
	}); err != nil {
		return err
	}
	return s.dirs.BatchDelete(dirKeys)
}

// Rollup returns the rollup counts for a directory path ("" for repo root).
func (s *Store) Rollup(dirPath string) (DirRollup, error) {
	data, ok, err := s.dirs.Get(rollupKey(dirPath))
	if err != nil || !ok {
		return DirRollup{}, err
	}
	var r DirRollup
	if err := json.Unmarshal(data, &r); err != nil {
		return DirRollup{}, fmt.Errorf("staging: corrupt rollup %q: %w", dirPath, err)
	}
	return r, nil
}

// adjustRollup applies delta (+1 to add an operation's effect, -1 to undo
// it) to every ancestor directory of p, matching the rollup semantics in
// §4.6.2 where a change to a deeply nested file is visible at every level.
func (s *Store) adjustRollup(p string, op Operation, delta int) error {
	for dir := path.Dir(p); ; dir = parentOf(dir) {
		if dir == "." {
			dir = ""
		}
		r, err := s.Rollup(dir)
		if err != nil {
			return err
		}
		applyDelta(&r, op, delta)

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.dirs.Put(rollupKey(dir), data); err != nil {
			return err
		}
		if dir == "" {
			break
		}
	}
	return nil
}

func applyDelta(r *DirRollup, op Operation, delta int) {
	switch op {
	case OpAdd:
		r.Added += delta
	case OpModify:
		r.Modified += delta
	case OpRemove:
		r.Removed += delta
	}
}

func parentOf(dir string) string {
	if dir == "" {
		return ""
	}
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		return dir[:idx]
	}
	return ""
}

func rollupKey(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}
