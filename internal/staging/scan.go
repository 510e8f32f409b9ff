package staging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// CommittedLookup resolves the last-committed FileNode hash for a path, used
// to decide whether a working-tree file has changed (§4.6.1).
type CommittedLookup func(path string) (hash oxhash.ContentHash, size int64, modTime int64, found bool)

// WorkingChange is one file difference found by a scan: untracked, modified,
// or (implicitly, by absence) deleted relative to the committed tree.
type WorkingChange struct {
	Path     string
	Hash     oxhash.ContentHash
	Size     int64
	Modified bool // differs from the committed record
	Tracked  bool // false => untracked
}

// Scanner walks a working tree, skipping the metadata directory and any
// .oxenignore match, and reports files that differ from the committed tree.
type Scanner struct {
	root    string
	oxenDir string
	ignore  *IgnoreSet
	lookup  CommittedLookup
}

// NewScanner constructs a Scanner rooted at root, whose metadata lives under
// oxenDir (typically root/.oxen — excluded from every scan).
func NewScanner(root, oxenDir string, ignore *IgnoreSet, lookup CommittedLookup) *Scanner {
	return &Scanner{root: root, oxenDir: oxenDir, ignore: ignore, lookup: lookup}
}

// Scan walks pathPrefix (relative to root; "" for the whole tree),
// parallelizing across the prefix's top-level directories (§4.6.1).
func (s *Scanner) Scan(pathPrefix string) ([]WorkingChange, error) {
	absPrefix := filepath.Join(s.root, filepath.FromSlash(pathPrefix))
	entries, err := os.ReadDir(absPrefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []WorkingChange
		firstErr error
	)

	for _, entry := range entries {
		relChild := joinRel(pathPrefix, entry.Name())
		if s.skip(relChild, entry.IsDir()) {
			continue
		}

		if !entry.IsDir() {
			wg.Add(1)
			go func(rel string) {
				defer wg.Done()
				change, ok, err := s.scanFile(rel)
				mu.Lock()
				defer mu.Unlock()
				if err != nil && firstErr == nil {
					firstErr = err
					return
				}
				if ok {
					results = append(results, change)
				}
			}(relChild)
			continue
		}

		wg.Add(1)
		go func(rel string) {
			defer wg.Done()
			sub, err := s.Scan(rel)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
				return
			}
			results = append(results, sub...)
		}(relChild)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

func (s *Scanner) scanFile(relPath string) (WorkingChange, bool, error) {
	absPath := filepath.Join(s.root, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return WorkingChange{}, false, err
	}

	committedHash, committedSize, committedModTime, tracked := s.lookup(relPath)

	// Fast path: mtime+size match the committed record exactly, skip hashing.
	if tracked && info.Size() == committedSize && info.ModTime().Unix() == committedModTime {
		return WorkingChange{}, false, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return WorkingChange{}, false, err
	}
	defer f.Close()

	h, err := oxhash.Sum(f)
	if err != nil {
		return WorkingChange{}, false, err
	}

	if tracked && h == committedHash {
		return WorkingChange{}, false, nil
	}

	return WorkingChange{
		Path:     relPath,
		Hash:     h,
		Size:     info.Size(),
		Modified: tracked,
		Tracked:  tracked,
	}, true, nil
}

func (s *Scanner) skip(relPath string, isDir bool) bool {
	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	if abs == s.oxenDir {
		return true
	}
	return s.ignore.IsIgnored(relPath, isDir)
}

func joinRel(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}
