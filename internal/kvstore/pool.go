// Package kvstore provides the embedded ordered KV abstraction described in
// §4.3: single-writer/multi-reader handles with snapshot reads and batched
// atomic writes, opened lazily per logical DB (refs, commits, per-commit
// dirs/files, staged dirs/files, workspaces) and pooled behind a
// file-descriptor-capped LRU so a repository with thousands of historical
// commits — each with its own history/<commit>/{dirs,files} KV file — never
// exhausts OS open-file limits.
//
// The LRU idiom is adapted from the teacher's server/cache.go generic
// LRUCache, with one change required by §4.3: a handle with outstanding
// references is never evicted, only handles whose ref-count has dropped to
// zero are eviction candidates.
package kvstore

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultMaxOpen is the default cap on simultaneously open bbolt handles (§4.3).
const DefaultMaxOpen = 128

// Pool is a mutex-guarded LRU of open bbolt handles, keyed by file path.
type Pool struct {
	mu      sync.Mutex
	maxOpen int
	byPath  map[string]*handle
	idle    *list.List // of *handle, front = least-recently-released
}

type handle struct {
	path     string
	db       *bolt.DB
	refCount int
	elem     *list.Element // non-nil iff refCount == 0 and present in idle list
}

// NewPool constructs a Pool capped at maxOpen simultaneously open handles.
// maxOpen <= 0 uses DefaultMaxOpen.
func NewPool(maxOpen int) *Pool {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpen
	}
	return &Pool{
		maxOpen: maxOpen,
		byPath:  make(map[string]*handle),
		idle:    list.New(),
	}
}

// Acquire opens (or reuses) the bbolt DB at path and returns it along with a
// release func the caller must invoke exactly once when done. While any
// reference is outstanding the handle is pinned and cannot be evicted.
func (p *Pool) Acquire(path string) (*bolt.DB, func(), error) {
	p.mu.Lock()
	if h, ok := p.byPath[path]; ok {
		if h.elem != nil {
			p.idle.Remove(h.elem)
			h.elem = nil
		}
		h.refCount++
		p.mu.Unlock()
		return h.db, p.releaseFunc(h), nil
	}

	// Not open: evict idle handles until we have room, then open.
	for len(p.byPath) >= p.maxOpen && p.idle.Len() > 0 {
		p.evictOneLocked()
	}
	p.mu.Unlock()

	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("kvstore: opening %s: %w", path, err)
	}

	p.mu.Lock()
	// Another goroutine may have opened the same path while we were
	// unlocked; prefer the winner and close our redundant handle.
	if existing, ok := p.byPath[path]; ok {
		existing.refCount++
		if existing.elem != nil {
			p.idle.Remove(existing.elem)
			existing.elem = nil
		}
		p.mu.Unlock()
		_ = db.Close()
		return existing.db, p.releaseFunc(existing), nil
	}

	h := &handle{path: path, db: db, refCount: 1}
	p.byPath[path] = h
	p.mu.Unlock()

	return db, p.releaseFunc(h), nil
}

func (p *Pool) releaseFunc(h *handle) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		h.refCount--
		if h.refCount <= 0 {
			h.refCount = 0
			h.elem = p.idle.PushBack(h)
			// Opportunistically trim now that this handle became evictable.
			for len(p.byPath) > p.maxOpen && p.idle.Len() > 0 {
				p.evictOneLocked()
			}
		}
	}
}

// evictOneLocked closes and forgets the least-recently-released idle handle.
// Callers must hold p.mu.
func (p *Pool) evictOneLocked() {
	front := p.idle.Front()
	if front == nil {
		return
	}
	h := front.Value.(*handle) //nolint:errcheck
	p.idle.Remove(front)
	delete(p.byPath, h.path)
	_ = h.db.Close()
}

// CloseAll closes every open handle regardless of ref-count. Used at process
// shutdown; callers must ensure no operation is still in flight.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for path, h := range p.byPath {
		if err := h.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.byPath, path)
	}
	p.idle.Init()
	return firstErr
}

// Len returns the number of currently open handles (for tests/metrics).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPath)
}
