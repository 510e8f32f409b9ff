package kvstore

import (
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("data")

// DB is a handle to one logical KV store (one bbolt file, one bucket),
// acquired from a Pool. Callers must call Close when done so the Pool can
// reclaim the underlying bbolt handle under FD pressure.
type DB struct {
	path    string
	bolt    *bolt.DB
	release func()
}

// OpenDB acquires (opening if necessary) the logical DB at path, creating
// its containing directory and root bucket on first use.
func (p *Pool) OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	b, release, err := p.Acquire(path)
	if err != nil {
		return nil, err
	}
	if err := b.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		release()
		return nil, err
	}
	return &DB{path: path, bolt: b, release: release}, nil
}

// Close returns the underlying bbolt handle to the pool.
func (d *DB) Close() error {
	d.release()
	return nil
}

// Get reads a single key with a snapshot (read-only transaction) view.
func (d *DB) Get(key string) ([]byte, bool, error) {
	var val []byte
	err := d.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

// Put writes a single key atomically.
func (d *DB) Put(key string, val []byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put([]byte(key), val)
	})
}

// Delete removes a single key.
func (d *DB) Delete(key string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Delete([]byte(key))
	})
}

// BatchPut writes every key in kvs within a single atomic transaction —
// used when a commit must insert a commit record and advance a ref
// together (§4.3, §4.6.5).
func (d *DB) BatchPut(kvs map[string][]byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket)
		for k, v := range kvs {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// BatchDelete removes every key in keys within a single atomic transaction.
func (d *DB) BatchDelete(keys []string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach iterates every key/value pair under a single snapshot read.
// Mutating the DB during iteration is safe — the callback sees a consistent
// point-in-time view regardless of concurrent writers.
func (d *DB) ForEach(fn func(key, val []byte) error) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).ForEach(fn)
	})
}

// CAS performs a compare-and-swap on a single key within one write
// transaction: if the current value doesn't match expected, it returns
// ok=false without applying newVal. expected == nil means "key must be
// absent". Used for linearizable ref updates (§5).
func (d *DB) CAS(key string, expected, newVal []byte) (ok bool, err error) {
	err = d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket)
		cur := b.Get([]byte(key))
		if !bytesEqual(cur, expected) {
			ok = false
			return nil
		}
		ok = true
		return b.Put([]byte(key), newVal)
	})
	return ok, err
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
