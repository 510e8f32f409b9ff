package kvstore

import (
	"path/filepath"
	"testing"
)

func TestDBPutGet(t *testing.T) {
	p := NewPool(4)
	db, err := p.OpenDB(filepath.Join(t.TempDir(), "sub", "data.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	if err := db.Put("k1", []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, ok, err := db.Get("k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(val) != "v1" {
		t.Fatalf("Get = %q, %v, want v1, true", val, ok)
	}

	if _, ok, err := db.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestDBDelete(t *testing.T) {
	p := NewPool(4)
	db, err := p.OpenDB(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	_ = db.Put("k1", []byte("v1"))
	if err := db.Delete("k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := db.Get("k1"); ok {
		t.Fatalf("key still present after Delete")
	}
}

func TestDBBatchPutAtomic(t *testing.T) {
	p := NewPool(4)
	db, err := p.OpenDB(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	err = db.BatchPut(map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": []byte("3"),
	})
	if err != nil {
		t.Fatalf("BatchPut: %v", err)
	}

	count := 0
	err = db.ForEach(func(k, v []byte) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 3 {
		t.Fatalf("ForEach saw %d keys, want 3", count)
	}
}

func TestDBCASRejectsStaleExpectation(t *testing.T) {
	p := NewPool(4)
	db, err := p.OpenDB(filepath.Join(t.TempDir(), "refs.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	ok, err := db.CAS("refs/heads/main", nil, []byte("commit-1"))
	if err != nil || !ok {
		t.Fatalf("initial CAS failed: ok=%v err=%v", ok, err)
	}

	// A CAS with a stale expected value must be rejected without mutating state.
	ok, err = db.CAS("refs/heads/main", []byte("commit-0-stale"), []byte("commit-2"))
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if ok {
		t.Fatalf("CAS succeeded against a stale expected value")
	}

	val, _, _ := db.Get("refs/heads/main")
	if string(val) != "commit-1" {
		t.Fatalf("value mutated despite rejected CAS: %q", val)
	}

	ok, err = db.CAS("refs/heads/main", []byte("commit-1"), []byte("commit-2"))
	if err != nil || !ok {
		t.Fatalf("CAS with correct expectation failed: ok=%v err=%v", ok, err)
	}
	val, _, _ = db.Get("refs/heads/main")
	if string(val) != "commit-2" {
		t.Fatalf("value = %q after successful CAS, want commit-2", val)
	}
}
