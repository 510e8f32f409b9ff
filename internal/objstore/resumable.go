package objstore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// uploadState tracks a chunked upload in progress, keyed by the hash the
// client declared up front (§6.3's Content-Range chunked resume) — the real
// content hash isn't known until every chunk has landed and the full stream
// can be rehashed, so it can't double as the key the way a finished blob's
// hash does.
//
// Chunks must land in strict offset order: Received always marks the start
// of the next expected byte, so a client that asks UploadProgress and
// resumes exactly there never re-sends bytes the store already has.
type uploadState struct {
	ChunkSize int                  `json:"chunkSize"`
	Total     int64                `json:"total"`
	Received  int64                `json:"received"`
	Chunks    []oxhash.ContentHash `json:"chunks"`
}

func (s *Store) uploadPath(declared oxhash.ContentHash) string {
	return filepath.Join(s.blobDir(declared), "upload.json")
}

func (s *Store) loadUpload(declared oxhash.ContentHash, total int64, chunkSize int) (*uploadState, error) {
	data, err := os.ReadFile(s.uploadPath(declared))
	if err != nil {
		if os.IsNotExist(err) {
			return &uploadState{ChunkSize: chunkSize, Total: total}, nil
		}
		return nil, err
	}
	var st uploadState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("objstore: corrupt upload state for %s: %w", declared, err)
	}
	return &st, nil
}

func (s *Store) saveUpload(declared oxhash.ContentHash, st *uploadState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	path := s.uploadPath(declared)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// UploadProgress reports how many leading bytes of a declared-hash chunked
// upload the store already has, so a client resuming after a kill mid-push
// knows exactly where to restart (§6.3, the S6 scenario). If the blob is
// already fully stored — chunked or not — it reports total.
func (s *Store) UploadProgress(declared oxhash.ContentHash, total int64, chunkSize int) (int64, error) {
	if s.Has(declared) {
		return total, nil
	}
	st, err := s.loadUpload(declared, total, chunkSize)
	if err != nil {
		return 0, err
	}
	return st.Received, nil
}

// PutChunkAt appends one chunk to a declared-hash upload. offset must equal
// the number of bytes already received (enforced by UploadProgress's
// contract); chunks are content-addressed the same way PutChunked stores
// them, so identical ranges across uploads still dedupe on disk.
func (s *Store) PutChunkAt(declared oxhash.ContentHash, total int64, chunkSize int, offset int64, data []byte) error {
	st, err := s.loadUpload(declared, total, chunkSize)
	if err != nil {
		return err
	}
	if offset != st.Received {
		return fmt.Errorf("objstore: chunk at offset %d does not continue upload at %d", offset, st.Received)
	}
	if offset+int64(len(data)) > total {
		return fmt.Errorf("objstore: chunk [%d,%d) overruns declared total %d", offset, offset+int64(len(data)), total)
	}

	h, err := s.Put(bytesReader(data))
	if err != nil {
		return err
	}
	st.Chunks = append(st.Chunks, h)
	st.Received += int64(len(data))
	return s.saveUpload(declared, st)
}

// FinalizeUpload is called once Received reaches Total: it rehashes the
// concatenation of every stored chunk, confirms it matches declared, and
// publishes a Manifest so the blob reads back like any other chunked blob
// (OpenRange, Get-by-manifest) from then on.
func (s *Store) FinalizeUpload(declared oxhash.ContentHash, total int64, chunkSize int) (*Manifest, error) {
	st, err := s.loadUpload(declared, total, chunkSize)
	if err != nil {
		return nil, err
	}
	if st.Received != total {
		return nil, fmt.Errorf("objstore: upload for %s incomplete: received %d of %d bytes", declared, st.Received, total)
	}

	hasher := oxhash.New()
	for _, h := range st.Chunks {
		rc, err := s.Get(h)
		if err != nil {
			return nil, err
		}
		_, err = io.Copy(hasher, rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
	}
	if got := hasher.Sum(); got != declared {
		return nil, fmt.Errorf("objstore: chunked upload hash mismatch: declared %s, computed %s", declared, got)
	}

	manifest := &Manifest{Hash: declared, Size: total, ChunkSize: chunkSize, Chunks: st.Chunks}
	if err := s.putManifest(manifest); err != nil {
		return nil, err
	}
	_ = os.Remove(s.uploadPath(declared))
	return manifest, nil
}
