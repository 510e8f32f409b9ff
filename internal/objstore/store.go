// Package objstore implements Oxen's content-addressed blob store (§4.2):
// a sharded, immutable, write-once-by-hash layout under versions/<shard>/.
// Writes go to a temp file under the store root (the same filesystem as
// every shard directory) and are atomically renamed into place only after the content's hash is known, so a blob is
// never observable half-written and writing identical content twice is a
// no-op.
package objstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// DefaultChunkSize is the fixed chunk boundary used by chunked mode (§4.2).
const DefaultChunkSize = 16 * 1024

// Store is a sharded, content-addressed blob store rooted at a single
// "versions" directory.
type Store struct {
	root string
}

// Open prepares a Store rooted at dir, creating it if necessary and sweeping
// away any temp files left behind by a crash mid-write (§4.2 failure model).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: creating root %s: %w", dir, err)
	}
	s := &Store{root: dir}
	if err := s.sweepStaleTemps(); err != nil {
		return nil, fmt.Errorf("objstore: sweeping stale temps: %w", err)
	}
	return s, nil
}

// Root returns the store's root directory, for callers that need to stash
// their own bookkeeping alongside it (e.g. transfer's partial-download
// files, kept outside the shard layout so sweepStaleTemps never touches
// them).
func (s *Store) Root() string { return s.root }

func (s *Store) shardDir(shard string) string { return filepath.Join(s.root, shard) }

func (s *Store) blobDir(h oxhash.ContentHash) string {
	shard, rest := h.Shard()
	return filepath.Join(s.shardDir(shard), rest)
}

func (s *Store) dataPath(h oxhash.ContentHash) string {
	return filepath.Join(s.blobDir(h), "data")
}

// Has reports whether a blob with the given hash is already stored, in
// either whole-file or chunked-manifest form.
func (s *Store) Has(h oxhash.ContentHash) bool {
	if _, err := os.Stat(s.dataPath(h)); err == nil {
		return true
	}
	_, err := os.Stat(s.manifestPath(h))
	return err == nil
}

// tempFile creates a temp file inside the shard's directory (so the final
// rename is always same-filesystem, hence atomic). Removing it when it is
// not consumed is left to the caller.
func (s *Store) tempFile(shard string) (*os.File, error) {
	dir := s.shardDir(shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.CreateTemp(dir, "tmp-*")
}

// Put streams r into the store in whole-file mode, returning its ContentHash.
// Writing the same content twice is idempotent: the second call discards its
// temp file once it discovers the destination already exists.
func (s *Store) Put(r io.Reader) (oxhash.ContentHash, error) {
	// The final shard isn't known until the content is hashed, so buffer the
	// temp file under a placeholder shard and move it once the hash is known.
	tmp, err := s.tempFile("tmp")
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		_ = tmp.Close()
		return oxhash.ContentHash{}, err
	}

	hasher := oxhash.New()
	if _, err := io.Copy(io.MultiWriter(enc, hasher), r); err != nil {
		_ = enc.Close()
		_ = tmp.Close()
		return oxhash.ContentHash{}, err
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return oxhash.ContentHash{}, err
	}
	if err := tmp.Close(); err != nil {
		return oxhash.ContentHash{}, err
	}

	h := hasher.Sum()
	if err := s.publish(tmpPath, s.dataPath(h)); err != nil {
		return oxhash.ContentHash{}, err
	}
	return h, nil
}

// publish atomically moves src into dst. If dst already exists, src is
// discarded — the write was redundant, not an error (§4.2).
func (s *Store) publish(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		// Another writer may have published dst between our Stat and Rename;
		// that's the same harmless race the spec calls out for parallel add.
		if _, statErr := os.Stat(dst); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Get opens a stored blob for streaming read. Only whole-file-mode blobs are
// served directly; chunked blobs should be read via the Store's Manifest +
// OpenRange so callers can fetch individual chunk ranges.
func (s *Store) Get(h oxhash.ContentHash) (io.ReadCloser, error) {
	f, err := os.Open(s.dataPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("objstore: %w", &blobMissing{h})
		}
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &decoderReadCloser{dec: dec, f: f}, nil
}

type decoderReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (d *decoderReadCloser) Read(p []byte) (int, error) { return d.dec.Read(p) }

func (d *decoderReadCloser) Close() error {
	d.dec.Close()
	return d.f.Close()
}

type blobMissing struct{ h oxhash.ContentHash }

func (e *blobMissing) Error() string { return "blob missing: " + e.h.String() }

// sweepStaleTemps removes leftover temp files under the shard directories.
// A crash between CreateTemp and the final Rename leaves an orphaned
// tmp-* file; it carries no hash-addressed identity so it is always safe
// to delete.
func (s *Store) sweepStaleTemps() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, shard := range entries {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		err := filepath.WalkDir(shardPath, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr
			}
			if !d.IsDir() && strings.HasPrefix(d.Name(), "tmp-") {
				return os.Remove(path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
