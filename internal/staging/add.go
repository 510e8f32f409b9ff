package staging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
)

// BlobWriter is the subset of C2 the Add operation needs.
type BlobWriter interface {
	Put(r io.Reader) (oxhash.ContentHash, error)
}

// TabularIndexer builds or updates a file's RowIndex, implemented by C7.
// Kept as an interface here so staging does not import the tabular package.
type TabularIndexer interface {
	// Detect reports whether path/content looks tabular (extension and
	// magic bytes agree, per §4.6.3).
	Detect(path string, f *os.File) bool
	// BuildRowIndex materializes the RowIndex blob and returns its hash.
	BuildRowIndex(path string, f *os.File) (oxhash.ContentHash, error)
}

var tabularExtensions = map[string]bool{
	".csv": true, ".tsv": true, ".parquet": true, ".arrow": true, ".jsonl": true, ".ndjson": true, ".json": true,
}

// Add stages a single file: hash its content, write the blob, optionally
// build a RowIndex for tabular files, and record a StagedEntry (§4.6.3).
// Add is restartable — a failure partway through a multi-file add leaves
// already-staged entries valid.
func Add(store *Store, blobs BlobWriter, tabular TabularIndexer, root, relPath string, op Operation) error {
	absPath := filepath.Join(root, filepath.FromSlash(relPath))
	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hash, err := blobs.Put(f)
	if err != nil {
		return err
	}

	mime := merkle.MimeBinary
	tracking := TrackingOpaque
	var rowIndexHash *oxhash.ContentHash

	if looksTabularByExtension(relPath) {
		if _, err := f.Seek(0, 0); err != nil {
			return err
		}
		if tabular != nil && tabular.Detect(relPath, f) {
			mime = merkle.MimeTabular
			tracking = TrackingTabular
			if _, err := f.Seek(0, 0); err != nil {
				return err
			}
			h, err := tabular.BuildRowIndex(relPath, f)
			if err != nil {
				return err
			}
			rowIndexHash = &h
		}
	}

	return store.Put(Entry{
		Path:         relPath,
		Operation:    op,
		FileHash:     hash,
		Size:         info.Size(),
		Mime:         mime,
		TrackingMode: tracking,
		RowIndexHash: rowIndexHash,
	})
}

func looksTabularByExtension(path string) bool {
	return tabularExtensions[strings.ToLower(filepath.Ext(path))]
}
