package tabular

import (
	"bytes"
	"io"
	"os"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// BlobStore is the subset of C2 Indexer needs to persist a RowIndex blob.
type BlobStore interface {
	Put(r io.Reader) (oxhash.ContentHash, error)
}

// Indexer adapts the tabular package to staging.TabularIndexer (§4.6.3):
// detect whether a staged file is tabular, and if so build and persist its
// RowIndex, returning the blob hash staging records alongside the file entry.
type Indexer struct {
	Blobs        BlobStore
	SampleWindow int
}

// NewIndexer returns an Indexer that writes RowIndex blobs through blobs.
func NewIndexer(blobs BlobStore) *Indexer {
	return &Indexer{Blobs: blobs, SampleWindow: DefaultSampleWindow}
}

// Detect reports whether f looks like a tabular file: its format is
// recognized by extension and its content actually parses as that format.
// Parquet and Arrow IPC files are rejected if their footer doesn't parse;
// JSONL is rejected if its first record isn't a JSON object.
func (ix *Indexer) Detect(path string, f *os.File) bool {
	format := DetectFormat(path)
	switch format {
	case FormatCSV, FormatTSV, FormatParquet, FormatArrow, FormatJSONL:
		if _, err := f.Seek(0, 0); err != nil {
			return false
		}
		_, err := SniffSchema(f, format, 1)
		return err == nil
	default:
		return false
	}
}

// BuildRowIndex sniffs the schema, builds the RowIndex, serializes it to
// Arrow IPC bytes, and writes the result as a blob, returning its hash.
func (ix *Indexer) BuildRowIndex(path string, f *os.File) (oxhash.ContentHash, error) {
	format := DetectFormat(path)

	if _, err := f.Seek(0, 0); err != nil {
		return oxhash.ContentHash{}, err
	}
	window := ix.SampleWindow
	if window <= 0 {
		window = DefaultSampleWindow
	}
	schema, err := SniffSchema(f, format, window)
	if err != nil {
		return oxhash.ContentHash{}, err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return oxhash.ContentHash{}, err
	}
	idx, err := BuildRowIndex(f, schema, format)
	if err != nil {
		return oxhash.ContentHash{}, err
	}

	data, err := idx.Serialize()
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	return ix.Blobs.Put(bytes.NewReader(data))
}
