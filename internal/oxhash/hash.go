// Package oxhash computes the ContentHash identity used throughout Oxen:
// a 128-bit non-cryptographic digest built on xxh3, fast enough to hash
// multi-gigabyte files without becoming the bottleneck (§4.1).
package oxhash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
)

// Size is the byte length of a ContentHash.
const Size = 16

// ContentHash is the fixed-size digest identifying every stored artifact:
// files, chunks, row sets, schemas, directory nodes, and commits.
type ContentHash [Size]byte

// Zero is the empty-value ContentHash, used to represent "no parent" /
// "no base tree" without an extra pointer indirection.
var Zero ContentHash

// IsZero reports whether h is the zero hash.
func (h ContentHash) IsZero() bool { return h == Zero }

// String renders h as lowercase hex.
func (h ContentHash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 8 hex characters, used in CLI summaries and log lines.
func (h ContentHash) Short() string {
	s := h.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

// Shard splits the hash into its two-hex-character shard prefix and the
// remaining hex digits, matching the on-disk sharded layout in §3.2/§3.5.
func (h ContentHash) Shard() (shard, rest string) {
	s := h.String()
	return s[:2], s[2:]
}

// MarshalText implements encoding.TextMarshaler so ContentHash can be used
// directly as a KV value and in JSON wire messages.
func (h ContentHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse decodes a hex-encoded ContentHash.
func Parse(s string) (ContentHash, error) {
	if len(s) != Size*2 {
		return ContentHash{}, fmt.Errorf("oxhash: invalid hash length %d", len(s))
	}
	var h ContentHash
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return ContentHash{}, fmt.Errorf("oxhash: invalid hash %q: %w", s, err)
	}
	return h, nil
}

// Hasher is a streaming ContentHash accumulator. The zero value is not
// usable; construct with New.
type Hasher struct {
	h *xxh3.Hasher
}

// New returns a ready-to-use streaming Hasher.
func New() *Hasher {
	return &Hasher{h: xxh3.New()}
}

// Write implements io.Writer.
func (w *Hasher) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the ContentHash of everything written so far without
// resetting the accumulator.
func (w *Hasher) Sum() ContentHash {
	u := w.h.Sum128()
	return uint128ToHash(u)
}

// Reset clears the accumulator for reuse.
func (w *Hasher) Reset() { w.h.Reset() }

// Sum streams r through a Hasher and returns its ContentHash. Callers with
// multi-gigabyte files should prefer this over reading the whole file into
// memory first.
func Sum(r io.Reader) (ContentHash, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return ContentHash{}, err
	}
	return h.Sum(), nil
}

// SumBytes hashes an in-memory byte slice directly.
func SumBytes(b []byte) ContentHash {
	return uint128ToHash(xxh3.Hash128(b))
}

func uint128ToHash(u xxh3.Uint128) ContentHash {
	var h ContentHash
	binary.LittleEndian.PutUint64(h[0:8], u.Lo)
	binary.LittleEndian.PutUint64(h[8:16], u.Hi)
	return h
}
