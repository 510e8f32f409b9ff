package refs

import (
	"encoding/binary"
	"time"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// ComputeHash derives a CommitHash from everything that makes a commit
// unique: its parents (in order — the first parent is distinguished from
// the second in a merge), root DirHash, author, timestamp, and message.
// Committing identical content with the same parents/message/author/time
// from two different clients yields the same hash (§4.5).
func ComputeHash(rootDirHash oxhash.ContentHash, parents []oxhash.ContentHash, author ActorId, timestamp time.Time, message string) oxhash.ContentHash {
	h := oxhash.New()
	_, _ = h.Write(rootDirHash[:])

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(parents)))
	_, _ = h.Write(lenBuf[:])
	for _, p := range parents {
		_, _ = h.Write(p[:])
	}

	writeString(h, author.Name)
	writeString(h, author.Email)

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(timestamp.UnixNano()))
	_, _ = h.Write(tsBuf[:])

	writeString(h, message)

	return h.Sum()
}

func writeString(h *oxhash.Hasher, s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	_, _ = h.Write(lenBuf[:])
	_, _ = h.Write([]byte(s))
}
