// Package merkle builds and persists the per-commit directory tree described
// in §4.4: a DirNode/FileNode tree rooted at a deterministic DirHash, rolled
// up independent of insertion order so any two clients committing the same
// content produce identical hashes.
package merkle

import (
	"time"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// MimeClass is the coarse content classification stamped onto a FileNode.
type MimeClass string

const (
	MimeText    MimeClass = "text"
	MimeImage   MimeClass = "image"
	MimeAudio   MimeClass = "audio"
	MimeVideo   MimeClass = "video"
	MimeTabular MimeClass = "tabular"
	MimeBinary  MimeClass = "binary"
)

// FileNode is a leaf of a commit tree (§3.2).
type FileNode struct {
	Name         string             `json:"name"`
	Hash         oxhash.ContentHash `json:"hash"`
	Size         int64              `json:"size"`
	Mime         MimeClass          `json:"mime"`
	ModifiedAt   time.Time          `json:"modifiedAt"`
	RowIndexHash *oxhash.ContentHash `json:"rowIndexHash,omitempty"`
}

// ChildKind distinguishes a DirNode child entry from a FileNode child entry.
// A directory and a file can never share a parent with the same name in
// practice, but the tag defends DirHash against bugs that would otherwise let
// them collide.
type ChildKind byte

const (
	ChildFile ChildKind = 0
	ChildDir  ChildKind = 1
)

// DirEntry is one child reference inside a DirNode, already sorted by Name
// when stored.
type DirEntry struct {
	Name string             `json:"name"`
	Kind ChildKind          `json:"kind"`
	Hash oxhash.ContentHash `json:"hash"`
}

// DirNode is an interior node of a commit tree (§3.2). Hash is the rolled-up
// DirHash: deterministic in the child set, independent of insertion order.
type DirNode struct {
	Name     string             `json:"name"`
	Hash     oxhash.ContentHash `json:"hash"`
	Children []DirEntry         `json:"children"`
}
