package merkle

import (
	"encoding/binary"
	"path"
	"sort"
	"strings"

	"github.com/oxen-ai/oxen/internal/oxhash"
)

// Entry is one (path, FileNode) pair fed into Build. Path is repo-root
// relative and forward-slash normalized.
type Entry struct {
	Path string
	Node FileNode
}

// Tree is the output of Build: every DirNode and FileNode keyed by its
// repo-root-relative path, plus the root DirHash. Empty directories are
// never represented — only paths with at least one file produce a DirNode
// (§4.4).
type Tree struct {
	RootHash oxhash.ContentHash
	Dirs     map[string]*DirNode  // dir path ("" for root) -> node
	Files    map[string]*FileNode // file path -> node
}

// Build constructs the directory tree for a commit from a flat set of file
// entries, following §4.4's algorithm: group by parent directory, sort each
// group by basename, then roll up DirHash bottom-up.
func Build(entries []Entry) *Tree {
	t := &Tree{
		Dirs:  make(map[string]*DirNode),
		Files: make(map[string]*FileNode),
	}
	if len(entries) == 0 {
		t.RootHash = hashChildren(nil)
		t.Dirs[""] = &DirNode{Hash: t.RootHash}
		return t
	}

	// childrenOf[dir] accumulates the (name, kind, hash) triples belonging to
	// dir, for both file and (later) directory children.
	childrenOf := make(map[string][]DirEntry)
	dirsNeeded := make(map[string]bool)
	dirsNeeded[""] = true

	for _, e := range entries {
		clean := path.Clean("/" + e.Path)[1:]
		dir, base := path.Split(clean)
		dir = strings.TrimSuffix(dir, "/")

		node := e.Node
		node.Name = base
		t.Files[clean] = &node

		childrenOf[dir] = append(childrenOf[dir], DirEntry{
			Name: base,
			Kind: ChildFile,
			Hash: node.Hash,
		})

		for d := dir; ; {
			if dirsNeeded[d] {
				break
			}
			dirsNeeded[d] = true
			if d == "" {
				break
			}
			d = strings.TrimSuffix(path.Dir(d), "/")
			if d == "." {
				d = ""
			}
		}
	}

	// Process directories deepest-first so a parent's children (including
	// subdirectory hashes) are all known before the parent is hashed.
	dirPaths := make([]string, 0, len(dirsNeeded))
	for d := range dirsNeeded {
		dirPaths = append(dirPaths, d)
	}
	sort.Slice(dirPaths, func(i, j int) bool {
		return depth(dirPaths[i]) > depth(dirPaths[j])
	})

	for _, d := range dirPaths {
		kids := childrenOf[d]
		sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })

		hash := hashChildren(kids)
		base := path.Base(d)
		if d == "" {
			base = ""
		}
		t.Dirs[d] = &DirNode{Name: base, Hash: hash, Children: kids}

		if d == "" {
			t.RootHash = hash
			continue
		}
		parent := strings.TrimSuffix(path.Dir(d), "/")
		if parent == "." {
			parent = ""
		}
		childrenOf[parent] = append(childrenOf[parent], DirEntry{
			Name: base,
			Kind: ChildDir,
			Hash: hash,
		})
	}

	return t
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// hashChildren computes DirHash = H(concat(len(name) || name || kind || hash)
// for each sorted child), matching §4.4's tie-break and kind-discriminator
// rules. kids must already be sorted by Name.
func hashChildren(kids []DirEntry) oxhash.ContentHash {
	h := oxhash.New()
	var lenBuf [8]byte
	for _, k := range kids {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(k.Name)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(k.Name))
		_, _ = h.Write([]byte{byte(k.Kind)})
		_, _ = h.Write(k.Hash[:])
	}
	return h.Sum()
}
