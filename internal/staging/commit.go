package staging

import (
	"fmt"
	"time"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/refs"
)

// TreeReader resolves the committed FileNodes under a commit, used to seed
// the new tree with everything staging didn't touch.
type TreeReader interface {
	AllFiles(commit string) (map[string]*merkle.FileNode, error)
}

// CommitAssembly is the result of composing a new tree from HEAD plus the
// staged entries, ready to be persisted and have a CommitNode derived from it
// (§4.6.5 steps 2-4).
type CommitAssembly struct {
	Tree    *merkle.Tree
	Entries []Entry
}

// ComposeTree starts from headCommit's files, applies every staged add/
// modify/remove as a path edit, and rebuilds the tree bottom-up via C4.
// Unaffected subtrees keep their existing DirHashes automatically because
// merkle.Build only sees the final file set, not a diff.
func ComposeTree(reader TreeReader, headCommit string, staged []Entry) (*CommitAssembly, error) {
	base := map[string]*merkle.FileNode{}
	if headCommit != "" {
		var err error
		base, err = reader.AllFiles(headCommit)
		if err != nil {
			return nil, fmt.Errorf("staging: reading head tree %s: %w", headCommit, err)
		}
	}

	for _, e := range staged {
		switch e.Operation {
		case OpRemove:
			delete(base, e.Path)
		case OpAdd, OpModify:
			node := &merkle.FileNode{
				Hash:         e.FileHash,
				Size:         e.Size,
				Mime:         e.Mime,
				ModifiedAt:   time.Now(),
				RowIndexHash: e.RowIndexHash,
			}
			base[e.Path] = node
		}
	}

	entries := make([]merkle.Entry, 0, len(base))
	for p, node := range base {
		entries = append(entries, merkle.Entry{Path: p, Node: *node})
	}

	return &CommitAssembly{Tree: merkle.Build(entries), Entries: staged}, nil
}

// BuildCommit derives a CommitNode for the composed tree. The caller is
// responsible for persisting the tree (merkle.Store.Persist), writing the
// commit record and advancing the ref in one KV batch (§4.6.5 step 5), and
// clearing the staging KV afterward.
func BuildCommit(rootDirHash oxhash.ContentHash, parents []oxhash.ContentHash, author refs.ActorId, message string) *refs.CommitNode {
	now := time.Now().UTC()
	c := &refs.CommitNode{
		RootDirHash: rootDirHash,
		Parents:     parents,
		Author:      author,
		Timestamp:   now,
		Message:     message,
	}
	c.Hash = refs.ComputeHash(c.RootDirHash, c.Parents, c.Author, c.Timestamp, c.Message)
	return c
}
