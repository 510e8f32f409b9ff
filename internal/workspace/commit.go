package workspace

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/staging"
	"github.com/oxen-ai/oxen/internal/tabular"
)

// Commit assembles every staged entry plus every pending df_append/df_delete
// row edit into a new commit on top of BaseCommit, advances the branch ref,
// and clears the workspace (§4.10's workspace.commit). It fails with
// *ozerr.RefDiverged — carrying BaseCommit as Expected — if the branch has
// moved since the workspace was opened; the caller is expected to surface
// that as "merge required" and let the client re-open against the new head.
func (w *Workspace) Commit(author refs.ActorId, message string) (*refs.CommitNode, error) {
	staged, err := w.staged.All()
	if err != nil {
		return nil, err
	}

	headCommit := ""
	if !w.BaseCommit.IsZero() {
		headCommit = w.BaseCommit.String()
	}
	assembly, err := staging.ComposeTree(w.tree, headCommit, staged)
	if err != nil {
		return nil, err
	}

	if err := w.materializeTabularEdits(assembly.Tree); err != nil {
		return nil, err
	}

	var parents []oxhash.ContentHash
	if !w.BaseCommit.IsZero() {
		parents = []oxhash.ContentHash{w.BaseCommit}
	}
	commit := staging.BuildCommit(assembly.Tree.RootHash, parents, author, message)

	if err := w.tree.Persist(commit.Hash.String(), assembly.Tree); err != nil {
		return nil, fmt.Errorf("workspace: persisting tree for %s/%s: %w", w.Branch, w.Actor, err)
	}
	if err := w.refs.PutCommit(commit); err != nil {
		return nil, fmt.Errorf("workspace: writing commit for %s/%s: %w", w.Branch, w.Actor, err)
	}
	if err := w.refs.UpdateRef(w.Branch, w.BaseCommit, commit.Hash); err != nil {
		return nil, err
	}

	if err := w.staged.Clear(); err != nil {
		return nil, err
	}
	if err := w.journal.Clear(); err != nil {
		return nil, err
	}
	return commit, nil
}

// materializeTabularEdits folds every pending df_append row into the tree's
// already-staged FileNodes, grouped by path so a file with several pending
// rows is only rewritten once. The tree's DirHashes are recomputed afterward
// since mutating a FileNode's Hash leaves every ancestor DirNode stale.
func (w *Workspace) materializeTabularEdits(tree *merkle.Tree) error {
	pending, err := w.journal.All()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	byPath := map[string][]PendingRow{}
	for _, r := range pending {
		byPath[r.Path] = append(byPath[r.Path], r)
	}

	changed := false
	for p, rows := range byPath {
		file, ok := tree.Files[p]
		if !ok || file.RowIndexHash == nil {
			return fmt.Errorf("workspace: pending rows queued against non-tabular path %q", p)
		}

		idx, err := w.loadRowIndex(*file.RowIndexHash)
		if err != nil {
			return fmt.Errorf("workspace: loading row index for %q: %w", p, err)
		}

		for _, pr := range rows {
			values := make([]oxhash.Value, len(idx.Schema.Fields))
			for i, f := range idx.Schema.Fields {
				values[i] = parseFieldValue(pr.Row[f.Name], f.Type)
			}
			idx.Rows = append(idx.Rows, values)
			idx.RowHashes = append(idx.RowHashes, oxhash.HashRow(values))
		}

		data, err := idx.Serialize()
		if err != nil {
			return fmt.Errorf("workspace: reserializing row index for %q: %w", p, err)
		}
		newIndexHash, err := w.blobs.Put(bytes.NewReader(data))
		if err != nil {
			return err
		}

		delimited, err := idx.ToDelimited(delimiterFor(p))
		if err != nil {
			return fmt.Errorf("workspace: rewriting delimited file for %q: %w", p, err)
		}
		newFileHash, err := w.blobs.Put(bytes.NewReader(delimited))
		if err != nil {
			return err
		}

		updated := *file
		updated.Hash = newFileHash
		updated.Size = int64(len(delimited))
		updated.ModifiedAt = time.Now().UTC()
		updated.RowIndexHash = &newIndexHash
		tree.Files[p] = &updated
		changed = true
	}

	if changed {
		*tree = *rebuildTree(tree)
	}
	return nil
}

// rebuildTree recomputes every DirNode hash from the final file set. Editing
// a FileNode in place doesn't touch the DirNodes that roll its hash up to the
// root, so any materialization that changes a file's content has to rebuild
// the whole tree rather than patch one node.
func rebuildTree(old *merkle.Tree) *merkle.Tree {
	entries := make([]merkle.Entry, 0, len(old.Files))
	for p, f := range old.Files {
		entries = append(entries, merkle.Entry{Path: p, Node: *f})
	}
	return merkle.Build(entries)
}

func delimiterFor(path string) rune {
	if tabular.DetectFormat(path) == tabular.FormatTSV {
		return '\t'
	}
	return ','
}

// parseFieldValue mirrors the freshly-added-CSV parsing path BuildRowIndex
// uses, since a pending row arrives as a string map over the wire and needs
// the same coercion a file add gets: numeric and boolean literals recognized
// by logical type, everything else (including an unparsable literal) kept as
// a string, and an empty literal treated as null.
func parseFieldValue(raw, logicalType string) oxhash.Value {
	if raw == "" {
		return oxhash.NullValue()
	}
	switch logicalType {
	case "int":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return oxhash.IntValue(n)
		}
	case "float":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return oxhash.FloatValue(f)
		}
	case "bool":
		if b, err := strconv.ParseBool(raw); err == nil {
			return oxhash.BoolValue(b)
		}
	}
	return oxhash.StringValue(raw)
}
