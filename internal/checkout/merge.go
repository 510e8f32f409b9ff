package checkout

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/tabular"
)

// RefResolver is the subset of refs.Store a three-way merge needs.
type RefResolver interface {
	MergeBase(a, b oxhash.ContentHash) (oxhash.ContentHash, error)
}

// FileResolutionKind classifies how one path was resolved by MergeThreeWay.
type FileResolutionKind string

const (
	ResolutionOurs     FileResolutionKind = "ours"     // only ours changed; worktree already correct
	ResolutionTheirs   FileResolutionKind = "theirs"   // only theirs changed; materialized into the worktree
	ResolutionSame     FileResolutionKind = "same"     // both sides converged on the same content
	ResolutionCombined FileResolutionKind = "combined" // tabular row-union merge, materialized into the worktree
	ResolutionConflict FileResolutionKind = "conflict" // a .conflict sidecar was written; ours kept as worktree content
)

// FileResolution is the outcome for one path touched by either side of a merge.
type FileResolution struct {
	Path         string
	Kind         FileResolutionKind
	ResolvedHash oxhash.ContentHash  // the file's content hash after resolution; zero for ResolutionConflict
	RowIndexHash *oxhash.ContentHash // set when the resolved file is tabular
	Size         int64
}

// MergeOutcome is the result of a three-way merge attempt (§4.8.2).
type MergeOutcome struct {
	FastForward bool // caller should just advance the branch ref to Theirs
	UpToDate    bool // Theirs is already an ancestor of Ours; nothing to do
	BaseCommit  oxhash.ContentHash
	Files       []FileResolution
	Conflicts   []string
}

// MergeThreeWay merges theirs into ours: finds the merge base, walks both
// sides' changes against it, and classifies/resolves every touched path
// (§4.8.2). combine requests that tabular row-union merges proceed even when
// a row was deleted on one side and retained on the other. Resolved
// non-conflicting changes are materialized directly into root; the caller is
// responsible for staging the resulting FileResolutions and, if there are no
// conflicts, creating the merge commit with two parents.
func MergeThreeWay(refsStore RefResolver, tree *merkle.Store, blobs BlobStore, root string, ours, theirs oxhash.ContentHash, combine bool) (*MergeOutcome, error) {
	if ours == theirs {
		return &MergeOutcome{BaseCommit: ours, UpToDate: true}, nil
	}

	base, err := refsStore.MergeBase(ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("checkout: finding merge base: %w", err)
	}
	if base == theirs {
		return &MergeOutcome{BaseCommit: base, UpToDate: true}, nil
	}
	if base == ours {
		// Fast-forward path (§4.8.2): no tree walk needed, the caller just
		// advances the branch ref and checks out theirs' tree.
		return &MergeOutcome{BaseCommit: base, FastForward: true}, nil
	}

	oursChanges, err := merkle.Diff(tree, base.String(), ours.String())
	if err != nil {
		return nil, fmt.Errorf("checkout: diffing ours against base: %w", err)
	}
	theirsChanges, err := merkle.Diff(tree, base.String(), theirs.String())
	if err != nil {
		return nil, fmt.Errorf("checkout: diffing theirs against base: %w", err)
	}

	oursMap := indexChanges(oursChanges)
	theirsMap := indexChanges(theirsChanges)

	allPaths := map[string]struct{}{}
	for p := range oursMap {
		allPaths[p] = struct{}{}
	}
	for p := range theirsMap {
		allPaths[p] = struct{}{}
	}

	var files []FileResolution
	var conflicts []string
	for p := range allPaths {
		oc, inOurs := oursMap[p]
		tc, inTheirs := theirsMap[p]

		switch {
		case inOurs && !inTheirs:
			files = append(files, FileResolution{Path: p, Kind: ResolutionOurs})

		case !inOurs && inTheirs:
			if tc.New != nil {
				if err := materialize(blobs, root, p, tc.New); err != nil {
					return nil, err
				}
				files = append(files, FileResolution{Path: p, Kind: ResolutionTheirs, ResolvedHash: tc.New.Hash, RowIndexHash: tc.New.RowIndexHash, Size: tc.New.Size})
			} else {
				if err := os.Remove(rootJoin(root, p)); err != nil && !os.IsNotExist(err) {
					return nil, fmt.Errorf("checkout: removing %s: %w", p, err)
				}
				files = append(files, FileResolution{Path: p, Kind: ResolutionTheirs})
			}

		default: // both sides touched this path
			res, conflictPath, err := resolveBothChanged(blobs, root, p, oc, tc, combine)
			if err != nil {
				return nil, err
			}
			files = append(files, res)
			if conflictPath != "" {
				conflicts = append(conflicts, conflictPath)
			}
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	sort.Strings(conflicts)

	return &MergeOutcome{BaseCommit: base, Files: files, Conflicts: conflicts}, nil
}

func indexChanges(changes []merkle.FileChange) map[string]merkle.FileChange {
	m := make(map[string]merkle.FileChange, len(changes))
	for _, c := range changes {
		m[c.Path] = c
	}
	return m
}

func resolveBothChanged(blobs BlobStore, root, path string, oc, tc merkle.FileChange, combine bool) (FileResolution, string, error) {
	oursNew, theirsNew := oc.New, tc.New

	if oursNew == nil && theirsNew == nil {
		return FileResolution{Path: path, Kind: ResolutionSame}, "", nil
	}
	if oursNew != nil && theirsNew != nil && oursNew.Hash == theirsNew.Hash {
		return FileResolution{Path: path, Kind: ResolutionSame, ResolvedHash: oursNew.Hash, RowIndexHash: oursNew.RowIndexHash, Size: oursNew.Size}, "", nil
	}

	if oursNew != nil && theirsNew != nil &&
		oursNew.Mime == merkle.MimeTabular && theirsNew.Mime == merkle.MimeTabular &&
		oursNew.RowIndexHash != nil && theirsNew.RowIndexHash != nil {
		res, resolved, err := tryRowUnionMerge(blobs, root, path, baseNodeOf(oc), oursNew, theirsNew, combine)
		if err != nil {
			return FileResolution{}, "", err
		}
		if resolved {
			return res, "", nil
		}
	}

	return fileConflict(blobs, root, path, theirsNew)
}

// baseNodeOf recovers the pre-change node both sides diverged from: Old is
// nil only when the path was newly added, in which case there is no shared
// base content and row-union merge can't apply.
func baseNodeOf(oc merkle.FileChange) *merkle.FileNode {
	return oc.Old
}

func fileConflict(blobs BlobStore, root, path string, theirsNew *merkle.FileNode) (FileResolution, string, error) {
	if theirsNew != nil {
		if err := materialize(blobs, root, path+".conflict", theirsNew); err != nil {
			return FileResolution{}, "", err
		}
	}
	return FileResolution{Path: path, Kind: ResolutionConflict}, path, nil
}

// tryRowUnionMerge attempts the tabular row-union merge described in
// §4.8.2. resolved is false when the attempt doesn't apply (divergent
// schemas, missing base, or row conflicts without --combine) and the caller
// should fall back to the generic conflict path.
func tryRowUnionMerge(blobs BlobStore, root, path string, baseNode, oursNode, theirsNode *merkle.FileNode, combine bool) (FileResolution, bool, error) {
	if baseNode == nil || baseNode.RowIndexHash == nil {
		return FileResolution{}, false, nil
	}

	baseIdx, err := loadRowIndex(blobs, *baseNode.RowIndexHash)
	if err != nil {
		return FileResolution{}, false, err
	}
	oursIdx, err := loadRowIndex(blobs, *oursNode.RowIndexHash)
	if err != nil {
		return FileResolution{}, false, err
	}
	theirsIdx, err := loadRowIndex(blobs, *theirsNode.RowIndexHash)
	if err != nil {
		return FileResolution{}, false, err
	}
	if oursIdx.Schema.Hash != theirsIdx.Schema.Hash {
		return FileResolution{}, false, nil
	}

	merged, rowConflicts := tabular.RowUnionMerge(baseIdx, oursIdx, theirsIdx)
	if len(rowConflicts) > 0 && !combine {
		return FileResolution{}, false, nil
	}

	delim := ','
	if tabular.DetectFormat(path) == tabular.FormatTSV {
		delim = '\t'
	}
	content, err := merged.ToDelimited(delim)
	if err != nil {
		return FileResolution{}, false, fmt.Errorf("checkout: rendering merged tabular content for %s: %w", path, err)
	}

	fileHash, err := writeAndStore(blobs, root, path, content)
	if err != nil {
		return FileResolution{}, false, err
	}

	rowData, err := merged.Serialize()
	if err != nil {
		return FileResolution{}, false, fmt.Errorf("checkout: serializing merged row index for %s: %w", path, err)
	}
	rowHash, err := blobs.Put(bytes.NewReader(rowData))
	if err != nil {
		return FileResolution{}, false, err
	}

	return FileResolution{
		Path:         path,
		Kind:         ResolutionCombined,
		ResolvedHash: fileHash,
		RowIndexHash: &rowHash,
		Size:         int64(len(content)),
	}, true, nil
}

func loadRowIndex(blobs BlobStore, hash oxhash.ContentHash) (*tabular.RowIndex, error) {
	r, err := blobs.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("checkout: fetching row index blob %s: %w", hash, err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return tabular.Deserialize(buf.Bytes())
}

// writeAndStore writes data to path in the worktree and registers it as a
// content-addressed blob in the same step, so the worktree content and the
// blob that will be staged for commit are guaranteed to match byte for byte.
func writeAndStore(blobs BlobStore, root, path string, data []byte) (oxhash.ContentHash, error) {
	hash, err := blobs.Put(bytes.NewReader(data))
	if err != nil {
		return oxhash.ContentHash{}, err
	}
	absPath := rootJoin(root, path)
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return oxhash.ContentHash{}, fmt.Errorf("checkout: writing merged content for %s: %w", path, err)
	}
	_ = os.Chtimes(absPath, time.Now(), time.Now())
	return hash, nil
}
