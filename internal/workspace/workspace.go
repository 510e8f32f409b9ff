package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oxen-ai/oxen/internal/kvstore"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/objstore"
	"github.com/oxen-ai/oxen/internal/oxhash"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/refs"
	"github.com/oxen-ai/oxen/internal/staging"
	"github.com/oxen-ai/oxen/internal/tabular"
)

// Manager opens per-(branch, actor) Workspaces rooted at a repository's
// workspaces directory (§3.5, §4.10), sharing the repo's tree/blob/ref
// stores so a workspace commit lands through the same C4/C5 plumbing a
// local commit uses.
type Manager struct {
	pool  *kvstore.Pool
	root  string // <repo>/.oxen/workspaces
	blobs *objstore.Store
	tree  *merkle.Store
	refs  *refs.Store
}

// NewManager constructs a Manager rooted at oxenDir/workspaces.
func NewManager(pool *kvstore.Pool, oxenDir string, blobs *objstore.Store, tree *merkle.Store, refsStore *refs.Store) *Manager {
	return &Manager{
		pool:  pool,
		root:  filepath.Join(oxenDir, "workspaces"),
		blobs: blobs,
		tree:  tree,
		refs:  refsStore,
	}
}

// Open acquires the workspace for (branch, actor), creating it and
// snapshotting the branch's current head as its BaseCommit the first time
// it's touched (§4.10). Every later commit attempt CAS-checks against that
// same starting point, not wherever the branch has since moved to — a
// workspace is a fork of one specific point in history, not a live view of
// the branch tip. Callers must Close the returned Workspace when done.
func (m *Manager) Open(branch string, actor uuid.UUID) (*Workspace, error) {
	dir := filepath.Join(m.root, branch, actor.String())

	staged, err := staging.Open(m.pool, dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: opening staging for %s/%s: %w", branch, actor, err)
	}
	j, err := openJournal(m.pool, dir)
	if err != nil {
		staged.Close()
		return nil, err
	}
	meta, err := m.pool.OpenDB(filepath.Join(dir, "meta"))
	if err != nil {
		staged.Close()
		j.Close()
		return nil, fmt.Errorf("workspace: opening meta db for %s/%s: %w", branch, actor, err)
	}

	w := &Workspace{
		Branch:  branch,
		Actor:   actor,
		staged:  staged,
		journal: j,
		meta:    meta,
		blobs:   m.blobs,
		tree:    m.tree,
		refs:    m.refs,
	}
	if err := w.ensureBaseCommit(); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Workspace is one actor's staging area against one branch (§4.10).
type Workspace struct {
	Branch     string
	Actor      uuid.UUID
	BaseCommit oxhash.ContentHash

	staged  *staging.Store
	journal *journal
	meta    *kvstore.DB

	blobs *objstore.Store
	tree  *merkle.Store
	refs  *refs.Store
}

// Close releases the workspace's underlying KV handles back to the pool.
// It does not delete any staged state — that only happens on Commit, or an
// explicit Discard.
func (w *Workspace) Close() error {
	w.staged.Close()
	w.journal.Close()
	return w.meta.Close()
}

// Discard clears every staged entry and pending row without committing,
// for workspace.rm-all/abandon-style cleanup.
func (w *Workspace) Discard() error {
	if err := w.staged.Clear(); err != nil {
		return err
	}
	return w.journal.Clear()
}

const baseCommitKey = "base_commit"

func (w *Workspace) ensureBaseCommit() error {
	raw, ok, err := w.meta.Get(baseCommitKey)
	if err != nil {
		return err
	}
	if ok {
		h, err := oxhash.Parse(string(raw))
		if err != nil {
			return fmt.Errorf("workspace: corrupt base_commit for %s/%s: %w", w.Branch, w.Actor, err)
		}
		w.BaseCommit = h
		return nil
	}

	head, _, err := w.refs.ResolveBranch(w.Branch)
	if err != nil {
		if _, isNotFound := err.(*ozerr.BranchNotFound); isNotFound {
			head = oxhash.ContentHash{}
		} else {
			return err
		}
	}
	w.BaseCommit = head
	return w.meta.Put(baseCommitKey, []byte(head.String()))
}

// Add stages path's full replacement content, hashing it, writing the blob,
// and — for a recognized tabular extension — building and storing a
// RowIndex alongside it, the same classification `staging.Add` applies to a
// local working-tree file (§4.6.3, §4.10's workspace.add).
func (w *Workspace) Add(path string, content []byte) (oxhash.ContentHash, error) {
	h, err := w.blobs.Put(bytes.NewReader(content))
	if err != nil {
		return oxhash.ContentHash{}, fmt.Errorf("workspace: storing blob for %q: %w", path, err)
	}

	mime := merkle.MimeBinary
	tracking := staging.TrackingOpaque
	var rowIndexHash *oxhash.ContentHash

	if format := tabular.DetectFormat(path); format != tabular.FormatUnknown {
		if schema, err := tabular.SniffSchema(bytes.NewReader(content), format, 0); err == nil {
			if idx, err := tabular.BuildRowIndex(bytes.NewReader(content), schema, format); err == nil {
				if data, err := idx.Serialize(); err == nil {
					if rh, err := w.blobs.Put(bytes.NewReader(data)); err == nil {
						rowIndexHash = &rh
						mime = merkle.MimeTabular
						tracking = staging.TrackingTabular
					}
				}
			}
		}
	}

	op := staging.OpAdd
	if w.pathExistsInBase(path) {
		op = staging.OpModify
	}

	entry := staging.Entry{
		Path:         path,
		Operation:    op,
		FileHash:     h,
		Size:         int64(len(content)),
		Mime:         mime,
		TrackingMode: tracking,
		RowIndexHash: rowIndexHash,
	}
	if err := w.staged.Put(entry); err != nil {
		return oxhash.ContentHash{}, err
	}
	return h, nil
}

// Remove stages path's deletion (workspace.rm).
func (w *Workspace) Remove(path string) error {
	return w.staged.Put(staging.Entry{Path: path, Operation: staging.OpRemove})
}

func (w *Workspace) pathExistsInBase(path string) bool {
	if w.BaseCommit.IsZero() {
		return false
	}
	_, ok, err := w.tree.File(w.BaseCommit.String(), path)
	return err == nil && ok
}

// DFAppend parses row (a JSON object of column name -> string value) against
// path's live Schema and queues it, returning the id the client can later
// pass to DFDelete (§4.10's workspace.df_append).
func (w *Workspace) DFAppend(path string, row []byte) (string, error) {
	fields, err := parseRowJSON(row)
	if err != nil {
		return "", err
	}

	schema, err := w.schemaFor(path)
	if err != nil {
		return "", err
	}
	for _, f := range schema.Fields {
		if _, ok := fields[f.Name]; !ok {
			return "", &ozerr.SchemaMismatch{Path: path, Expected: schema.Hash.String(), Actual: "row missing column " + f.Name}
		}
	}

	id := uuid.NewString()
	if err := w.journal.Append(PendingRow{RowID: id, Path: path, Row: fields}); err != nil {
		return "", err
	}
	return id, nil
}

// DFDelete withdraws a row previously queued by DFAppend (§4.10's
// workspace.df_delete). It only ever affects this workspace's own pending
// rows — a row already committed to history has no id a client could pass
// here.
func (w *Workspace) DFDelete(rowID string) error {
	return w.journal.Delete(rowID)
}

func parseRowJSON(raw []byte) (map[string]string, error) {
	var row map[string]string
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("workspace: parsing row json: %w", err)
	}
	return row, nil
}

// schemaFor resolves path's live Schema: its own staged replacement if one
// exists in this workspace, otherwise the schema committed at BaseCommit.
func (w *Workspace) schemaFor(path string) (tabular.Schema, error) {
	if entry, ok, err := w.staged.Get(path); err != nil {
		return tabular.Schema{}, err
	} else if ok {
		if entry.RowIndexHash == nil {
			return tabular.Schema{}, &ozerr.SchemaMismatch{Path: path, Expected: "tabular", Actual: "opaque"}
		}
		return w.loadSchema(*entry.RowIndexHash)
	}

	if w.BaseCommit.IsZero() {
		return tabular.Schema{}, &ozerr.PathNotFound{Path: path}
	}
	file, ok, err := w.tree.File(w.BaseCommit.String(), path)
	if err != nil {
		return tabular.Schema{}, err
	}
	if !ok || file.RowIndexHash == nil {
		return tabular.Schema{}, &ozerr.PathNotFound{Path: path}
	}
	return w.loadSchema(*file.RowIndexHash)
}

func (w *Workspace) loadSchema(h oxhash.ContentHash) (tabular.Schema, error) {
	idx, err := w.loadRowIndex(h)
	if err != nil {
		return tabular.Schema{}, err
	}
	return idx.Schema, nil
}

func (w *Workspace) loadRowIndex(h oxhash.ContentHash) (*tabular.RowIndex, error) {
	rc, err := w.blobs.Get(h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return tabular.Deserialize(data)
}

// Status reports every staged entry and pending row, in the same shape
// local `status` uses (§4.10's workspace.status).
func (w *Workspace) Status() (Status, error) {
	entries, err := w.staged.All()
	if err != nil {
		return Status{}, err
	}
	rows, err := w.journal.All()
	if err != nil {
		return Status{}, err
	}
	return Status{Staged: entries, PendingRows: rows}, nil
}

// Diff reports path's staged entry (if any) and pending rows, the
// workspace analogue of local `diff` (§4.10's workspace.diff).
func (w *Workspace) Diff(path string) (*staging.Entry, []PendingRow, error) {
	rows, err := w.journal.ForPath(path)
	if err != nil {
		return nil, nil, err
	}
	entry, ok, err := w.staged.Get(path)
	if err != nil {
		return nil, rows, err
	}
	if !ok {
		return nil, rows, nil
	}
	return &entry, rows, nil
}
