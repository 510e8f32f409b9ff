package workspace

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/oxen-ai/oxen/internal/kvstore"
)

// journal persists one workspace's pending tabular row edits under
// <workspace>/journal (§3.5's workspace layout, sibling to staged/). Keyed
// by row id so df_delete can withdraw a specific pending append in O(1)
// without scanning every row.
type journal struct {
	db *kvstore.DB
}

func openJournal(pool *kvstore.Pool, workspaceDir string) (*journal, error) {
	db, err := pool.OpenDB(filepath.Join(workspaceDir, "journal"))
	if err != nil {
		return nil, fmt.Errorf("workspace: opening journal: %w", err)
	}
	return &journal{db: db}, nil
}

func (j *journal) Close() error { return j.db.Close() }

// Append records a newly queued row.
func (j *journal) Append(row PendingRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("workspace: marshaling pending row %s: %w", row.RowID, err)
	}
	return j.db.Put(row.RowID, data)
}

// Delete withdraws a pending row. Deleting an id that was never queued (or
// already committed) is a silent no-op, matching staging.Store.Delete's
// idempotent-discard semantics.
func (j *journal) Delete(rowID string) error {
	return j.db.Delete(rowID)
}

// All returns every pending row across every path, in no particular order.
func (j *journal) All() ([]PendingRow, error) {
	var rows []PendingRow
	err := j.db.ForEach(func(_, v []byte) error {
		var r PendingRow
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// ForPath returns the pending rows queued against a single path.
func (j *journal) ForPath(path string) ([]PendingRow, error) {
	all, err := j.All()
	if err != nil {
		return nil, err
	}
	var out []PendingRow
	for _, r := range all {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out, nil
}

// Clear removes every pending row, used after a successful commit.
func (j *journal) Clear() error {
	var keys []string
	if err := j.db.ForEach(func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}); err != nil {
		return err
	}
	return j.db.BatchDelete(keys)
}
