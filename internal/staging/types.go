// Package staging implements the working-tree scan, status rollup, and
// add/rm/commit assembly described in §4.6: the area between a user's
// working directory and a committed tree.
package staging

import (
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/oxhash"
)

// Operation is the kind of change a StagedEntry represents.
type Operation string

const (
	OpAdd    Operation = "add"
	OpModify Operation = "modify"
	OpRemove Operation = "remove"
)

// TrackingMode distinguishes tabular files (which carry a RowIndex) from
// everything else (§3.2).
type TrackingMode string

const (
	TrackingOpaque  TrackingMode = "opaque"
	TrackingTabular TrackingMode = "tabular"
)

// Entry is a transient record between add and commit (§3.2). It is stored
// in the staging KV and cleared on successful commit.
type Entry struct {
	Path            string             `json:"path"`
	Operation       Operation          `json:"operation"`
	FileHash        oxhash.ContentHash `json:"fileHash"`
	Size            int64              `json:"size"`
	Mime            merkle.MimeClass   `json:"mime"`
	TrackingMode    TrackingMode       `json:"trackingMode"`
	RowIndexHash    *oxhash.ContentHash `json:"rowIndexHash,omitempty"`
	TabularRowDelta *RowDelta          `json:"tabularRowDelta,omitempty"`
}

// RowDelta summarizes a tabular file's row-level change for the status view,
// computed via C7's hash-join diff (§3.3c).
type RowDelta struct {
	RowsAdded   int `json:"rowsAdded"`
	RowsRemoved int `json:"rowsRemoved"`
}

// DirRollup is the {added, modified, removed, untracked} count the status
// view presents per directory, rather than every individual path (§4.6.2).
type DirRollup struct {
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Removed   int `json:"removed"`
	Untracked int `json:"untracked"`
}

func (r *DirRollup) add(op Operation) {
	switch op {
	case OpAdd:
		r.Added++
	case OpModify:
		r.Modified++
	case OpRemove:
		r.Removed++
	}
}
