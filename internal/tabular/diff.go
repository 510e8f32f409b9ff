package tabular

import "github.com/oxen-ai/oxen/internal/oxhash"

// Diff is the result of comparing two RowIndexes of the same logical file
// (§4.7.3): which rows were added/removed by _row_hash set difference, and,
// if the schemas differ, the column-level change.
type Diff struct {
	SchemaChanged bool
	AddedColumns  []oxhash.SchemaField
	RemovedColumns []oxhash.SchemaField
	AddedRows     []int // row indices into rhs.Rows
	RemovedRows   []int // row indices into lhs.Rows
}

// DiffRowIndexes computes added/removed rows via an O(|Δ|) hash-join on
// _row_hash rather than an O(N) positional diff (§3.3c, §4.7.3).
func DiffRowIndexes(lhs, rhs *RowIndex) Diff {
	var d Diff

	if lhs.Schema.Hash != rhs.Schema.Hash {
		d.SchemaChanged = true
		d.AddedColumns, d.RemovedColumns = diffColumns(lhs.Schema.Fields, rhs.Schema.Fields)
	}

	lhsSet := make(map[oxhash.ContentHash]struct{}, len(lhs.RowHashes))
	for _, h := range lhs.RowHashes {
		lhsSet[h] = struct{}{}
	}
	rhsSet := make(map[oxhash.ContentHash]struct{}, len(rhs.RowHashes))
	for _, h := range rhs.RowHashes {
		rhsSet[h] = struct{}{}
	}

	for i, h := range rhs.RowHashes {
		if _, ok := lhsSet[h]; !ok {
			d.AddedRows = append(d.AddedRows, i)
		}
	}
	for i, h := range lhs.RowHashes {
		if _, ok := rhsSet[h]; !ok {
			d.RemovedRows = append(d.RemovedRows, i)
		}
	}

	return d
}

func diffColumns(lhs, rhs []oxhash.SchemaField) (added, removed []oxhash.SchemaField) {
	lhsSet := map[oxhash.SchemaField]bool{}
	for _, f := range lhs {
		lhsSet[f] = true
	}
	rhsSet := map[oxhash.SchemaField]bool{}
	for _, f := range rhs {
		rhsSet[f] = true
	}
	for _, f := range rhs {
		if !lhsSet[f] {
			added = append(added, f)
		}
	}
	for _, f := range lhs {
		if !rhsSet[f] {
			removed = append(removed, f)
		}
	}
	return added, removed
}
