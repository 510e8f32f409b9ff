package tabular

import "github.com/oxen-ai/oxen/internal/oxhash"

// RowUnionMerge computes the three-way row-union merge of a tabular file
// (§4.8.2): the result keeps every row present in base unless both sides
// removed it, plus every row either side added. Rows are identified purely
// by _row_hash, so two sides adding identical content is never a conflict
// and two sides adding distinct rows both survive untouched. The one
// ambiguous case — a row present in base that one side deleted and the
// other retained — stays in the result and is also reported in conflicts
// (the row's hash); the caller decides via --combine whether to accept a
// result that carries such rows.
func RowUnionMerge(base, ours, theirs *RowIndex) (result *RowIndex, conflicts []oxhash.ContentHash) {
	oursSet := hashSet(ours)
	theirsSet := hashSet(theirs)

	seen := map[oxhash.ContentHash]bool{}
	var rows [][]oxhash.Value

	if base != nil {
		for i, h := range base.RowHashes {
			removedByOurs := !oursSet[h]
			removedByTheirs := !theirsSet[h]
			if removedByOurs && removedByTheirs {
				continue // both sides dropped it
			}
			if removedByOurs != removedByTheirs {
				conflicts = append(conflicts, h)
			}
			if seen[h] {
				continue
			}
			seen[h] = true
			rows = append(rows, base.Rows[i])
		}
	}

	appendNew := func(idx *RowIndex) {
		if idx == nil {
			return
		}
		for i, h := range idx.RowHashes {
			if seen[h] {
				continue
			}
			seen[h] = true
			rows = append(rows, idx.Rows[i])
		}
	}
	appendNew(ours)
	appendNew(theirs)

	schema := Schema{}
	switch {
	case base != nil:
		schema = base.Schema
	case ours != nil:
		schema = ours.Schema
	case theirs != nil:
		schema = theirs.Schema
	}

	return rebuild(schema, rows), conflicts
}

func hashSet(idx *RowIndex) map[oxhash.ContentHash]bool {
	if idx == nil {
		return nil
	}
	s := make(map[oxhash.ContentHash]bool, len(idx.RowHashes))
	for _, h := range idx.RowHashes {
		s[h] = true
	}
	return s
}
