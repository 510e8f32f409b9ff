package tabular

import (
	"strings"
	"testing"
)

func buildIdx(t *testing.T, csv string) *RowIndex {
	t.Helper()
	schema := mustSniff(csv)
	idx, err := BuildRowIndex(strings.NewReader(csv), schema, FormatCSV)
	if err != nil {
		t.Fatalf("BuildRowIndex: %v", err)
	}
	return idx
}

func TestDiffRowIndexesDetectsAddedRemovedRows(t *testing.T) {
	lhs := buildIdx(t, "id,name\n1,a\n2,b\n")
	rhs := buildIdx(t, "id,name\n1,a\n3,c\n")

	d := DiffRowIndexes(lhs, rhs)
	if d.SchemaChanged {
		t.Fatal("schema should be unchanged")
	}
	if len(d.AddedRows) != 1 {
		t.Fatalf("expected 1 added row, got %d", len(d.AddedRows))
	}
	if len(d.RemovedRows) != 1 {
		t.Fatalf("expected 1 removed row, got %d", len(d.RemovedRows))
	}
}

func TestDiffRowIndexesIdenticalNoChanges(t *testing.T) {
	lhs := buildIdx(t, "id,name\n1,a\n2,b\n")
	rhs := buildIdx(t, "id,name\n1,a\n2,b\n")

	d := DiffRowIndexes(lhs, rhs)
	if len(d.AddedRows) != 0 || len(d.RemovedRows) != 0 {
		t.Fatalf("expected no row changes, got added=%v removed=%v", d.AddedRows, d.RemovedRows)
	}
}

func TestDiffRowIndexesSchemaChangeReportsColumns(t *testing.T) {
	lhs := buildIdx(t, "id,name\n1,a\n")
	rhs := buildIdx(t, "id,name,age\n1,a,30\n")

	d := DiffRowIndexes(lhs, rhs)
	if !d.SchemaChanged {
		t.Fatal("expected schema change")
	}
	if len(d.AddedColumns) != 1 || d.AddedColumns[0].Name != "age" {
		t.Fatalf("expected added column 'age', got %v", d.AddedColumns)
	}
	if len(d.RemovedColumns) != 0 {
		t.Fatalf("expected no removed columns, got %v", d.RemovedColumns)
	}
}

func TestDiffRowIndexesRowOrderIndependent(t *testing.T) {
	lhs := buildIdx(t, "id,name\n1,a\n2,b\n")
	rhs := buildIdx(t, "id,name\n2,b\n1,a\n")

	d := DiffRowIndexes(lhs, rhs)
	if len(d.AddedRows) != 0 || len(d.RemovedRows) != 0 {
		t.Fatalf("reordered identical rows should diff as unchanged, got added=%v removed=%v", d.AddedRows, d.RemovedRows)
	}
}
