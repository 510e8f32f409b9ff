package tabular

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/oxhash"
)

// rebuild re-derives _row_hash/_row_num for a new row set, the core
// contract every DataFrame operation must preserve (§4.7.4).
func rebuild(schema Schema, rows [][]oxhash.Value) *RowIndex {
	schema.Hash = oxhash.HashSchema(schema.Fields)
	hashes := make([]oxhash.ContentHash, len(rows))
	for i, r := range rows {
		hashes[i] = oxhash.HashRow(r)
	}
	return &RowIndex{Schema: schema, Rows: rows, RowHashes: hashes}
}

// Slice returns rows [start, end).
func Slice(idx *RowIndex, start, end int) *RowIndex {
	if start < 0 {
		start = 0
	}
	if end > len(idx.Rows) {
		end = len(idx.Rows)
	}
	if start >= end {
		return rebuild(idx.Schema, nil)
	}
	rows := make([][]oxhash.Value, end-start)
	copy(rows, idx.Rows[start:end])
	return rebuild(idx.Schema, rows)
}

// TakeRows returns the rows at the given indices, in the order given.
func TakeRows(idx *RowIndex, indices []int) *RowIndex {
	rows := make([][]oxhash.Value, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(idx.Rows) {
			rows = append(rows, idx.Rows[i])
		}
	}
	return rebuild(idx.Schema, rows)
}

// Reverse returns the rows in reverse order.
func Reverse(idx *RowIndex) *RowIndex {
	rows := make([][]oxhash.Value, len(idx.Rows))
	for i, r := range idx.Rows {
		rows[len(rows)-1-i] = r
	}
	return rebuild(idx.Schema, rows)
}

// Sort orders rows by columnName, ascending or descending. Ties preserve
// original relative order (stable sort).
func Sort(idx *RowIndex, columnName string, ascending bool) (*RowIndex, error) {
	colIdx, err := columnIndex(idx.Schema, columnName)
	if err != nil {
		return nil, err
	}
	rows := make([][]oxhash.Value, len(idx.Rows))
	copy(rows, idx.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i][colIdx], rows[j][colIdx])
		if ascending {
			return less
		}
		return lessValue(rows[j][colIdx], rows[i][colIdx])
	})
	return rebuild(idx.Schema, rows), nil
}

// AddColumn appends a new field and its values (one per existing row) to idx.
func AddColumn(idx *RowIndex, field oxhash.SchemaField, values []oxhash.Value) (*RowIndex, error) {
	if len(values) != len(idx.Rows) {
		return nil, fmt.Errorf("tabular: add-column got %d values for %d rows", len(values), len(idx.Rows))
	}
	fields := append(append([]oxhash.SchemaField{}, idx.Schema.Fields...), field)
	rows := make([][]oxhash.Value, len(idx.Rows))
	for i, r := range idx.Rows {
		rows[i] = append(append([]oxhash.Value{}, r...), values[i])
	}
	return rebuild(Schema{Fields: fields}, rows), nil
}

// AddRow appends a single row, which must have one value per schema field.
func AddRow(idx *RowIndex, row []oxhash.Value) (*RowIndex, error) {
	if len(row) != len(idx.Schema.Fields) {
		return nil, fmt.Errorf("tabular: add-row got %d values, schema has %d fields", len(row), len(idx.Schema.Fields))
	}
	rows := append(append([][]oxhash.Value{}, idx.Rows...), row)
	return rebuild(idx.Schema, rows), nil
}

// VStack concatenates two RowIndexes of identical schema.
func VStack(a, b *RowIndex) (*RowIndex, error) {
	if a.Schema.Hash != b.Schema.Hash {
		return nil, &ozerr.SchemaMismatch{Expected: a.Schema.Hash.String(), Actual: b.Schema.Hash.String()}
	}
	rows := make([][]oxhash.Value, 0, len(a.Rows)+len(b.Rows))
	rows = append(rows, a.Rows...)
	rows = append(rows, b.Rows...)
	return rebuild(a.Schema, rows), nil
}

// Unique drops rows whose _row_hash has already been seen, keeping the
// first occurrence.
func Unique(idx *RowIndex) *RowIndex {
	seen := map[oxhash.ContentHash]bool{}
	var rows [][]oxhash.Value
	for i, h := range idx.RowHashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		rows = append(rows, idx.Rows[i])
	}
	return rebuild(idx.Schema, rows)
}

func columnIndex(schema Schema, name string) (int, error) {
	for i, f := range schema.Fields {
		if f.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("tabular: no such column %q", name)
}

func lessValue(a, b oxhash.Value) bool {
	switch a.Kind {
	case oxhash.KindInt:
		return a.Int < b.Int
	case oxhash.KindFloat:
		return a.Flt < b.Flt
	case oxhash.KindBool:
		return !a.Bool && b.Bool
	case oxhash.KindString:
		return a.Str < b.Str
	default:
		return false
	}
}

// --- Filter expressions (§4.7.4) -------------------------------------------

// comparator is one of ==, !=, <, <=, >, >=.
type comparator string

const (
	cmpEq comparator = "=="
	cmpNe comparator = "!="
	cmpLt comparator = "<"
	cmpLe comparator = "<="
	cmpGt comparator = ">"
	cmpGe comparator = ">="
)

type term struct {
	column string
	cmp    comparator
	lit    oxhash.Value
}

// Filter applies an expression of terms joined by && (higher precedence)
// and || — e.g. "age >= 18 && country == \"US\" || vip == true" — keeping
// rows that satisfy it (§4.7.4).
func Filter(idx *RowIndex, expr string) (*RowIndex, error) {
	orGroups := strings.Split(expr, "||")
	parsedGroups := make([][]term, len(orGroups))
	for i, group := range orGroups {
		andTerms := strings.Split(group, "&&")
		terms := make([]term, len(andTerms))
		for j, t := range andTerms {
			parsed, err := parseTerm(t)
			if err != nil {
				return nil, err
			}
			terms[j] = parsed
		}
		parsedGroups[i] = terms
	}

	colIdx := map[string]int{}
	for i, f := range idx.Schema.Fields {
		colIdx[f.Name] = i
	}

	var rows [][]oxhash.Value
	for _, row := range idx.Rows {
		if matchesAnyGroup(parsedGroups, colIdx, row) {
			rows = append(rows, row)
		}
	}
	return rebuild(idx.Schema, rows), nil
}

func matchesAnyGroup(groups [][]term, colIdx map[string]int, row []oxhash.Value) bool {
	for _, terms := range groups {
		if matchesAllTerms(terms, colIdx, row) {
			return true
		}
	}
	return false
}

func matchesAllTerms(terms []term, colIdx map[string]int, row []oxhash.Value) bool {
	for _, t := range terms {
		i, ok := colIdx[t.column]
		if !ok || !evalTerm(row[i], t.cmp, t.lit) {
			return false
		}
	}
	return true
}

func parseTerm(s string) (term, error) {
	s = strings.TrimSpace(s)
	for _, op := range []comparator{cmpLe, cmpGe, cmpEq, cmpNe, cmpLt, cmpGt} {
		if idx := strings.Index(s, string(op)); idx >= 0 {
			col := strings.TrimSpace(s[:idx])
			litStr := strings.TrimSpace(s[idx+len(op):])
			return term{column: col, cmp: op, lit: parseLiteral(litStr)}, nil
		}
	}
	return term{}, fmt.Errorf("tabular: unparseable filter term %q", s)
}

func parseLiteral(s string) oxhash.Value {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return oxhash.StringValue(s[1 : len(s)-1])
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return oxhash.BoolValue(b)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return oxhash.IntValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return oxhash.FloatValue(f)
	}
	return oxhash.StringValue(s)
}

func evalTerm(v oxhash.Value, cmp comparator, lit oxhash.Value) bool {
	switch cmp {
	case cmpEq:
		return valuesEqual(v, lit)
	case cmpNe:
		return !valuesEqual(v, lit)
	case cmpLt:
		return lessValue(v, lit)
	case cmpLe:
		return lessValue(v, lit) || valuesEqual(v, lit)
	case cmpGt:
		return lessValue(lit, v)
	case cmpGe:
		return lessValue(lit, v) || valuesEqual(v, lit)
	default:
		return false
	}
}

func valuesEqual(a, b oxhash.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case oxhash.KindInt:
		return a.Int == b.Int
	case oxhash.KindFloat:
		return a.Flt == b.Flt
	case oxhash.KindBool:
		return a.Bool == b.Bool
	case oxhash.KindString:
		return a.Str == b.Str
	default:
		return true // both null
	}
}

// --- Aggregation (§4.7.4) ---------------------------------------------------

// AggFunc is one of the supported group-by aggregation functions.
type AggFunc string

const (
	AggCount   AggFunc = "count"
	AggNUnique AggFunc = "n_unique"
	AggMin     AggFunc = "min"
	AggMax     AggFunc = "max"
	AggMean    AggFunc = "mean"
	AggMedian  AggFunc = "median"
	AggStd     AggFunc = "std"
	AggVar     AggFunc = "var"
	AggFirst   AggFunc = "first"
	AggLast    AggFunc = "last"
	AggList    AggFunc = "list"
)

// AggSpec requests one aggregation over one column, producing a result
// column named Column+"_"+Func.
type AggSpec struct {
	Column string
	Func   AggFunc
}

// Aggregate groups rows by groupByCols and computes aggs per group,
// producing a new RowIndex with the group-by columns followed by one result
// column per AggSpec (§4.7.4).
func Aggregate(idx *RowIndex, groupByCols []string, aggs []AggSpec) (*RowIndex, error) {
	groupIdx := make([]int, len(groupByCols))
	for i, c := range groupByCols {
		idxCol, err := columnIndex(idx.Schema, c)
		if err != nil {
			return nil, err
		}
		groupIdx[i] = idxCol
	}
	aggColIdx := make([]int, len(aggs))
	for i, a := range aggs {
		idxCol, err := columnIndex(idx.Schema, a.Column)
		if err != nil {
			return nil, err
		}
		aggColIdx[i] = idxCol
	}

	type group struct {
		key  []oxhash.Value
		rows [][]oxhash.Value
	}
	order := []string{}
	groups := map[string]*group{}
	for _, row := range idx.Rows {
		key := make([]oxhash.Value, len(groupIdx))
		for i, c := range groupIdx {
			key[i] = row[c]
		}
		k := groupKeyString(key)
		g, ok := groups[k]
		if !ok {
			g = &group{key: key}
			groups[k] = g
			order = append(order, k)
		}
		g.rows = append(g.rows, row)
	}

	fields := make([]oxhash.SchemaField, 0, len(groupByCols)+len(aggs))
	for _, c := range groupByCols {
		i, _ := columnIndex(idx.Schema, c)
		fields = append(fields, idx.Schema.Fields[i])
	}
	for _, a := range aggs {
		fields = append(fields, oxhash.SchemaField{Name: a.Column + "_" + string(a.Func), Type: "string"})
	}

	var rows [][]oxhash.Value
	for _, k := range order {
		g := groups[k]
		row := append([]oxhash.Value{}, g.key...)
		for i, a := range aggs {
			row = append(row, computeAgg(a.Func, g.rows, aggColIdx[i]))
		}
		rows = append(rows, row)
	}

	return rebuild(Schema{Fields: fields}, rows), nil
}

func groupKeyString(key []oxhash.Value) string {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%d:%v:%v:%v:%v|", v.Kind, v.Int, v.Flt, v.Str, v.Bool)
	}
	return b.String()
}

func computeAgg(fn AggFunc, rows [][]oxhash.Value, col int) oxhash.Value {
	switch fn {
	case AggCount:
		return oxhash.IntValue(int64(len(rows)))
	case AggNUnique:
		seen := map[string]bool{}
		for _, r := range rows {
			seen[groupKeyString([]oxhash.Value{r[col]})] = true
		}
		return oxhash.IntValue(int64(len(seen)))
	case AggFirst:
		return rows[0][col]
	case AggLast:
		return rows[len(rows)-1][col]
	case AggList:
		parts := make([]string, len(rows))
		for i, r := range rows {
			parts[i] = valueToString(r[col])
		}
		return oxhash.StringValue("[" + strings.Join(parts, ",") + "]")
	case AggMin, AggMax:
		best := rows[0][col]
		for _, r := range rows[1:] {
			if (fn == AggMin && lessValue(r[col], best)) || (fn == AggMax && lessValue(best, r[col])) {
				best = r[col]
			}
		}
		return best
	case AggMean, AggMedian, AggStd, AggVar:
		nums := numericValues(rows, col)
		return oxhash.FloatValue(numericAgg(fn, nums))
	default:
		return oxhash.NullValue()
	}
}

func numericValues(rows [][]oxhash.Value, col int) []float64 {
	nums := make([]float64, 0, len(rows))
	for _, r := range rows {
		v := r[col]
		switch v.Kind {
		case oxhash.KindInt:
			nums = append(nums, float64(v.Int))
		case oxhash.KindFloat:
			nums = append(nums, v.Flt)
		}
	}
	return nums
}

func numericAgg(fn AggFunc, nums []float64) float64 {
	if len(nums) == 0 {
		return 0
	}
	mean := 0.0
	for _, n := range nums {
		mean += n
	}
	mean /= float64(len(nums))
	if fn == AggMean {
		return mean
	}

	sorted := append([]float64{}, nums...)
	sort.Float64s(sorted)
	if fn == AggMedian {
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	}

	variance := 0.0
	for _, n := range nums {
		d := n - mean
		variance += d * d
	}
	variance /= float64(len(nums))
	if fn == AggVar {
		return variance
	}
	return math.Sqrt(variance)
}

func valueToString(v oxhash.Value) string {
	switch v.Kind {
	case oxhash.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case oxhash.KindFloat:
		return strconv.FormatFloat(v.Flt, 'g', -1, 64)
	case oxhash.KindBool:
		return strconv.FormatBool(v.Bool)
	case oxhash.KindString:
		return v.Str
	default:
		return ""
	}
}
