package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/oxen-ai/oxen/internal/cli"
	"github.com/oxen-ai/oxen/internal/merkle"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/tabular"
	"github.com/oxen-ai/oxen/internal/termcolor"
)

func registerDataCommands(app *cli.App, cw *termcolor.Writer) {
	app.Register(&cli.Command{
		Name:    "df",
		Summary: "Inspect and transform a tabular file's committed RowIndex",
		Usage:   "oxen df <path> [--head N] [--tail N] [--filter <expr>] [--sort <col>] [--reverse] [--unique] [-o <out>]",
		Examples: []string{
			"oxen df data/train.csv --head 10",
			`oxen df data/train.csv --filter "label==cat" -o cats.csv`,
		},
		Run: func(args []string) int { return runDF(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "schemas",
		Summary: "Show a tabular file's committed schema",
		Usage:   "oxen schemas <path>",
		Run:     func(args []string) int { return runSchemas(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "diff",
		Summary: "Show the row-level diff of a tabular file against HEAD",
		Usage:   "oxen diff <path>",
		Run:     func(args []string) int { return runDiff(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "info",
		Summary: "Show a tracked file's size, mime class, and hash",
		Usage:   "oxen info <path>",
		Run:     func(args []string) int { return runInfo(args, cw) },
	})
}

// loadCommittedFile resolves path's FileNode at HEAD, failing with
// *ozerr.PathNotFound if path isn't tracked (or HEAD has no commit yet).
// loadRowIndex builds on it to load the RowIndex blob of a tabular file.
func loadCommittedFile(r *repo.Repository, path string) (*merkle.FileNode, error) {
	head, err := r.HeadCommitHash()
	if err != nil {
		return nil, err
	}
	if head.IsZero() {
		return nil, &ozerr.PathNotFound{Path: path}
	}
	node, ok, err := r.Tree().File(head.String(), path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ozerr.PathNotFound{Path: path}
	}
	return node, nil
}

func loadRowIndex(r *repo.Repository, path string) (*tabular.RowIndex, error) {
	node, err := loadCommittedFile(r, path)
	if err != nil {
		return nil, err
	}
	if node.RowIndexHash == nil {
		return nil, fmt.Errorf("oxen: %q is not a tabular file", path)
	}
	rc, err := r.Blobs().Get(*node.RowIndexHash)
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

func runDF(args []string, cw *termcolor.Writer) int {
	if len(args) == 0 {
		return usageError("df: a path is required")
	}
	path := args[0]

	var (
		head, tail     int
		filterExpr     string
		sortCol        string
		reverse, uniq  bool
		outPath        string
	)
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--head":
			if i+1 < len(args) {
				head, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "--tail":
			if i+1 < len(args) {
				tail, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "--filter":
			if i+1 < len(args) {
				filterExpr = args[i+1]
				i++
			}
		case "--sort":
			if i+1 < len(args) {
				sortCol = args[i+1]
				i++
			}
		case "--reverse":
			reverse = true
		case "--unique":
			uniq = true
		case "-o":
			if i+1 < len(args) {
				outPath = args[i+1]
				i++
			}
		}
	}

	r := openRepo()
	defer r.Close()

	idx, err := loadRowIndex(r, path)
	if err != nil {
		return fail("%v", err)
	}

	if filterExpr != "" {
		idx, err = tabular.Filter(idx, filterExpr)
		if err != nil {
			return fail("%v", err)
		}
	}
	if sortCol != "" {
		idx, err = tabular.Sort(idx, sortCol, true)
		if err != nil {
			return fail("%v", err)
		}
	}
	if reverse {
		idx = tabular.Reverse(idx)
	}
	if uniq {
		idx = tabular.Unique(idx)
	}
	if head > 0 {
		end := head
		if end > len(idx.Rows) {
			end = len(idx.Rows)
		}
		idx = tabular.Slice(idx, 0, end)
	}
	if tail > 0 {
		start := len(idx.Rows) - tail
		if start < 0 {
			start = 0
		}
		idx = tabular.Slice(idx, start, len(idx.Rows))
	}

	data, err := idx.ToDelimited(',')
	if err != nil {
		return fail("%v", err)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fail("writing %s: %v", outPath, err)
		}
		fmt.Printf("Wrote %d row(s) to %s\n", len(idx.Rows), cw.BoldCyan(outPath))
		return 0
	}
	os.Stdout.Write(data)
	return 0
}

func runSchemas(args []string, cw *termcolor.Writer) int {
	if len(args) == 0 {
		return usageError("schemas: a path is required")
	}
	r := openRepo()
	defer r.Close()

	idx, err := loadRowIndex(r, args[0])
	if err != nil {
		return fail("%v", err)
	}
	fmt.Println(cw.Bold(fmt.Sprintf("Schema for %s:", args[0])))
	for _, f := range idx.Schema.Fields {
		fmt.Printf("  %-24s %s\n", f.Name, cw.Yellow(f.Type))
	}
	fmt.Printf("Hash: %s\n", idx.Schema.Hash.String())
	return 0
}

func runDiff(args []string, cw *termcolor.Writer) int {
	if len(args) == 0 {
		return usageError("diff: a path is required")
	}
	path := args[0]

	r := openRepo()
	defer r.Close()

	committed, err := loadRowIndex(r, path)
	if err != nil {
		return fail("%v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fail("opening %s: %v", path, err)
	}
	defer f.Close()
	format := tabular.DetectFormat(path)
	schema, err := tabular.SniffSchema(f, format, 0)
	if err != nil {
		return fail("%v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("%v", err)
	}
	working, err := tabular.BuildRowIndex(f, schema, format)
	if err != nil {
		return fail("%v", err)
	}

	d := tabular.DiffRowIndexes(committed, working)
	fmt.Printf("%s %d row(s) added, %s %d row(s) removed\n",
		cw.Green("+"), len(d.AddedRows), cw.Red("-"), len(d.RemovedRows))
	if d.SchemaChanged {
		fmt.Printf("schema changed: +%v -%v\n", d.AddedColumns, d.RemovedColumns)
	}
	return 0
}

func runInfo(args []string, cw *termcolor.Writer) int {
	if len(args) == 0 {
		return usageError("info: a path is required")
	}
	r := openRepo()
	defer r.Close()

	node, err := loadCommittedFile(r, args[0])
	if err != nil {
		return fail("%v", err)
	}
	fmt.Printf("path:  %s\n", args[0])
	fmt.Printf("hash:  %s\n", cw.Yellow(node.Hash.String()))
	fmt.Printf("size:  %d bytes\n", node.Size)
	fmt.Printf("mime:  %s\n", node.Mime)
	if node.RowIndexHash != nil {
		fmt.Printf("rows:  %s\n", cw.BoldCyan(node.RowIndexHash.String()))
	}
	return 0
}
