package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/oxen-ai/oxen/internal/checkout"
	"github.com/oxen-ai/oxen/internal/cli"
	"github.com/oxen-ai/oxen/internal/ozerr"
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/staging"
	"github.com/oxen-ai/oxen/internal/termcolor"
)

// openRepo opens the repository containing the current directory, printing
// a git-style fatal message and exiting 128 on failure (matching the
// teacher's gitcore-backed commands' convention for "not a repository").
func openRepo() *repo.Repository {
	r, err := repo.Open(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(128)
	}
	return r
}

func registerRepoCommands(app *cli.App, cw *termcolor.Writer) {
	app.Register(&cli.Command{
		Name:    "init",
		Summary: "Create a new repository",
		Usage:   "oxen init [path]",
		Run:     runInit,
	})

	app.Register(&cli.Command{
		Name:     "status",
		Summary:  "Show staged and unstaged changes",
		Usage:    "oxen status [-p <path>] [--watch]",
		Examples: []string{"oxen status", "oxen status -p data/", "oxen status --watch"},
		Run:      func(args []string) int { return runStatus(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "add",
		Summary:  "Stage files for the next commit",
		Usage:    "oxen add <path>...",
		Examples: []string{"oxen add .", "oxen add data/train.csv"},
		Run:      runAdd,
	})

	app.Register(&cli.Command{
		Name:    "rm",
		Summary: "Stage a file's removal",
		Usage:   "oxen rm [--staged] <path>...",
		Run:     runRemove,
	})

	app.Register(&cli.Command{
		Name:     "commit",
		Summary:  "Record staged changes as a new commit",
		Usage:    "oxen commit -m <message>",
		Examples: []string{`oxen commit -m "add training split"`},
		Run:      runCommit,
	})

	app.Register(&cli.Command{
		Name:     "log",
		Summary:  "Show commit log",
		Usage:    "oxen log [--page N] [--limit N]",
		Examples: []string{"oxen log", "oxen log --page 1 --limit 20"},
		Run:      func(args []string) int { return runLog(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "branch",
		Summary: "Show the current branch, or create a branch",
		Usage:   "oxen branch [<name>]",
		Run:     func(args []string) int { return runBranch(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "checkout",
		Summary:  "Switch the working copy to a branch",
		Usage:    "oxen checkout [-b] <ref>",
		Examples: []string{"oxen checkout main", "oxen checkout -b feature"},
		Run:      func(args []string) int { return runCheckout(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "restore",
		Summary: "Restore paths from a commit without switching branches",
		Usage:   "oxen restore [--source <commit>] <path>...",
		Run:     runRestore,
	})

	app.Register(&cli.Command{
		Name:     "merge",
		Summary:  "Merge a branch into the current branch",
		Usage:    "oxen merge [--combine] <ref>",
		Examples: []string{"oxen merge feature", "oxen merge feature --combine"},
		Run:      func(args []string) int { return runMerge(args, cw) },
	})
}

func runInit(args []string) int {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	r, err := repo.Init(path)
	if err != nil {
		return fail("%v", err)
	}
	defer r.Close()
	fmt.Printf("Initialized empty Oxen repository in %s\n", r.OxenDir())
	return 0
}

func runStatus(args []string, cw *termcolor.Writer) int {
	prefix := ""
	watch := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-p":
			if i+1 < len(args) {
				prefix = args[i+1]
				i++
			}
		case "--watch":
			watch = true
		}
	}

	r := openRepo()
	defer r.Close()

	if watch {
		return watchStatus(r, prefix, cw)
	}
	return printStatus(r, prefix, cw)
}

func printStatus(r *repo.Repository, prefix string, cw *termcolor.Writer) int {
	changes, err := r.Scan(prefix)
	if err != nil {
		return fail("%v", err)
	}
	staged, err := r.Status()
	if err != nil {
		return fail("%v", err)
	}

	stagedByPath := map[string]staging.Entry{}
	for _, e := range staged {
		stagedByPath[e.Path] = e
	}

	fmt.Println(cw.Bold("Changes staged for commit:"))
	for _, e := range staged {
		fmt.Printf("  %s  %s\n", stagedStatusLabel(cw, e.Operation), e.Path)
	}
	if len(staged) == 0 {
		fmt.Println("  (none)")
	}

	fmt.Println()
	fmt.Println(cw.Bold("Changes not staged:"))
	any := false
	for _, c := range changes {
		if _, alreadyStaged := stagedByPath[c.Path]; alreadyStaged {
			continue
		}
		any = true
		label := "new file"
		if c.Tracked {
			label = "modified"
		}
		fmt.Printf("  %s  %s\n", cw.Yellow(label), c.Path)
	}
	if !any {
		fmt.Println("  (none)")
	}
	return 0
}

// watchStatus keeps a status view current by re-running printStatus on
// every fsnotify event (debounced) and reacting to Ctrl-C, the CLI-side
// analogue of internal/server/watcher.go's live working-tree watch.
func watchStatus(r *repo.Repository, prefix string, cw *termcolor.Writer) int {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fail("watch: %v", err)
	}
	defer watcher.Close()

	walkAndWatchDir(watcher, r.WorkDir())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redraw := func() {
		fmt.Print("\033[H\033[2J")
		printStatus(r, prefix, cw)
		fmt.Println()
		fmt.Println(cw.Bold("-- watching for changes, press Ctrl-C to exit --"))
	}
	redraw()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return 0
		case event, ok := <-watcher.Events:
			if !ok {
				return 0
			}
			if strings.Contains(event.Name, string(filepath.Separator)+".oxen") {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(200 * time.Millisecond)
			}
		case <-debounce.C:
			pending = false
			redraw()
		case err, ok := <-watcher.Errors:
			if !ok {
				return 0
			}
			fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		}
	}
}

// walkAndWatchDir adds fsnotify watches to dir and its subdirectories,
// skipping .oxen the same way internal/server/watcher.go does.
func walkAndWatchDir(watcher *fsnotify.Watcher, dir string) {
	filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error { //nolint:errcheck
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if !fi.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == ".oxen" || (strings.HasPrefix(base, ".") && path != dir) {
			return filepath.SkipDir
		}
		watcher.Add(path) //nolint:errcheck
		return nil
	})
}

func stagedStatusLabel(cw *termcolor.Writer, op staging.Operation) string {
	switch op {
	case staging.OpAdd:
		return cw.Green("new file")
	case staging.OpModify:
		return cw.Green("modified")
	case staging.OpRemove:
		return cw.Red("removed")
	default:
		return string(op)
	}
}

func runAdd(args []string) int {
	if len(args) == 0 {
		return usageError("add: at least one path required")
	}
	r := openRepo()
	defer r.Close()

	for _, p := range args {
		if err := r.Add(p); err != nil {
			return fail("%v", err)
		}
	}
	return 0
}

func runRemove(args []string) int {
	var paths []string
	for _, a := range args {
		if a == "--staged" || a == "-r" {
			continue
		}
		paths = append(paths, a)
	}
	if len(paths) == 0 {
		return usageError("rm: at least one path required")
	}

	r := openRepo()
	defer r.Close()
	for _, p := range paths {
		if err := r.Remove(p); err != nil {
			return fail("%v", err)
		}
	}
	return 0
}

func runCommit(args []string) int {
	message := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "-m" && i+1 < len(args) {
			message = args[i+1]
			i++
		}
	}
	if message == "" {
		return usageError("commit: -m <message> is required")
	}

	r := openRepo()
	defer r.Close()

	commit, err := r.Commit(message)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Printf("[%s] %s\n", commit.Hash.String()[:12], message)
	return 0
}

func runLog(args []string, cw *termcolor.Writer) int {
	page, limit := 0, 20
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--page":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &page)
				i++
			}
		case "--limit":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &limit)
				i++
			}
		}
	}

	r := openRepo()
	defer r.Close()

	commits, err := r.Log(page, limit)
	if err != nil {
		return fail("%v", err)
	}
	for _, c := range commits {
		fmt.Printf("%s %s\n", cw.Yellow(c.Hash.String()[:12]), c.Message)
		fmt.Printf("Author: %s <%s>\n", c.Author.Name, c.Author.Email)
		fmt.Printf("Date:   %s\n\n", c.Timestamp.Format("Mon Jan 2 15:04:05 2006 -0700"))
	}
	return 0
}

func runBranch(args []string, cw *termcolor.Writer) int {
	r := openRepo()
	defer r.Close()

	if len(args) > 0 {
		if err := r.CreateBranch(args[0]); err != nil {
			return fail("%v", err)
		}
		fmt.Printf("Created branch %s\n", args[0])
		return 0
	}

	head, err := r.Refs().GetHead()
	if err != nil {
		return fail("%v", err)
	}
	fmt.Printf("* %s\n", cw.BoldCyan(head.Branch))
	return 0
}

func runCheckout(args []string, cw *termcolor.Writer) int {
	createNew := false
	var ref string
	for _, a := range args {
		if a == "-b" {
			createNew = true
			continue
		}
		ref = a
	}
	if ref == "" {
		return usageError("checkout: a branch name is required")
	}

	r := openRepo()
	defer r.Close()

	if createNew {
		if err := r.CreateBranch(ref); err != nil {
			return fail("%v", err)
		}
	}

	result, err := r.Checkout(ref, false)
	if err != nil {
		if dirty, ok := err.(*ozerr.WorkingTreeDirty); ok {
			fmt.Fprintf(os.Stderr, "error: your local changes would be overwritten by checkout:\n")
			for _, p := range dirty.Paths {
				fmt.Fprintf(os.Stderr, "\t%s\n", p)
			}
			return 3
		}
		return fail("%v", err)
	}
	fmt.Printf("Switched to branch %s (%d written, %d removed)\n", cw.BoldCyan(ref), len(result.Written), len(result.Deleted))
	return 0
}

func runRestore(args []string) int {
	source := ""
	var paths []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--source" && i+1 < len(args):
			source = args[i+1]
			i++
		case args[i] == "--staged":
			// no-op: unstaging is a pending feature; restore here always
			// touches the worktree from a commit, never the staging area.
		default:
			paths = append(paths, args[i])
		}
	}
	if len(paths) == 0 {
		return usageError("restore: at least one path required")
	}

	r := openRepo()
	defer r.Close()

	if _, err := r.Restore(source, paths); err != nil {
		return fail("%v", err)
	}
	return 0
}

func runMerge(args []string, cw *termcolor.Writer) int {
	combine := false
	var ref string
	for _, a := range args {
		if a == "--combine" {
			combine = true
			continue
		}
		ref = a
	}
	if ref == "" {
		return usageError("merge: a branch name is required")
	}

	r := openRepo()
	defer r.Close()

	outcome, err := r.Merge(ref, combine)
	if err != nil {
		return fail("%v", err)
	}
	if outcome.UpToDate {
		fmt.Println("Already up to date.")
		return 0
	}
	if outcome.FastForward {
		fmt.Printf("Fast-forward to %s\n", ref)
		return 0
	}
	if len(outcome.Conflicts) > 0 {
		fmt.Fprintln(os.Stderr, cw.Red("Merge conflicts:"))
		for _, p := range outcome.Conflicts {
			fmt.Fprintf(os.Stderr, "\t%s\n", p)
		}
		return 3
	}

	head, err := r.Refs().GetHead()
	if err != nil {
		return fail("%v", err)
	}
	var entries []staging.Entry
	for _, fres := range outcome.Files {
		if fres.Kind == checkout.ResolutionOurs || fres.Kind == checkout.ResolutionConflict {
			continue
		}
		entries = append(entries, staging.Entry{Path: fres.Path, Operation: staging.OpModify, FileHash: fres.ResolvedHash, Size: fres.Size, RowIndexHash: fres.RowIndexHash})
	}
	for _, e := range entries {
		if err := r.Staged().Put(e); err != nil {
			return fail("%v", err)
		}
	}
	theirs, _, err := r.Refs().ResolveBranch(ref)
	if err != nil {
		return fail("%v", err)
	}
	message := fmt.Sprintf("Merge branch '%s' into %s", ref, head.Branch)
	mergeCommit, err := r.CommitMerge(message, theirs)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Printf("Merge made: %s\n", mergeCommit.Hash.String()[:12])
	return 0
}
