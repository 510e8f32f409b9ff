package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen/internal/cli"
	"github.com/oxen-ai/oxen/internal/progress"
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/termcolor"
	"github.com/oxen-ai/oxen/internal/transfer"
)

func registerRemoteCommands(app *cli.App, cw *termcolor.Writer) {
	app.Register(&cli.Command{
		Name:     "clone",
		Summary:  "Clone a remote repository",
		Usage:    "oxen clone <url> [-b <branch>] [<dir>]",
		Examples: []string{"oxen clone https://hub.oxen.ai/ox/mnist", "oxen clone https://hub.oxen.ai/ox/mnist -b dev data"},
		Run:      func(args []string) int { return runClone(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "push",
		Summary:  "Push a branch to a remote",
		Usage:    "oxen push <remote> <branch> [--force]",
		Examples: []string{"oxen push origin main"},
		Run:      func(args []string) int { return runPush(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "pull",
		Summary:  "Pull a branch from a remote",
		Usage:    "oxen pull <remote> <branch>",
		Examples: []string{"oxen pull origin main"},
		Run:      func(args []string) int { return runPull(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "remote",
		Summary: "Manage configured remotes",
		Usage:   "oxen remote [add <name> <url> | rm <name> | -v]",
		Run:     func(args []string) int { return runRemote(args, cw) },
	})

	app.Register(&cli.Command{
		Name:    "config",
		Summary: "Read or write repository and host configuration",
		Usage:   "oxen config [--name <name>] [--email <email>] [--auth <host> <token>]",
		Examples: []string{
			`oxen config --name "Jane Doe" --email jane@example.com`,
			"oxen config --auth hub.oxen.ai oxn_abc123",
		},
		Run: func(args []string) int { return runConfig(args) },
	})
}

func runClone(args []string, cw *termcolor.Writer) int {
	var url, branch, dir string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-b" && i+1 < len(args):
			branch = args[i+1]
			i++
		case url == "":
			url = args[i]
		default:
			dir = args[i]
		}
	}
	if url == "" {
		return usageError("clone: a remote url is required")
	}
	if dir == "" {
		dir = inferCloneDir(url)
	}
	if branch == "" {
		branch = "main"
	}

	bar := progress.NewBar()
	r, err := repo.CloneWithProgress(context.Background(), dir, url, branch, transferProgress(bar))
	bar.Done()
	if err != nil {
		return fail("%v", err)
	}
	defer r.Close()
	fmt.Printf("Cloned into %s\n", cw.BoldCyan(dir))
	return 0
}

// transferProgress adapts a progress.Bar to transfer.ProgressFunc, the
// wire-protocol's blob-transfer progress callback (§5, §9).
func transferProgress(bar *progress.Bar) transfer.ProgressFunc {
	return func(phase string, done, total int64) {
		bar.Update(phase, done, total)
	}
}

func inferCloneDir(url string) string {
	trimmed := strings.TrimSuffix(url, "/")
	return filepath.Base(trimmed)
}

func runPush(args []string, cw *termcolor.Writer) int {
	var force bool
	var positional []string
	for _, a := range args {
		if a == "--force" {
			force = true
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) < 2 {
		return usageError("push: a remote and branch are required")
	}
	remote, branch := positional[0], positional[1]

	r := openRepo()
	defer r.Close()

	bar := progress.NewBar()
	result, err := r.PushWithProgress(context.Background(), remote, branch, force, transferProgress(bar))
	bar.Done()
	if err != nil {
		return fail("%v", err)
	}
	if result.UpToDate {
		fmt.Println("Everything up-to-date")
		return 0
	}
	fmt.Printf("Pushed %d commit(s), %d blob(s) to %s %s -> %s\n",
		result.CommitsPushed, result.BlobsPushed, remote, cw.Yellow(result.OldHead.String()[:12]), cw.Green(result.NewHead.String()[:12]))
	return 0
}

func runPull(args []string, cw *termcolor.Writer) int {
	if len(args) < 2 {
		return usageError("pull: a remote and branch are required")
	}
	remote, branch := args[0], args[1]

	r := openRepo()
	defer r.Close()

	bar := progress.NewBar()
	result, err := r.PullWithProgress(context.Background(), remote, branch, transferProgress(bar))
	bar.Done()
	if err != nil {
		return fail("%v", err)
	}
	if result.UpToDate {
		fmt.Println("Already up to date.")
		return 0
	}
	fmt.Printf("Fetched %d commit(s), %d blob(s): %s -> %s\n",
		result.CommitsFetched, result.BlobsFetched, cw.Yellow(result.OldHead.String()[:12]), cw.Green(result.NewHead.String()[:12]))

	if _, err := r.Checkout(branch, false); err != nil {
		return fail("%v", err)
	}
	return 0
}

func runRemote(args []string, cw *termcolor.Writer) int {
	r := openRepo()
	defer r.Close()

	if len(args) == 0 || args[0] == "-v" {
		for name, rem := range r.Remotes() {
			fmt.Printf("%s\t%s\n", cw.BoldCyan(name), rem.URL)
		}
		return 0
	}

	switch args[0] {
	case "add":
		if len(args) < 3 {
			return usageError("remote add: a name and url are required")
		}
		if err := r.SetRemote(args[1], args[2]); err != nil {
			return fail("%v", err)
		}
		return 0
	case "rm":
		if len(args) < 2 {
			return usageError("remote rm: a name is required")
		}
		if err := r.RemoveRemote(args[1]); err != nil {
			return fail("%v", err)
		}
		return 0
	default:
		return usageError("remote: unknown subcommand %q", args[0])
	}
}

func runConfig(args []string) int {
	var name, email, authHost, authToken string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--email":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--auth":
			if i+2 < len(args) {
				authHost, authToken = args[i+1], args[i+2]
				i += 2
			}
		}
	}

	if authHost != "" {
		if err := repo.SetHostToken(authHost, authToken); err != nil {
			return fail("%v", err)
		}
		fmt.Printf("Saved auth token for %s\n", authHost)
	}

	if name != "" || email != "" {
		r := openRepo()
		defer r.Close()
		author := r.Author()
		if name != "" {
			author.Name = name
		}
		if email != "" {
			author.Email = email
		}
		if err := r.SetAuthor(author.Name, author.Email); err != nil {
			return fail("%v", err)
		}
	}

	if authHost == "" && name == "" && email == "" {
		return usageError("config: nothing to set")
	}
	return 0
}
