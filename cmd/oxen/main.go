// Command oxen is the CLI front end for the version-control system
// described in §6.1: init/status/add/rm/commit/log/branch/checkout/
// restore/merge/clone/push/pull/config/df/schemas/diff/info/remote.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/oxen-ai/oxen/internal/cli"
	"github.com/oxen-ai/oxen/internal/termcolor"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)
	app := cli.NewApp("oxen", version)
	app.Stderr = os.Stderr

	registerRepoCommands(app, cw)
	registerRemoteCommands(app, cw)
	registerDataCommands(app, cw)

	app.Register(&cli.Command{
		Name:    "version",
		Summary: "Show version information",
		Usage:   "oxen version",
		Run:     func([]string) int { printVersion(); return 0 },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("oxen %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
