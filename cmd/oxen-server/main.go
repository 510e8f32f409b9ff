// Command oxen-server serves a single repository's read API, remote-workspace
// endpoints, live status feed, and the push/pull wire protocol over HTTP so
// other `oxen` clients can clone, push to, and pull from it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/oxen-ai/oxen/internal/progress"
	"github.com/oxen-ai/oxen/internal/repo"
	"github.com/oxen-ai/oxen/internal/server"
	"github.com/oxen-ai/oxen/internal/termcolor"
)

const outputFormatJSON = "json"

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	initLogger()

	repoPath := flag.String("repo", getEnv("OXEN_SERVER_REPO", "."), "Path to the oxen repository to serve")
	port := flag.String("port", getEnv("OXEN_SERVER_PORT", "8080"), "Port to listen on")
	host := flag.String("host", getEnv("OXEN_SERVER_HOST", ""), "Host to bind to (empty = all interfaces)")
	colorFlag := flag.String("color", "auto", "Color output: auto, always, never")
	noColor := flag.Bool("no-color", false, "Disable color output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	showHelp := flag.Bool("help", false, "Show help and exit")
	outputFormat := flag.String("output", "", "Startup output format: json (default: human-readable)")

	flag.Parse()

	colorMode := termcolor.ColorAuto
	if *noColor {
		colorMode = termcolor.ColorNever
	} else if *colorFlag != "auto" {
		var err error
		colorMode, err = termcolor.ParseColorMode(*colorFlag)
		if err != nil {
			slog.Error("Invalid color flag", "value", *colorFlag, "err", err)
			os.Exit(1)
		}
	}
	cw := termcolor.NewWriter(os.Stdout, colorMode)

	portNum, _ := strconv.Atoi(*port)
	if err := validateConfig(*outputFormat, portNum); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cw.Red("error:"), err)
		os.Exit(1)
	}

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp(cw)
		os.Exit(0)
	}

	spin := progress.New("Opening repository...")
	spin.Start()
	loadStart := time.Now()
	r, err := repo.Open(*repoPath)
	loadDur := time.Since(loadStart).Round(time.Millisecond)
	spin.Stop()
	if err != nil {
		slog.Error("Failed to open repository", "path", *repoPath, "err", err)
		os.Exit(1)
	}
	defer r.Close()

	addr := fmt.Sprintf("%s:%s", *host, *port)
	serv := server.NewServer(r, addr)

	slog.Info("Starting oxen-server", "version", version)
	slog.Info("Repository opened", "path", *repoPath)
	slog.Info("Listening", "addr", "http://"+addr)

	if *outputFormat == outputFormatJSON {
		printStartupJSON(addr, *repoPath, loadDur)
	} else {
		printStartupBanner(cw, addr, *repoPath, loadDur)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- serv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutdown initiated, press Ctrl+C again to force exit")
		stop()
		serv.Shutdown()
	}
}

// initLogger reads OXEN_SERVER_LOG_LEVEL and OXEN_SERVER_LOG_FORMAT from the
// environment, constructs the appropriate slog.Handler, and installs it as
// the default logger.
func initLogger() {
	level := slog.LevelInfo
	switch getEnv("OXEN_SERVER_LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if getEnv("OXEN_SERVER_LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printVersion() {
	fmt.Printf("oxen-server %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
	fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func validateConfig(outputFormat string, portNum int) error {
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if outputFormat != "" && outputFormat != outputFormatJSON {
		return fmt.Errorf("-output %q is not valid; only \"json\" is supported", outputFormat)
	}
	return nil
}

func printStartupBanner(cw *termcolor.Writer, addr, repoPath string, loadDur time.Duration) {
	fmt.Printf("%s %s\n", cw.BoldCyan("oxen-server"), cw.Green(version))
	timing := fmt.Sprintf("(opened in %s)", cw.Yellow(loadDur.String()))
	fmt.Printf("  repo:    %s  %s\n", repoPath, timing)
	fmt.Printf("  listen:  http://%s\n", addr)
	fmt.Printf("  commit:  %s\n", commit)
	if termcolor.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("\n%s\n", cw.Bold("Press Ctrl+C to stop."))
	}
}

type startupInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Listen    string `json:"listen"`
	RepoPath  string `json:"repo_path"`
	LoadMs    int64  `json:"repo_load_ms"`
}

func printStartupJSON(addr, repoPath string, loadDur time.Duration) {
	info := startupInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		Listen:    "http://" + addr,
		RepoPath:  repoPath,
		LoadMs:    loadDur.Milliseconds(),
	}
	data, _ := json.Marshal(info)
	fmt.Println(string(data))
}

func printHelp(cw *termcolor.Writer) {
	fmt.Println("oxen-server - serve a repository's read API, workspace endpoints, and sync protocol")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println(cw.Bold("Usage:"))
	fmt.Println("  oxen-server [flags]")
	fmt.Println()
	fmt.Println(cw.Bold("Flags:"))
	fmt.Printf("  %s string\n", cw.Yellow("-repo"))
	fmt.Println("        Path to the oxen repository to serve (default: \".\")")
	fmt.Println("        Environment: OXEN_SERVER_REPO")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-port"))
	fmt.Println("        Port to listen on (default: 8080)")
	fmt.Println("        Environment: OXEN_SERVER_PORT")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-host"))
	fmt.Println("        Host to bind to (default: all interfaces)")
	fmt.Println("        Environment: OXEN_SERVER_HOST")
	fmt.Println()
	fmt.Printf("  %s string\n", cw.Yellow("-output"))
	fmt.Println("        Startup output format: json (default: human-readable)")
	fmt.Println()
	fmt.Printf("  %s\n", cw.Yellow("-version"))
	fmt.Println("        Show version and exit")
	fmt.Println()
	fmt.Printf("  %s\n", cw.Yellow("-help"))
	fmt.Println("        Show this help message")
	fmt.Println()
	fmt.Println(cw.Bold("Examples:"))
	fmt.Println("  oxen-server -repo .              # serve the repo in the current directory")
	fmt.Println("  oxen-server -repo /data/myrepo -port 3000")
	fmt.Println("  oxen-server -host localhost -port 9090")
	fmt.Println()
	fmt.Println(cw.Bold("Environment Variables:"))
	fmt.Println("  OXEN_SERVER_REPO         Repository path")
	fmt.Println("  OXEN_SERVER_PORT         Default port")
	fmt.Println("  OXEN_SERVER_HOST         Default host")
	fmt.Println("  OXEN_SERVER_LOG_LEVEL    Log level: debug, info, warn, error (default: info)")
	fmt.Println("  OXEN_SERVER_LOG_FORMAT   Log format: text, json (default: text)")
}
