// Mcpd is the Zohar MCP service orchestration daemon.
//
// It loads a persisted registry of MCP services, starts the ones marked
// auto-start, monitors their liveness with bounded automatic restarts,
// and routes tool calls to the owning service. Configuration is loaded
// from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	mcpd serve               Run the orchestrator until interrupted
//	mcpd discover            Probe PATH for well-known MCP servers
//	mcpd version             Print version and build information
//	mcpd -o json discover    Output discovery results as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zhao-xuan/project-zohar-sub000/internal/buildinfo"
	"github.com/zhao-xuan/project-zohar-sub000/internal/config"
	"github.com/zhao-xuan/project-zohar-sub000/internal/mcp"
	"github.com/zhao-xuan/project-zohar-sub000/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the mcpd command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdout/stderr receive output, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests; our argument surface is small
// enough that manual parsing is clearer than bringing in a CLI
// framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown argument %q (try -help)", args[i])
		}
	}

	switch command {
	case "", "serve":
		return serve(ctx, stdout, configPath)
	case "discover":
		return discover(stdout, outputFmt)
	case "version":
		return version(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command %q (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `mcpd — Zohar MCP service orchestrator

Usage:
  mcpd [flags] <command>

Commands:
  serve       Run the orchestrator until interrupted (default)
  discover    Probe PATH for well-known MCP server executables
  version     Print version and build information

Flags:
  -config <path>   Config file (default: search %v)
  -o <format>      Output format for discover/version: text or json
`, config.DefaultSearchPaths())
	return nil
}

// loadConfig resolves the daemon configuration. Without an explicit
// -config flag, a missing config file is not an error — defaults apply.
func loadConfig(explicit string) (*config.Config, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

// serve runs the orchestrator until the context is cancelled or an
// interrupt arrives.
func serve(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String())

	var usageStore *usage.Store
	if p := cfg.UsagePath(); p != "" {
		usageStore, err = usage.NewStore(p)
		if err != nil {
			return err
		}
		defer usageStore.Close()
	}

	mgr := mcp.NewManager(mcp.ManagerConfig{
		RegistryPath:        cfg.ServicesPath(),
		HealthCheckInterval: cfg.HealthCheckInterval(),
		Usage:               usageStore,
		Logger:              logger,
	})

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(sigCtx); err != nil {
		return err
	}

	logger.Info("mcpd ready",
		"services", len(mgr.AllServiceStatus(sigCtx)),
		"active", mgr.ActiveServers(),
	)

	<-sigCtx.Done()
	stop()

	logger.Info("shutting down")
	mgr.Shutdown()
	return nil
}

// discover prints the well-known MCP servers found (or not) on PATH.
func discover(stdout io.Writer, outputFmt string) error {
	servers := mcp.DiscoverServices()

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(servers)
	}

	for _, s := range servers {
		mark := " "
		if s.Available {
			mark = "*"
		}
		fmt.Fprintf(stdout, "%s %-28s %s\n", mark, s.Command, s.Description)
	}
	fmt.Fprintln(stdout, "\n* = found on PATH")
	return nil
}

// version prints build information.
func version(stdout io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(buildinfo.Info())
	}

	fmt.Fprintln(stdout, buildinfo.String())
	return nil
}
