// Arbiter is an autonomous task-execution agent.
//
// It drives a local language model through an explicit run-loop state
// machine: every tool call the model proposes is gated by an approval
// policy, every run can be planned, executed step by step, and
// reflected on afterwards. An HTTP API exposes run control and a
// WebSocket event stream; an optional MQTT publisher mirrors state
// transitions for external dashboards. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	arbiter serve            Start the API server
//	arbiter init [dir]       Initialize a working directory with defaults
//	arbiter ask <task>       Run a single task (for testing)
//	arbiter version          Print version and build information
//	arbiter -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/arbiterlabs/arbiter/internal/approval"
	"github.com/arbiterlabs/arbiter/internal/buildinfo"
	"github.com/arbiterlabs/arbiter/internal/config"
	"github.com/arbiterlabs/arbiter/internal/engine"
	"github.com/arbiterlabs/arbiter/internal/events"
	"github.com/arbiterlabs/arbiter/internal/llm"
	"github.com/arbiterlabs/arbiter/internal/memory"
	"github.com/arbiterlabs/arbiter/internal/mqtt"
	"github.com/arbiterlabs/arbiter/internal/tools"
	"github.com/arbiterlabs/arbiter/internal/web"
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

// run is the real entry point for the arbiter command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of all servers and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: arbiter ask <task>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// arbiter is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Arbiter - Autonomous Task Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: arbiter [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize a working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Run a single task (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/arbiter/config.yaml, /etc/arbiter/config.yaml")
	return nil
}

// runAsk handles the "arbiter ask <task>" subcommand. It boots the
// engine against a throwaway data directory, runs a single task
// synchronously, and prints the final assistant message to stdout.
// Useful for quick smoke tests and debugging without starting the
// server. Approval mode is forced to auto_approve since there is no
// API to resolve a suspension from.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	task := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		// ask should work out of the box; fall back to defaults when no
		// config file exists anywhere.
		cfg = config.Default()
	}

	tmpDir, err := os.MkdirTemp("", "arbiter-ask-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	eng, _, mem, err := buildEngine(cfg, tmpDir, approval.ModeAutoApprove, logger, nil)
	if err != nil {
		return err
	}
	defer mem.Close()

	if err := eng.Run(ctx, task); err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	st := eng.State()
	if st.Kind == engine.StateFailed {
		return fmt.Errorf("run failed: %s", st.Err)
	}

	msgs := eng.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			fmt.Fprintln(stdout, msgs[i].Content)
			return nil
		}
	}
	return nil
}

// runServe handles the "arbiter serve" subcommand. It is the primary
// operating mode: loads config, opens the memory database, builds the
// engine with its tool registry and event bus, starts the HTTP server,
// and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT publisher announces offline and disconnects
//  3. The HTTP server drains in-flight requests
//  4. Pending memory writes are flushed and the database is closed
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Arbiter", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			parsed, err := config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("config %s: %w", cfgPath, err)
			}
			level = parsed
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"model_url", cfg.Model.BaseURL,
	)

	// All persistent state (the long-term memory database) lives under
	// the data directory.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	mode, err := approval.ParseMode(cfg.Approval.Mode)
	if err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}

	bus := events.New()

	eng, registry, mem, err := buildEngine(cfg, cfg.DataDir, mode, logger, bus)
	if err != nil {
		return err
	}
	defer mem.Close()

	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := web.NewServer(listen, eng, registry, mem, bus, logger)

	// Optional MQTT state mirror.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		mqttPub = mqtt.New(cfg.MQTT, bus, logger)
		if err := mqttPub.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Arbiter stopped")
	return nil
}

// buildEngine wires the memory subsystem, tool registry, LLM client,
// and run-loop engine from configuration. dataDir overrides
// cfg.DataDir so runAsk can point the same wiring at a throwaway
// directory. The returned Manager owns the long-term database; the
// caller must Close it.
func buildEngine(cfg *config.Config, dataDir string, mode approval.Mode, logger *slog.Logger, bus *events.Bus) (*engine.Engine, *tools.Registry, *memory.Manager, error) {
	dbPath := cfg.Memory.LongTermPath
	if dbPath == "" {
		dbPath = "memory.db"
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dataDir, dbPath)
	}

	longterm, err := memory.NewLongTerm(dbPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open memory database %s: %w", dbPath, err)
	}
	mem := memory.NewManager(memory.NewWorking(cfg.Memory.WorkingCapacity), longterm, logger)
	logger.Info("memory database opened", "path", dbPath)

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, mem)

	timeout := time.Duration(cfg.Model.TimeoutSec) * time.Second
	client := llm.NewOllamaClient(cfg.Model.BaseURL, timeout, logger)

	eng := engine.New(engine.Config{
		Model:               cfg.Model.Name,
		ApprovalMode:        mode,
		MaxToolCalls:        cfg.Approval.MaxToolCallsPerRun,
		ToolTimeout:         time.Duration(cfg.Approval.ToolTimeoutSec) * time.Second,
		SystemPrompt:        cfg.SystemPrompt,
		ReflectionThreshold: cfg.Memory.ReflectionThreshold,
	}, engine.Deps{
		LLM:    client,
		Tools:  registry,
		Memory: mem,
		Bus:    bus,
		Logger: logger,
	})

	return eng, registry, mem, nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Arbiter goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise, [config.FindConfig] searches the default locations.
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
