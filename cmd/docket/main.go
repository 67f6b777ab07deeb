// Docket is a task-management AI agent.
//
// It exposes a REST and websocket API for tasks, tags, and chat, and
// drives the Backboard provider for model responses and per-user
// memory. Task activity can optionally fan out to an MQTT broker, a
// CalDAV collection, and importers for GitHub issues and IMAP mail.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	docket serve              Start the API server
//	docket init [dir]         Initialize a working directory with defaults
//	docket seed               Insert the default tag palette
//	docket ask <question>     Ask a single question (for testing)
//	docket version            Print version and build information
//	docket -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/docket-ai-agent/internal/agent"
	"github.com/nugget/docket-ai-agent/internal/api"
	"github.com/nugget/docket-ai-agent/internal/backboard"
	"github.com/nugget/docket-ai-agent/internal/buildinfo"
	"github.com/nugget/docket-ai-agent/internal/caldav"
	"github.com/nugget/docket-ai-agent/internal/config"
	"github.com/nugget/docket-ai-agent/internal/connwatch"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/githubsync"
	"github.com/nugget/docket-ai-agent/internal/httpkit"
	"github.com/nugget/docket-ai-agent/internal/mailbox"
	"github.com/nugget/docket-ai-agent/internal/metrics"
	"github.com/nugget/docket-ai-agent/internal/notify"
	"github.com/nugget/docket-ai-agent/internal/prompts"
	"github.com/nugget/docket-ai-agent/internal/session"
	"github.com/nugget/docket-ai-agent/internal/tasks"
	"github.com/nugget/docket-ai-agent/internal/tools"

	gogithub "github.com/google/go-github/v69/github"
	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main keeps the untestable parts in one place: os.Exit, os.Args, and
// the real stdio streams. Everything else lives in [run], which tests
// call directly to drive a complete startup and shutdown.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the testable entry point behind main. Cancelling ctx shuts
// the server and every background goroutine down cleanly. Structured
// logs and command output go to stdout; stderr is reserved for the
// fatal error main prints. args is os.Args[1:].
//
// A nil return means a clean exit. Any error is printed by main and
// becomes exit status 1.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// The flag package keeps its state in package-level globals, which
	// breaks tests that call run in parallel. Two flags and a
	// subcommand are small enough to parse inline.
	var configPath string
	var outputFmt string // text unless -o json
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
				// Everything after the subcommand belongs to it.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "seed":
		return runSeed(stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: docket ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion writes build metadata to w, as indented JSON or as an
// aligned text block.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Map iteration order would shuffle the fields on every run.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage answers -h, --help, and a bare "docket".
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Docket - Task Management AI Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: docket [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  seed         Insert the default tag palette")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/docket/config.yaml, /etc/docket/config.yaml")
	return nil
}

// runAsk handles the "docket ask <question>" subcommand. It boots the
// stores and provider gateway, processes a single question as the
// fixed owner "cli", and prints the response to stdout. Useful for
// smoke tests and debugging without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	taskStore, err := tasks.NewStore(db)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	sessionStore, err := session.NewStore(db)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	gateway := backboard.New(backboardConfig(cfg), logger)
	sessions := session.NewManager(sessionStore, gateway, logger, session.Options{
		TTL:          time.Duration(cfg.Agent.SessionTTLMinutes) * time.Minute,
		NamePrefix:   cfg.Agent.AssistantNamePrefix,
		SystemPrompt: prompts.BaseSystemPrompt(),
		Tools:        tools.CatalogJSON(),
	})

	ag := agent.New(taskStore, sessions, gateway, nil, logger, agent.Options{
		InlineSystemPrompt: cfg.Backboard.InlineSystemPrompt,
	})

	response, err := ag.ProcessMessage(ctx, "cli", question, true, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, response)
	return nil
}

// runServe handles the "docket serve" subcommand. It is the primary
// operating mode: loads config, opens the database, connects the
// provider gateway and session manager to the agent loop, starts the
// optional notifiers and importers, serves the API, and blocks until
// a shutdown signal arrives.
//
// Shutdown order:
//  1. SIGINT/SIGTERM cancels the shared context
//  2. the MQTT notifier publishes offline and disconnects
//  3. the HTTP server drains in-flight requests
//  4. deferred closes release the database and IMAP connections
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Docket", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Swap in the configured level and format. The bootstrap logger
	// above only exists so the startup banner has somewhere to go
	// before the config is read.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// cfg passed Validate, so the level string is known good.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Backboard.LLMProvider,
		"model", cfg.Backboard.ModelName,
	)

	// --- Database ---
	// Tasks, tags, assistants, and sessions share one SQLite file under
	// the data directory.
	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database opened", "path", filepath.Join(cfg.DataDir, "docket.db"))

	taskStore, err := tasks.NewStore(db)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	sessionStore, err := session.NewStore(db)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	// --- Provider gateway ---
	// All model runs, thread state, and document uploads go through
	// Backboard. Nothing model-shaped lives locally.
	gateway := backboard.New(backboardConfig(cfg), logger)

	// --- Session manager ---
	// Owner → assistant + thread. The system prompt and tool catalog
	// are pushed to assistants on create and refresh.
	sessions := session.NewManager(sessionStore, gateway, logger, session.Options{
		TTL:          time.Duration(cfg.Agent.SessionTTLMinutes) * time.Minute,
		NamePrefix:   cfg.Agent.AssistantNamePrefix,
		SystemPrompt: prompts.BaseSystemPrompt(),
		Tools:        tools.CatalogJSON(),
	})

	// --- Event bus ---
	// In-process fanout of task changes and agent progress to the
	// websocket handler, the MQTT notifier, the CalDAV syncer, and the
	// metrics collector.
	bus := events.New()

	// --- Metrics ---
	m := metrics.New()
	go m.WatchBus(ctx, bus)

	// --- Agent ---
	// The conversation engine: one ProcessMessage call per user turn.
	ag := agent.New(taskStore, sessions, gateway, bus, logger, agent.Options{
		InlineSystemPrompt: cfg.Backboard.InlineSystemPrompt,
	})

	// --- Dependency watchers ---
	// Background reachability probes for external dependencies feed
	// the health endpoint. Startup never blocks on a down dependency.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	connMgr.Watch(ctx, "backboard", func(pCtx context.Context) error {
		return gateway.Ping(pCtx)
	}, connwatch.DefaultBackoffConfig())

	// --- MQTT notifier ---
	// Optional: publishes task activity for home-automation consumers.
	var notifier *notify.Notifier
	if cfg.MQTT.Enabled {
		notifier = notify.New(cfg.MQTT, bus, logger)
		go func() {
			if err := notifier.Start(ctx); err != nil {
				logger.Error("mqtt notifier failed", "error", err)
			}
		}()

		connMgr.Watch(ctx, "mqtt", func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return notifier.AwaitConnection(awaitCtx)
		}, connwatch.DefaultBackoffConfig())

		logger.Info("mqtt notifier enabled", "broker", cfg.MQTT.BrokerURL, "device_name", cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt notifier disabled")
	}

	// --- CalDAV export ---
	// Optional: mirrors dated tasks into a CalDAV collection as VTODOs.
	if cfg.CalDAV.Enabled {
		syncer, err := caldav.New(cfg.CalDAV, taskStore, bus, logger)
		if err != nil {
			return fmt.Errorf("configure caldav export: %w", err)
		}
		go func() {
			if err := syncer.Start(ctx); err != nil {
				logger.Error("caldav export failed", "error", err)
			}
		}()
		logger.Info("caldav export enabled", "url", cfg.CalDAV.URL)
	} else {
		logger.Info("caldav export disabled")
	}

	// --- GitHub issue import ---
	if cfg.GitHub.Enabled {
		httpClient := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))
		ghClient := gogithub.NewClient(httpClient).WithAuthToken(cfg.GitHub.Token)
		importer := githubsync.New(ghClient, cfg.GitHub, taskStore, bus, logger)
		go importer.Start(ctx)
		logger.Info("github import enabled", "repo", cfg.GitHub.Repo, "task_owner", cfg.GitHub.Owner)
	} else {
		logger.Info("github import disabled")
	}

	// --- Mailbox import ---
	if cfg.Mailbox.Enabled {
		mbClient := mailbox.NewClient(cfg.Mailbox, logger)
		defer mbClient.Close()

		importer := mailbox.NewImporter(mbClient, cfg.Mailbox, taskStore, bus, logger)
		go importer.Start(ctx)

		connMgr.Watch(ctx, "imap", func(pCtx context.Context) error {
			return mbClient.Ping(pCtx)
		}, connwatch.DefaultBackoffConfig())

		logger.Info("mailbox import enabled", "host", cfg.Mailbox.Host, "task_owner", cfg.Mailbox.Owner)
	} else {
		logger.Info("mailbox import disabled")
	}

	// --- HTTP API ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, taskStore, ag, sessions, gateway, logger)
	server.SetBus(bus)
	server.SetMetrics(m)
	server.SetReadiness(connMgr.Readiness)
	if cfg.API.PublicURL != "" {
		server.SetPublicURL(cfg.API.PublicURL)
	}
	if cfg.API.AuthTokenHash != "" {
		server.SetAuthTokenHash(cfg.API.AuthTokenHash)
		logger.Info("bearer auth enabled")
	}

	// --- Shutdown ---
	// Route SIGINT and SIGTERM through the same context every
	// component is already watching.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested")

		// The notifier gets a bounded window to publish its offline
		// status before the broker connection drops.
		if notifier != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := notifier.Stop(offlineCtx); err != nil {
				logger.Error("mqtt notifier stop failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// (via context cancellation or fatal error).
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Docket stopped")
	return nil
}

// backboardConfig maps the YAML section onto the gateway's config.
func backboardConfig(cfg *config.Config) backboard.Config {
	return backboard.Config{
		BaseURL:     cfg.Backboard.BaseURL,
		APIKey:      cfg.Backboard.APIKey,
		LLMProvider: cfg.Backboard.LLMProvider,
		ModelName:   cfg.Backboard.ModelName,
		Timeout:     time.Duration(cfg.Backboard.TimeoutSec) * time.Second,
	}
}

// openDatabase opens (creating if needed) the SQLite file that backs
// tasks and sessions. WAL keeps readers from blocking the writer; the
// busy timeout covers write contention between the API server and the
// background importers.
func openDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.Join(dataDir, "docket.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// newLogger builds the slog logger every subcommand shares. format is
// "json" or "text"; anything unrecognized falls back to text. The
// ReplaceAttr hook keeps the custom trace level printing as TRACE
// rather than DEBUG-4.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig resolves and parses the YAML config. An explicit path
// (the -config flag) must exist; without one the default search
// locations are tried in order. The returned path names the file that
// was actually loaded so callers can log it.
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
