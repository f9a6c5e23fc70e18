// Command podscrub is the main entry point for the podscrub podcast
// ad-removal server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/podscrub/internal/app"
	"github.com/MrWong99/podscrub/internal/config"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	mcpStdio := flag.Bool("mcp", false, "also serve MCP tools over stdio")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "podscrub: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "podscrub: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("podscrub starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Migrate-and-exit mode ─────────────────────────────────────────────────
	if *migrateOnly {
		return migrate(ctx, cfg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "podscrub",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	var opts []app.Option
	if *mcpStdio {
		opts = append(opts, app.WithMCPServer())
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, *mcpStdio)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// migrate applies the schema to the configured PostgreSQL database.
func migrate(ctx context.Context, cfg *config.Config) int {
	if cfg.Store.DSN == "" {
		fmt.Fprintln(os.Stderr, "podscrub: --migrate requires store.dsn to be configured")
		return 1
	}
	pg, err := store.Connect(ctx, cfg.Store.DSN)
	if err != nil {
		slog.Error("connecting to database", "err", err)
		return 1
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		slog.Error("running migrations", "err", err)
		return 1
	}
	slog.Info("migrations applied")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mcp bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         podscrub — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Data dir", cfg.Server.DataDir)
	if cfg.Store.DSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "in-memory")
	}
	printRow("Whisper model", cfg.Transcribe.ModelPath)
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	if mcp {
		printRow("MCP", "stdio")
	} else {
		printRow("MCP", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" || value == " / " {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
