// Package app wires all podscrub subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the serving loops, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithTranscriber, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podscrub/internal/adscan"
	"github.com/MrWong99/podscrub/internal/audioedit"
	"github.com/MrWong99/podscrub/internal/config"
	"github.com/MrWong99/podscrub/internal/feed"
	"github.com/MrWong99/podscrub/internal/health"
	"github.com/MrWong99/podscrub/internal/mcpserver"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/pipeline"
	"github.com/MrWong99/podscrub/internal/queue"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
	"github.com/MrWong99/podscrub/internal/urlguard"
	"github.com/MrWong99/podscrub/internal/validate"
	"github.com/MrWong99/podscrub/internal/web"
	"github.com/MrWong99/podscrub/pkg/provider/llm"
	"github.com/MrWong99/podscrub/pkg/provider/llm/anyllm"
	"github.com/MrWong99/podscrub/pkg/provider/llm/openai"
	"github.com/MrWong99/podscrub/pkg/provider/stt"
	"github.com/MrWong99/podscrub/pkg/provider/stt/whisper"
)

// App owns all subsystem lifetimes and runs the podcast processing server.
type App struct {
	cfg *config.Config

	store       store.Store
	guard       *urlguard.Guard
	feedClient  *feed.Client
	transcriber stt.Provider
	detector    pipeline.Detector
	editor      pipeline.AudioEditor
	downloader  pipeline.Downloader
	metrics     *observe.Metrics

	bus        *status.Bus
	feeds      *feed.Service
	scheduler  *queue.Scheduler
	web        *web.Server
	mcp        *mcpserver.Server
	mcpEnabled bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a state store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects a transcription backend instead of loading the
// whisper model from config.
func WithTranscriber(p stt.Provider) Option {
	return func(a *App) { a.transcriber = p }
}

// WithDetector injects an ad detector instead of building the LLM classifier.
func WithDetector(d pipeline.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithEditor injects an audio editor instead of the ffmpeg-backed one.
func WithEditor(e pipeline.AudioEditor) Option {
	return func(a *App) { a.editor = e }
}

// WithDownloader injects an audio downloader instead of the feed client.
func WithDownloader(d pipeline.Downloader) Option {
	return func(a *App) { a.downloader = d }
}

// WithMetrics injects a metrics bundle instead of using the default set.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMCPServer serves the MCP tools over stdio alongside the HTTP surface.
func WithMCPServer() Option {
	return func(a *App) { a.mcpEnabled = true }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection and
// migration, whisper model load, LLM provider construction, and scheduler
// assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.bus = status.NewBus(slog.Default())

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initFeeds(); err != nil {
		return nil, fmt.Errorf("app: init feeds: %w", err)
	}
	if err := a.initPipeline(ctx); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	a.web = web.New(cfg.Server.ListenAddr, a.bus, a.healthHandler(), a.metrics)

	if a.mcpEnabled {
		a.mcp = mcpserver.New(a.store, a.scheduler, a.bus, slog.Default())
	}

	return a, nil
}

// initStore opens the configured store backend, migrates it, and seeds the
// default settings. An empty DSN selects the in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Store.DSN
		if dsn == "" {
			slog.Warn("no store DSN configured, state is held in memory only")
			a.store = store.NewMemory()
		} else {
			pg, err := store.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return fmt.Errorf("migrate: %w", err)
			}
			a.store = pg
			a.closers = append(a.closers, func() error {
				pg.Close()
				return nil
			})
		}
	}
	return a.store.SeedDefaultSettings(ctx)
}

// initFeeds builds the SSRF guard, the feed client, and the refresh service.
func (a *App) initFeeds() error {
	var guardOpts []urlguard.Option
	if len(a.cfg.URLGuard.AllowedPorts) > 0 {
		guardOpts = append(guardOpts, urlguard.WithAllowedPorts(a.cfg.URLGuard.AllowedPorts))
	}
	a.guard = urlguard.New(guardOpts...)

	a.feedClient = feed.NewClient(a.guard)
	if a.downloader == nil {
		a.downloader = a.feedClient
	}
	return nil
}

// initPipeline constructs the transcriber, classifier, validator, editor,
// orchestrator, and the scheduler around the single processing slot.
func (a *App) initPipeline(ctx context.Context) error {
	if a.transcriber == nil {
		var opts []whisper.Option
		if a.cfg.Transcribe.Language != "" {
			opts = append(opts, whisper.WithLanguage(a.cfg.Transcribe.Language))
		}
		if a.cfg.Transcribe.InitialPrompt != "" {
			opts = append(opts, whisper.WithInitialPrompt(a.cfg.Transcribe.InitialPrompt))
		}
		if a.cfg.Editor.FFmpegPath != "" {
			opts = append(opts, whisper.WithFFmpegPath(a.cfg.Editor.FFmpegPath))
		}
		w, err := whisper.New(a.cfg.Transcribe.ModelPath, opts...)
		if err != nil {
			return fmt.Errorf("load whisper model: %w", err)
		}
		a.transcriber = w
		a.closers = append(a.closers, w.Close)
	}

	if a.detector == nil {
		provider, err := a.buildLLM()
		if err != nil {
			return fmt.Errorf("build llm provider: %w", err)
		}
		var classifierOpts []adscan.Option
		if a.cfg.LLM.Temperature > 0 {
			classifierOpts = append(classifierOpts, adscan.WithTemperature(a.cfg.LLM.Temperature))
		}
		if a.cfg.LLM.MaxTokens > 0 {
			classifierOpts = append(classifierOpts, adscan.WithMaxTokens(a.cfg.LLM.MaxTokens))
		}
		if a.cfg.Classifier.UserPromptTemplate != "" {
			classifierOpts = append(classifierOpts, adscan.WithPromptTemplate(a.cfg.Classifier.UserPromptTemplate))
		}
		// Track wraps the provider so token usage lands in the per-episode tally.
		a.detector = adscan.New(llm.Track(provider), classifierOpts...)
	}

	if a.editor == nil {
		var opts []audioedit.Option
		if a.cfg.Editor.FFmpegPath != "" {
			opts = append(opts, audioedit.WithFFmpegPath(a.cfg.Editor.FFmpegPath))
		}
		if a.cfg.Editor.FFprobePath != "" {
			opts = append(opts, audioedit.WithFFprobePath(a.cfg.Editor.FFprobePath))
		}
		a.editor = audioedit.New(opts...)
	}

	validator := validate.New(validate.Config{
		MinAdDuration:          a.cfg.Validator.MinAdDuration.Seconds(),
		ShortAdDuration:        a.cfg.Validator.ShortAdDuration.Seconds(),
		MaxAdDuration:          a.cfg.Validator.MaxAdDuration.Seconds(),
		MaxConfirmedAdDuration: a.cfg.Validator.MaxConfirmedAdDuration.Seconds(),
		MergeGap:               a.cfg.Validator.MergeGap.Seconds(),
		MinConfidence:          a.cfg.Validator.MinConfidence,
		LowConfidence:          a.cfg.Validator.LowConfidence,
	}, slog.Default())

	orch := pipeline.New(a.store, a.transcriber, a.detector, a.editor, validator, a.downloader,
		pipeline.Config{
			DataDir:           a.cfg.Server.DataDir,
			Bitrate:           a.cfg.Editor.Bitrate,
			MarkerPath:        a.cfg.Editor.MarkerPath,
			BlindSecondPass:   a.cfg.Classifier.BlindSecondPass,
			SameSponsorMaxGap: a.cfg.Classifier.SameSponsorMaxGap.Seconds(),
			PrerollDetection:  a.boolSetting(ctx, "preroll_detection", true),
			PostrollDetection: a.boolSetting(ctx, "postroll_detection", true),
			VerificationPass:  a.boolSetting(ctx, "verification_pass", true),
		},
		pipeline.WithStatusBus(a.bus),
		pipeline.WithMetrics(a.metrics),
	)

	// The feed service enqueues through the App so it can be built before
	// the scheduler that consumes the queue.
	a.feeds = feed.NewService(a.store, a.feedClient, a,
		feed.WithStatusBus(a.bus),
		feed.WithMetrics(a.metrics),
	)
	a.scheduler = queue.NewScheduler(a.store, queue.NewSlot(), a.cfg.Scheduler, orch,
		queue.WithStatusBus(a.bus),
		queue.WithRefresher(a.feeds),
		queue.WithMetrics(a.metrics),
	)
	return nil
}

// buildLLM constructs the configured completion backend. Named providers go
// through the multi-provider library; "openai-compatible" speaks the OpenAI
// wire format against a custom base URL.
func (a *App) buildLLM() (llm.Provider, error) {
	cfg := a.cfg.LLM
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}

	if cfg.Provider == "openai-compatible" {
		var opts []openai.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(cfg.Timeout))
		}
		return openai.New(apiKey, cfg.Model, opts...)
	}

	var opts []anyllmlib.Option
	if apiKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(apiKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}
	return anyllm.New(cfg.Provider, cfg.Model, opts...)
}

// boolSetting reads a boolean setting, falling back when absent or malformed.
func (a *App) boolSetting(ctx context.Context, key string, fallback bool) bool {
	s, err := a.store.GetSetting(ctx, key)
	if err != nil {
		return fallback
	}
	v, err := strconv.ParseBool(s.Value)
	if err != nil {
		return fallback
	}
	return v
}

// healthHandler assembles the readiness checks for the HTTP surface.
func (a *App) healthHandler() *health.Handler {
	ffmpeg := a.cfg.Editor.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := a.cfg.Editor.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	checkers := []health.Checker{
		health.StoreCheck(a.store),
		health.BinaryCheck("ffmpeg", ffmpeg),
		health.BinaryCheck("ffprobe", ffprobe),
	}
	if a.cfg.Transcribe.ModelPath != "" {
		checkers = append(checkers, health.FileCheck("whisper_model", a.cfg.Transcribe.ModelPath))
	}
	return health.New(checkers...)
}

// Enqueue adds an episode to the processing queue.
func (a *App) Enqueue(ctx context.Context, slug, episodeID, url, title string) error {
	return a.scheduler.Enqueue(ctx, slug, episodeID, url, title)
}

var _ feed.Enqueuer = (*App)(nil)

// Feeds exposes the refresh service, used by tests and admin tooling.
func (a *App) Feeds() *feed.Service { return a.feeds }

// Store exposes the state store.
func (a *App) Store() store.Store { return a.store }

// Run starts the HTTP server and the scheduler loops and blocks until ctx is
// cancelled or a subsystem fails. New episodes found on the initial feed
// sweep are queued before the first scheduler tick fires.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.feeds.RefreshAll(ctx)
		return nil
	})
	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.web.Run(ctx) })
	if a.mcp != nil {
		g.Go(func() error { return a.mcp.Run(ctx) })
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "mcp", a.mcp != nil)
	return g.Wait()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
