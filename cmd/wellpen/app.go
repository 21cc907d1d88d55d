package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/wellpen/internal/agent"
	"github.com/nugget/wellpen/internal/config"
	"github.com/nugget/wellpen/internal/conversation"
	"github.com/nugget/wellpen/internal/database"
	"github.com/nugget/wellpen/internal/embeddings"
	"github.com/nugget/wellpen/internal/events"
	"github.com/nugget/wellpen/internal/fetch"
	"github.com/nugget/wellpen/internal/knowledge"
	"github.com/nugget/wellpen/internal/learnings"
	"github.com/nugget/wellpen/internal/llm"
	"github.com/nugget/wellpen/internal/metrics"
	"github.com/nugget/wellpen/internal/mqtt"
	"github.com/nugget/wellpen/internal/ratelimit"
	"github.com/nugget/wellpen/internal/search"
	"github.com/nugget/wellpen/internal/studio"
	"github.com/nugget/wellpen/internal/talents"
	"github.com/nugget/wellpen/internal/tools"
	"github.com/nugget/wellpen/internal/usage"
	defaulttalents "github.com/nugget/wellpen/talents"
)

// dbName is the single SQLite file holding every store.
const dbName = "wellpen.db"

// app holds the services shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	conversations *conversation.Store
	learnings     *learnings.Store
	knowledge     *knowledge.Store
	usage         *usage.Store
}

// openApp loads the config, builds the logger and opens the stores.
// Logs go to logw so they never mix with REPL output.
func openApp(logw io.Writer, configPath string) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Validate already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(logw, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath, "data_dir", cfg.DataDir)

	db, err := database.Open(cfg.DataDir, dbName)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	if err := a.openStores(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores() error {
	var err error
	if a.conversations, err = conversation.NewStore(a.db); err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	if a.learnings, err = learnings.NewStore(a.db); err != nil {
		return fmt.Errorf("open learning store: %w", err)
	}
	if a.usage, err = usage.NewStore(a.db); err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}

	// Without embeddings the knowledge store ranks by term overlap.
	var embedder embeddings.Embedder
	if a.cfg.Embeddings.Enabled {
		embedder = embeddings.New(embeddings.Config{
			BaseURL: a.cfg.Embeddings.BaseURL,
			Model:   a.cfg.Embeddings.Model,
		})
		a.logger.Info("embeddings enabled", "model", a.cfg.Embeddings.Model)
	}
	if a.knowledge, err = knowledge.NewStore(a.db, embedder, a.logger); err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// services is everything a live conversation needs on top of the stores.
type services struct {
	studio *studio.Studio
	meter  *usage.Meter
}

// newServices builds the model client, loop and studio, and starts the
// background services (rate limit sweeper, MQTT publisher, metrics
// listener). They stop when ctx is cancelled; wait blocks until the
// ones that need a clean shutdown are done.
func (a *app) newServices(ctx context.Context) (svc *services, wait func(), err error) {
	m := metrics.New()
	bus := events.New()
	client, multi := createLLMClient(a.cfg, a.logger, m)
	meter := usage.NewMeter(usage.PricingFromConfig(a.cfg.Pricing), a.usage, a.logger)

	loop := agent.NewLoop(client, a.logger,
		agent.WithMaxRounds(a.cfg.Loop.MaxRounds),
		agent.WithToolTimeout(time.Duration(a.cfg.Loop.ToolTimeoutSec)*time.Second),
		agent.WithMeter(meter),
		agent.WithEventBus(bus),
		agent.WithMetrics(m),
		agent.WithProviderLookup(multi.ProviderFor),
	)

	ts, err := loadTalents(a.cfg.TalentsDir)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.New(a.cfg.RateLimit.Requests, time.Duration(a.cfg.RateLimit.WindowSec)*time.Second, a.logger)

	st, err := studio.New(studio.Deps{
		Loop:      loop,
		Models:    a.cfg.Models,
		Talents:   ts,
		Knowledge: a.knowledge,
		Learnings: a.learnings,
		Fetcher:   fetch.New(0),
		WebSearch: a.webSearch(),
		Store:     a.conversations,
		Limiter:   limiter,
		Bus:       bus,
		Metrics:   m,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	go limiter.Run(ctx)

	var stops []func()
	if a.cfg.MQTT.Configured() {
		stop, err := a.startMQTT(ctx, bus)
		if err != nil {
			// Publishing is optional; the studio still works.
			a.logger.Warn("mqtt publisher not started", "error", err)
		} else {
			stops = append(stops, stop)
		}
	}
	if a.cfg.Metrics.Listen != "" {
		stops = append(stops, a.serveMetrics(ctx, m))
	}

	svc = &services{studio: st, meter: meter}
	return svc, func() {
		for _, stop := range stops {
			stop()
		}
	}, nil
}

// webSearch returns the configured search backends, or nil when none
// is set so the web_search tool is not offered.
func (a *app) webSearch() tools.WebSearcher {
	sc := a.cfg.Search
	if !sc.Configured() {
		return nil
	}
	mgr := search.NewManager(sc.Primary, a.logger)
	if sc.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(sc.SearXNG.URL))
	}
	if sc.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(sc.Brave.APIKey))
	}
	a.logger.Info("web search enabled", "providers", mgr.Providers())
	return mgr
}

func (a *app) startMQTT(ctx context.Context, bus *events.Bus) (func(), error) {
	instanceID, err := mqtt.LoadOrCreateInstanceID(a.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	pub := mqtt.New(a.cfg.MQTT, instanceID, bus, a.logger)
	if err := pub.Start(ctx); err != nil {
		return nil, err
	}
	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Stop(stopCtx); err != nil {
			a.logger.Warn("mqtt stop failed", "error", err)
		}
	}, nil
}

func (a *app) serveMetrics(ctx context.Context, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics listener started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// loadConfig locates and parses the YAML configuration file.
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

// loadTalents reads the configured talents directory, falling back to
// the talents shipped in the binary.
func loadTalents(dir string) ([]talents.Talent, error) {
	if dir != "" {
		ts, err := talents.NewDirLoader(dir).LoadAll()
		if err != nil {
			return nil, err
		}
		if len(ts) > 0 {
			return ts, nil
		}
	}
	return talents.NewLoader(defaulttalents.FS).LoadAll()
}

// createLLMClient maps every configured model to its provider behind a
// retrying client. Unmapped models go to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (llm.Client, *llm.MultiClient) {
	ollama := llm.NewOllamaClient(cfg.Ollama.URL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger,
			llm.WithAnthropicBaseURL(cfg.Anthropic.BaseURL),
			llm.WithMaxTokens(cfg.Anthropic.MaxTokens),
		))
	}
	for _, model := range cfg.Models.Available {
		multi.AddModel(model.Name, model.Provider)
	}
	logger.Debug("model client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", multi.ProviderFor(cfg.Models.Default),
	)

	retry := llm.NewRetryClient(multi, llm.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		CallTimeout:  time.Duration(cfg.Retry.CallTimeoutSec) * time.Second,
	}, logger)
	retry.OnRetry(func(error) { m.IncRetry() })
	return retry, multi
}
