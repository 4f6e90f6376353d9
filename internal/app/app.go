package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"PageHarvester/internal/config"
	"PageHarvester/internal/domain"
	"PageHarvester/internal/infrastructure/cache"
	"PageHarvester/internal/infrastructure/download"
	"PageHarvester/internal/infrastructure/metrics"
	"PageHarvester/internal/infrastructure/objectstore"
	"PageHarvester/internal/infrastructure/parser"
	"PageHarvester/internal/infrastructure/storage"
	"PageHarvester/internal/infrastructure/telegram"
	"PageHarvester/internal/layout"
	"PageHarvester/internal/logging"
	"PageHarvester/internal/ports"
	"PageHarvester/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	sources *parser.StrategySource
	runner  *usecase.Runner
	metrics *metrics.Metrics
	db      *sqlx.DB
	redis   *redis.Client
}

// NewSources builds the strategy-backed source catalogue without touching any
// storage. It is enough for listing and validating configured sources.
func NewSources(cfg config.Config, logger *slog.Logger) *parser.StrategySource {
	if logger == nil {
		logger = logging.Discard()
	}
	loc := cfg.Runner.Location()

	client := parser.NewHTTPClient(parser.HTTPConfig{
		UserAgent:          cfg.HTTP.UserAgent,
		ListTimeout:        cfg.HTTP.ListTimeout,
		DetailTimeout:      cfg.HTTP.DetailTimeout,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	}, nil, logger.With("component", "http"))

	registry := parser.NewRegistry(client, parser.WeChatConfig{
		Mode:               cfg.WeChat.Mode,
		AppMsgEndpoint:     cfg.WeChat.AppMsgEndpoint,
		ThirdPartyEndpoint: cfg.WeChat.ThirdPartyEndpoint,
		Cookie:             cfg.WeChat.Cookie,
		Token:              cfg.WeChat.Token,
		Key:                cfg.WeChat.Key,
		Secret:             cfg.WeChat.Secret,
		PageSize:           cfg.WeChat.PageSize,
	}, loc, logger.With("component", "adapter"))

	return parser.NewStrategySource(registry, cfg.Sources, logger.With("component", "source"))
}

// New connects the durable store and optional collaborators (Redis, MinIO,
// Telegram) and assembles the pipeline and its worker pool.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, biz := range cfg.DuplicateBiz() {
		baseLogger.Warn("wechat biz configured on several sources", "biz", biz)
	}

	app := &Application{
		cfg:     cfg,
		logger:  baseLogger,
		sources: NewSources(cfg, baseLogger),
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	db, err := storage.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	app.db = db

	repo, err := storage.NewPostgresRepository(db, cfg.Database.Table)
	if err != nil {
		app.Close()
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repo.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, err
		}
	}

	var seen ports.SeenCache
	if cfg.Cache.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			// The store stays authoritative; run without the cache.
			baseLogger.Warn("seen cache disabled", "error", err)
		} else {
			app.redis = client
			seen = cache.NewRedisSeenCache(client, cfg.Cache.TTL)
		}
	}

	var mirror ports.Mirror
	if cfg.Mirror.Endpoint != "" {
		m, err := objectstore.NewMinioMirror(ctx, cfg.Mirror.Endpoint, cfg.Mirror.AccessKey, cfg.Mirror.SecretKey, cfg.Mirror.Secure, cfg.Mirror.Bucket)
		if err != nil {
			baseLogger.Warn("object mirror disabled", "error", err)
		} else {
			mirror = m
		}
	}

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	fetcher := download.New(download.Config{
		UserAgent:          cfg.HTTP.UserAgent,
		MaxAttempts:        cfg.Attachments.MaxAttempts,
		RetryDelay:         cfg.Attachments.RetryDelay,
		Timeout:            cfg.Attachments.Timeout,
		RatePerSecond:      cfg.Attachments.RatePerSecond,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
	}, nil, baseLogger.With("component", "download"))

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Store:    repo,
		Cache:    seen,
		Fetcher:  fetcher,
		Mirror:   mirror,
		Output:   layout.New(cfg.Output.Root),
		Location: cfg.Runner.Location(),
		Logger:   baseLogger.With("component", "pipeline"),
	})

	app.runner = usecase.NewRunner(usecase.RunnerDeps{
		Pipeline:   pipeline,
		Recorder:   app.metrics,
		Notifier:   notifier,
		Shutdown:   usecase.NewShutdown(),
		Workers:    cfg.Runner.Workers,
		RunTimeout: cfg.Runner.RunTimeout,
		Logger:     baseLogger.With("component", "runner"),
	})

	return app, nil
}

// Run harvests the named sources, or every configured source when names is empty.
// Sources that cannot be built are reported alongside the run errors.
func (a *Application) Run(ctx context.Context, names ...string) ([]domain.RunSummary, error) {
	if a.runner == nil {
		return nil, nil
	}

	sources, buildErr := a.sources.Sources(names...)
	if buildErr != nil {
		a.logger.Error("some sources could not be built", "error", buildErr)
	}

	started := time.Now()
	summaries, runErr := a.runner.RunAll(ctx, sources)
	a.logger.Info("harvest finished", "sources", len(summaries), "elapsed", time.Since(started).Round(time.Millisecond))

	return summaries, errors.Join(buildErr, runErr)
}

// Shutdown returns the cooperative stop signal shared by all runs.
func (a *Application) Shutdown() *usecase.Shutdown {
	if a.runner == nil {
		return nil
	}
	return a.runner.Shutdown()
}

// MetricsHandler serves the Prometheus registry of this application.
func (a *Application) MetricsHandler() http.Handler {
	return a.metrics.Handler()
}

// Close releases connections opened by New.
func (a *Application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
}

// Migrate creates the page table when missing.
func Migrate(ctx context.Context, cfg config.Config) error {
	db, err := storage.Open(ctx, cfg.Database.DSN, 1)
	if err != nil {
		return err
	}
	defer db.Close()

	repo, err := storage.NewPostgresRepository(db, cfg.Database.Table)
	if err != nil {
		return err
	}
	return repo.EnsureSchema(ctx)
}
