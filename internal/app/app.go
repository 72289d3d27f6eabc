package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"IdeaRadar/internal/config"
	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/archive"
	"IdeaRadar/internal/infrastructure/connectors"
	"IdeaRadar/internal/infrastructure/events"
	"IdeaRadar/internal/infrastructure/extractor"
	"IdeaRadar/internal/infrastructure/httpfetch"
	"IdeaRadar/internal/infrastructure/scheduler"
	"IdeaRadar/internal/infrastructure/storage"
	"IdeaRadar/internal/infrastructure/web"
	"IdeaRadar/internal/logging"
	"IdeaRadar/internal/metrics"
	"IdeaRadar/internal/ports"
	"IdeaRadar/internal/ratelimit"
	"IdeaRadar/internal/usecase"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	db        *sql.DB
	repo      ports.Repository
	schema    migrator
	redis     *redis.Client
	publisher *events.KafkaPublisher
	registry  *prometheus.Registry

	runner    *usecase.Runner
	scheduler *usecase.Scheduler
	server    *web.Server
}

// New builds every adapter described by cfg. The memory driver is seeded
// immediately since it starts empty on every boot.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	if err := a.openRepository(ctx); err != nil {
		return nil, err
	}

	var limiter ports.DomainLimiter
	if cfg.RateLimit.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		limiter = ratelimit.NewRedisLimiter(a.redis, cfg.RateLimit.Requests, cfg.RateLimit.Window, "")
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	fetcher := httpfetch.NewClient(nil, limiter, httpfetch.Options{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		MaxBytes:  cfg.Fetch.MaxBodyBytes,
	})

	registry := connector.NewRegistry()
	registry.Register(connectors.NewFeedConnector(fetcher), "rss", "atom")
	registry.Register(connectors.NewHackerNewsConnector(fetcher), "hn")
	registry.Register(connectors.NewArxivConnector(fetcher))

	m := metrics.New()
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(a.registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	var publisher ports.ItemPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, baseLogger)
		if err != nil {
			baseLogger.Warn("kafka publisher disabled", "error", err)
		} else {
			a.publisher = kp
			publisher = kp
		}
	}

	var archiver ports.SummaryArchiver
	if cfg.Archive.Bucket != "" {
		s3a, err := archive.NewS3Archiver(ctx, archive.Options{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			baseLogger.Warn("summary archive disabled", "error", err)
		} else {
			archiver = s3a
		}
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Repository: a.repo,
		Connectors: registry,
		Extractor: extractor.New(fetcher, extractor.Options{
			MaxLength:     cfg.Extractor.ContentMaxLength,
			MinTextLength: cfg.Extractor.MinTextLength,
		}),
		Publisher: publisher,
		Metrics:   m,
		Logger:    baseLogger.With("component", "pipeline"),
	})
	a.runner = usecase.NewRunner(usecase.RunnerDeps{
		Pipeline: pipeline,
		Config:   cfg.RunConfig(),
		Archiver: archiver,
		OnFinish: m.MarkRun,
		Logger:   baseLogger,
	})

	cron, err := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.scheduler = usecase.NewScheduler(cron, a.runner, baseLogger)

	webOpts := web.Options{
		Addr:       cfg.HTTP.Addr,
		CronSecret: cfg.HTTP.CronSecret,
		Gatherer:   a.registry,
	}
	if a.db != nil {
		webOpts.Ping = a.db.PingContext
	}
	a.server = web.NewServer(a.runner, a.repo, webOpts, baseLogger.With("component", "web"))

	if cfg.Database.Driver == "memory" {
		if err := a.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *Application) openRepository(ctx context.Context) error {
	if a.cfg.Database.Driver == "memory" {
		a.repo = storage.NewMemoryRepository()
		return nil
	}
	db, repo, err := storage.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return &domain.StorageError{Op: "open repository", Err: err}
	}
	a.db = db
	a.repo = repo
	a.schema = repo
	return nil
}

// Migrate creates the schema and seeds the configured sources.
func (a *Application) Migrate(ctx context.Context) error {
	if a.schema != nil {
		if err := a.schema.Migrate(ctx); err != nil {
			return &domain.StorageError{Op: "migrate", Err: err}
		}
	}
	n, err := SeedSources(ctx, a.repo, a.cfg.Sources)
	if err != nil {
		return err
	}
	a.logger.Info("sources seeded", "count", n)
	return nil
}

// RunOnce performs a single ingestion run.
func (a *Application) RunOnce(ctx context.Context, opts usecase.RunOptions) (domain.RunSummary, error) {
	return a.runner.Run(ctx, opts)
}

// Serve runs the cron scheduler and the HTTP server until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Location().String())

	serveErr := a.server.ListenAndServe(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return errors.Join(serveErr, a.scheduler.Stop(stopCtx))
}

// Server exposes the HTTP surface.
func (a *Application) Server() *web.Server {
	return a.server
}

// Close releases connections held by the adapters.
func (a *Application) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
