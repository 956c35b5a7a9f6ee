package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dashboard-sync/cmd/mainconfig"
	"github.com/wolfman30/dashboard-sync/internal/api/router"
	"github.com/wolfman30/dashboard-sync/internal/app/bootstrap"
	"github.com/wolfman30/dashboard-sync/internal/archive"
	"github.com/wolfman30/dashboard-sync/internal/cache"
	appconfig "github.com/wolfman30/dashboard-sync/internal/config"
	"github.com/wolfman30/dashboard-sync/internal/dashboard"
	"github.com/wolfman30/dashboard-sync/internal/events"
	"github.com/wolfman30/dashboard-sync/internal/http/handlers"
	"github.com/wolfman30/dashboard-sync/internal/insights"
	"github.com/wolfman30/dashboard-sync/internal/observability/metrics"
	"github.com/wolfman30/dashboard-sync/internal/timeago"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

const processedEventTTL = 24 * time.Hour

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dashboard-sync API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"upstream", cfg.UpstreamAPIURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	metricsHandler, cacheMetrics := setupMetrics()

	var svc *dashboard.Service
	sched := cache.New(
		cache.WithFetchTimeout(cfg.FetchTimeout),
		cache.WithLogger(logger),
		cache.WithMetrics(cacheMetrics),
		cache.WithErrorHandler(func(key string, err error) {
			if svc != nil {
				svc.OnFetchError(key, err)
			}
		}),
	)
	defer sched.Close()

	upstream, err := dashboard.NewClient(dashboard.ClientConfig{
		BaseURL: cfg.UpstreamAPIURL,
		Token:   cfg.UpstreamAPIToken,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return fmt.Errorf("upstream client: %w", err)
	}
	if upstream.TokenExpired() {
		logger.Warn("upstream token already expired; requests will be rejected until it is replaced")
	}

	var redisClient *redis.Client
	if needsRedis(cfg) {
		redisClient = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
		if redisClient != nil {
			defer redisClient.Close()
		}
	}

	notes, err := bootstrap.BuildNotesStore(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer notes.Close()

	svcCfg := dashboard.ServiceConfig{
		Upstream: upstream,
		Cache:    sched,
		Notes:    notes,
		Rules:    rulesFromConfig(cfg),
		Options: dashboard.CacheOptions{
			ListTTL:       cfg.ListTTL,
			ListRefresh:   cfg.ListRefreshInterval,
			DetailTTL:     cfg.DetailTTL,
			DetailRefresh: cfg.DetailRefresh,
		},
		RedactArchive: cfg.ExportRedact,
		Logger:        logger,
	}
	archiveStore, err := setupArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if archiveStore != nil {
		svcCfg.Archive = archiveStore
	}
	svc, err = dashboard.NewService(svcCfg)
	if err != nil {
		return err
	}

	invalidation, err := setupInvalidation(ctx, cfg, svc, redisClient, logger)
	if err != nil {
		return err
	}
	if invalidation != nil {
		logger.Info("invalidation feed enabled", "transport", invalidation.transport)
		go invalidation.run(ctx)
		defer invalidation.close()
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Dashboard:          handlers.NewDashboardHandler(svc, logger),
		Live:               handlers.NewLiveHandler(svc, timeago.SystemClock, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// No read/write timeouts: they would also cut long-lived websocket streams.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func setupMetrics() (http.Handler, *metrics.CacheMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewCacheMetrics(reg)
}

func rulesFromConfig(cfg *appconfig.Config) insights.Rules {
	rules := insights.DefaultRules()
	if cfg.NeedsAttentionFallbacks > 0 {
		rules.NeedsAttentionFallbacks = cfg.NeedsAttentionFallbacks
	}
	if cfg.RepeatMessageThreshold > 0 {
		rules.RepeatMessageThreshold = cfg.RepeatMessageThreshold
	}
	if len(cfg.HighIntentIntents) > 0 {
		rules.HighIntentIntents = cfg.HighIntentIntents
	}
	return rules
}

func needsRedis(cfg *appconfig.Config) bool {
	return cfg.NotesBackend == "redis" || cfg.InvalidationTransport != "none"
}

// setupArchive returns the S3 export archive, or nil when EXPORT_BUCKET is
// unset.
func setupArchive(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*archive.Store, error) {
	if strings.TrimSpace(cfg.ExportBucket) == "" {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	logger.Info("export archive enabled", "bucket", cfg.ExportBucket, "redact", cfg.ExportRedact)
	return archive.NewStore(mainconfig.NewS3Client(awsCfg, cfg), cfg.ExportBucket, logger), nil
}

type invalidationRunner struct {
	transport string
	run       func(ctx context.Context)
	close     func()
}

// setupInvalidation wires the external invalidation feed selected by
// INVALIDATION_TRANSPORT. Events are deduplicated in redis when available so
// replicas sharing a queue do not repeat work.
func setupInvalidation(ctx context.Context, cfg *appconfig.Config, target events.Invalidator, redisClient *redis.Client, logger *logging.Logger) (*invalidationRunner, error) {
	transport := cfg.InvalidationTransport
	if transport == "" || transport == "none" {
		return nil, nil
	}

	var processed events.ProcessedStore = events.NewMemoryProcessedStore(1024)
	if redisClient != nil {
		store, err := events.NewRedisProcessedStore(redisClient, processedEventTTL)
		if err != nil {
			return nil, err
		}
		processed = store
	}
	dispatcher := events.NewDispatcher(target, processed, logger)

	switch transport {
	case "amqp":
		sub, err := events.DialAMQP(events.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
		}, dispatcher, logger)
		if err != nil {
			return nil, fmt.Errorf("amqp invalidation: %w", err)
		}
		return &invalidationRunner{
			transport: transport,
			run: func(ctx context.Context) {
				if err := sub.Start(ctx); err != nil {
					logger.Error("amqp invalidation stopped", "error", err)
				}
			},
			close: func() { _ = sub.Close() },
		}, nil

	case "sqs":
		if strings.TrimSpace(cfg.InvalidationQueueURL) == "" {
			return nil, errors.New("sqs invalidation: INVALIDATION_QUEUE_URL is required")
		}
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		consumer := events.NewSQSConsumer(mainconfig.NewSQSClient(awsCfg, cfg), cfg.InvalidationQueueURL, dispatcher, logger)
		return &invalidationRunner{
			transport: transport,
			run:       consumer.Run,
			close:     func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown invalidation transport %q", transport)
	}
}
