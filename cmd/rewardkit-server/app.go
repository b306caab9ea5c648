package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewardkit/adapters/jsonfile"
	mem "rewardkit/adapters/memory"
	redisAdapter "rewardkit/adapters/redis"
	sqlxAdapter "rewardkit/adapters/sqlx"
	"rewardkit/analytics"
	"rewardkit/api/httpapi"
	"rewardkit/condition"
	"rewardkit/config"
	"rewardkit/core"
	"rewardkit/engine"
	"rewardkit/gamify"
	"rewardkit/integrations/webhook"
	"rewardkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Hub        *realtime.Hub
	Analytics  *analytics.Metrics
	Aggregator *analytics.Aggregator
	Service    *engine.Service
	Handler    http.Handler
	Server     *http.Server
	Metrics    MetricsServer
}

// MetricsServer serves Prometheus metrics on their own listener. Server is
// nil when metrics are disabled.
type MetricsServer struct {
	Server *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideAnalytics() *analytics.Metrics {
	return analytics.NewMetrics()
}

func provideAggregator(cfg *config.Config, metrics *analytics.Metrics, logger *slog.Logger) (*analytics.Aggregator, func()) {
	var exporter analytics.Exporter = analytics.NewLogExporter(logger)
	if cfg.Analytics.ExportURL != "" {
		exporter = analytics.NewMultiExporter(exporter,
			analytics.NewHTTPExporter(cfg.Analytics.ExportURL, cfg.Analytics.ExportAPIKey, cfg.Analytics.BatchSize))
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Flush(ctx); err != nil {
			logger.Warn("analytics flush failed", "error", err)
		}
		_ = exporter.Close()
	}
	return analytics.NewAggregator(metrics, exporter, cfg.Analytics.Interval, logger), cleanup
}

func provideStorage(cfg *config.Config) (engine.Storage, func(), error) {
	return setupStorage(cfg)
}

// provideWebhook returns nil when no endpoints are configured.
func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if !cfg.Webhooks.Enabled() {
		return nil
	}
	opts := []webhook.Option{
		webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
		webhook.WithLogger(logger),
	}
	if cfg.Webhooks.Secret != "" {
		opts = append(opts, webhook.WithSecret(cfg.Webhooks.Secret))
	}
	if len(cfg.Webhooks.Types) > 0 {
		types := make([]core.DomainEventType, len(cfg.Webhooks.Types))
		for i, t := range cfg.Webhooks.Types {
			types[i] = core.DomainEventType(t)
		}
		opts = append(opts, webhook.WithTypes(types...))
	}
	return webhook.New(cfg.Webhooks.URLs, opts...)
}

func provideService(ctx context.Context, cfg *config.Config, logger *slog.Logger, storage engine.Storage, hub *realtime.Hub, metrics *analytics.Metrics, sink *webhook.Sink) (*engine.Service, func(), error) {
	mode := engine.DispatchSync
	if cfg.Engine.AsyncDispatch {
		mode = engine.DispatchAsync
	}
	opts := []gamify.Option{
		gamify.WithStorage(storage),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(mode),
		gamify.WithLogger(logger),
		gamify.WithRegistry(condition.Default(condition.WithCountIncludesTrigger(cfg.Engine.CountIncludesTrigger))),
		gamify.WithEvaluatorOptions(
			engine.WithHistoryWindow(cfg.Engine.HistoryWindow),
			engine.WithRuleCacheTTL(cfg.Engine.RuleCacheTTL),
			engine.WithCommitRetries(cfg.Engine.CommitRetries),
		),
	}
	hooks := []analytics.Hook{metrics}
	if sink != nil {
		hooks = append(hooks, sink)
	}
	opts = append(opts, gamify.WithSubscriber(analytics.NewBridge(hooks...).OnEvent))
	if cfg.Engine.RulesFile != "" {
		opts = append(opts, gamify.WithRulesFile(cfg.Engine.RulesFile))
	}
	svc, err := gamify.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, metrics *analytics.Metrics, logger *slog.Logger, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Metrics:          metrics,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func provideMetricsServer(cfg *config.Config) (MetricsServer, error) {
	if !cfg.Metrics.Enabled {
		return MetricsServer{}, nil
	}
	reg := prometheus.NewRegistry()
	if err := engine.RegisterMetrics(reg); err != nil {
		return MetricsServer{}, fmt.Errorf("register engine metrics: %w", err)
	}
	if cfg.Metrics.CollectSystem {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return MetricsServer{Server: &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}}, nil
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(cfg *config.Config) (engine.Storage, func(), error) {
	switch cfg.Storage.Adapter {
	case config.AdapterMemory:
		return mem.New(), func() {}, nil
	case config.AdapterRedis:
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.AdapterSQL:
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.AdapterFile:
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
