package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/analytics"
	"rewardkit/config"
	"rewardkit/core"
)

func TestSetupStorage(t *testing.T) {
	cfg := config.DefaultConfig()

	store, cleanup, err := setupStorage(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	cleanup()

	cfg.Storage.Adapter = config.AdapterFile
	cfg.Storage.File.Path = filepath.Join(t.TempDir(), "state.json")
	store, cleanup, err = setupStorage(cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	cleanup()

	cfg.Storage.Adapter = "mongo"
	_, _, err = setupStorage(cfg)
	assert.Error(t, err)
}

func TestProvideServiceLoadsRules(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Engine.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")

	store, cleanup, err := setupStorage(cfg)
	require.NoError(t, err)
	defer cleanup()

	_, _, err = provideService(ctx, cfg, slog.Default(), store, provideHub(), analytics.NewMetrics(), nil)
	assert.Error(t, err)

	cfg.Engine.RulesFile = ""
	metrics := analytics.NewMetrics()
	svc, closeSvc, err := provideService(ctx, cfg, slog.Default(), store, provideHub(), metrics, nil)
	require.NoError(t, err)
	defer closeSvc()

	svc.Publish(ctx, core.NewBadgeAwarded("alice", "early"))
	assert.Eventually(t, func() bool { return metrics.BadgeHolders("early") == 1 }, time.Second, 10*time.Millisecond)
}

func TestProvideMetricsServer(t *testing.T) {
	cfg := config.DefaultConfig()

	ms, err := provideMetricsServer(cfg)
	require.NoError(t, err)
	assert.Nil(t, ms.Server)

	cfg.Metrics.Enabled = true
	cfg.Metrics.CollectSystem = false
	ms, err = provideMetricsServer(cfg)
	require.NoError(t, err)
	require.NotNil(t, ms.Server)

	rec := httptest.NewRecorder()
	ms.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, cfg.Metrics.Path, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rewardkit_engine_commit_conflicts_total")
}

func TestProvideWebhook(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, provideWebhook(cfg, slog.Default()))

	cfg.Webhooks.URLs = []string{"https://hooks.example.com"}
	cfg.Webhooks.Types = []string{"badge_awarded"}
	assert.NotNil(t, provideWebhook(cfg, slog.Default()))
}

func TestProvideAggregatorExports(t *testing.T) {
	var posted atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Analytics.ExportURL = srv.URL
	cfg.Analytics.BatchSize = 100

	metrics := analytics.NewMetrics()
	metrics.OnEvent(context.Background(), core.NewBadgeAwarded("alice", "early"))
	agg, cleanup := provideAggregator(cfg, metrics, slog.Default())
	require.NoError(t, agg.AggregateNow(context.Background()))
	assert.Equal(t, int32(1), posted.Load())

	// nothing buffered, so the shutdown flush does not post again
	cleanup()
	assert.Equal(t, int32(1), posted.Load())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
