package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rewardkit/analytics"
	"rewardkit/api/httpapi"
	"rewardkit/core"
	"rewardkit/engine"
	"rewardkit/gamify"
	"rewardkit/realtime"
	"rewardkit/ruleset"
)

//go:embed rules.yaml
var sampleRules []byte

// scenario is replayed on startup when -seed is set.
var scenario = []core.Event{
	{Type: "SIGNED_UP", UserID: "alice"},
	{Type: "SIGNED_UP", UserID: "bob"},
	{Type: "COMMENTED", UserID: "alice"},
	{Type: "COMMENTED", UserID: "alice"},
	{Type: "COMMENTED", UserID: "alice"},
	{Type: "PURCHASED", UserID: "alice", Attributes: map[string]any{"price": 60}},
	{Type: "TIPPED", UserID: "bob", Attributes: map[string]any{"amount": 15, "to": "alice"}},
	{Type: "PURCHASED", UserID: "bob", Attributes: map[string]any{"price": 500}},
	{Type: "FLAGGED", UserID: "bob", Attributes: map[string]any{"reason": "spam"}},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	seed := flag.Bool("seed", true, "replay a sample scenario on startup")
	flag.Parse()

	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rs, err := ruleset.Parse(sampleRules, ruleset.FormatYAML, nil)
	if err != nil {
		slog.Error("sample rules invalid", "error", err)
		os.Exit(1)
	}

	hub := realtime.NewHub()
	metrics := analytics.NewMetrics()
	svc, err := gamify.New(ctx,
		gamify.WithRealtime(hub),
		gamify.WithRuleSet(rs),
		gamify.WithSubscriber(metrics.OnEvent),
		gamify.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if *seed {
		replay(ctx, svc)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewMux(svc, hub, httpapi.Options{AllowCORSOrigin: "*", Metrics: metrics, Logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting demo server", "address", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

func replay(ctx context.Context, svc *engine.Service) {
	for _, ev := range scenario {
		res, err := svc.Ingest(ctx, ev)
		if err != nil {
			slog.Error("scenario event failed", "type", ev.Type, "user", ev.UserID, "error", err)
			continue
		}
		for _, r := range res.ExecutedRewards {
			slog.Info("scenario",
				"event", ev.Type,
				"user", ev.UserID,
				"rule", r.RuleID,
				"kind", r.Type,
				"success", r.Success,
				"message", r.Message)
		}
	}
}
