package gamify

import (
	"context"
	"fmt"
	"log/slog"

	mem "rewardkit/adapters/memory"
	"rewardkit/condition"
	"rewardkit/engine"
	"rewardkit/realtime"
	"rewardkit/ruleset"
)

// Option configures the rewards service builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	mode      engine.DispatchMode
	hub       *realtime.Hub
	registry  *condition.Registry
	logger    *slog.Logger
	evalOpts  []engine.Option
	rules     *ruleset.RuleSet
	rulesFile string
	handlers  []engine.Handler
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithRegistry sets the condition registry used for validation and evaluation.
func WithRegistry(r *condition.Registry) Option { return func(c *config) { c.registry = r } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithEvaluatorOptions passes tuning options through to the evaluator.
func WithEvaluatorOptions(opts ...engine.Option) Option {
	return func(c *config) { c.evalOpts = append(c.evalOpts, opts...) }
}

// WithRuleSet loads categories and rules into storage when the service is built.
func WithRuleSet(rs ruleset.RuleSet) Option { return func(c *config) { c.rules = &rs } }

// WithRulesFile loads a YAML or JSON rule set from disk when the service is built.
func WithRulesFile(path string) Option { return func(c *config) { c.rulesFile = path } }

// WithSubscriber receives every published domain event.
func WithSubscriber(h engine.Handler) Option {
	return func(c *config) { c.handlers = append(c.handlers, h) }
}

// New builds a configured Service. If not provided, defaults are used:
//   - storage: in-memory
//   - conditions: condition.Default()
//   - dispatch: async
func New(ctx context.Context, opts ...Option) (*engine.Service, error) {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.registry == nil {
		cfg.registry = condition.Default()
	}

	evalOpts := []engine.Option{engine.WithRegistry(cfg.registry)}
	if cfg.logger != nil {
		evalOpts = append(evalOpts, engine.WithLogger(cfg.logger))
	}
	evalOpts = append(evalOpts, cfg.evalOpts...)

	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewService(cfg.storage, bus, engine.NewEvaluator(cfg.storage, evalOpts...), cfg.registry)
	if cfg.hub != nil {
		svc.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, h := range cfg.handlers {
		svc.SubscribeAll(h)
	}

	if cfg.rulesFile != "" {
		rs, err := ruleset.LoadFile(cfg.rulesFile, cfg.registry)
		if err != nil {
			svc.Close()
			return nil, err
		}
		if err := svc.LoadRuleSet(ctx, rs); err != nil {
			svc.Close()
			return nil, fmt.Errorf("load %s: %w", cfg.rulesFile, err)
		}
	}
	if cfg.rules != nil {
		if err := svc.LoadRuleSet(ctx, *cfg.rules); err != nil {
			svc.Close()
			return nil, err
		}
	}
	return svc, nil
}
