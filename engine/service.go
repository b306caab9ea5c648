package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rewardkit/condition"
	"rewardkit/core"
	"rewardkit/ruleset"
)

// ErrInvalidEvent indicates an event rejected before evaluation.
var ErrInvalidEvent = errors.New("invalid event")

// Service wires storage, the evaluator and the event bus into the API used
// by ingestion pipelines and the HTTP layer.
type Service struct {
	storage  Storage
	bus      *EventBus
	eval     *Evaluator
	registry *condition.Registry
}

func NewService(storage Storage, bus *EventBus, eval *Evaluator, registry *condition.Registry) *Service {
	if storage == nil || bus == nil || eval == nil {
		panic("NewService requires non-nil storage, bus, and evaluator")
	}
	if registry == nil {
		registry = condition.Default()
	}
	return &Service{storage: storage, bus: bus, eval: eval, registry: registry}
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.DomainEventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) SubscribeAll(handler Handler) func() { return s.bus.SubscribeAll(handler) }

func (s *Service) Publish(ctx context.Context, ev core.DomainEvent) {
	s.bus.Publish(ctx, ev)
}

// PrepareEvent normalises the user id and fills a missing id and timestamp.
func PrepareEvent(ev core.Event) (core.Event, error) {
	ev.Type = core.EventType(strings.TrimSpace(string(ev.Type)))
	if ev.Type == "" {
		return core.Event{}, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	user, err := core.NormalizeUserID(ev.UserID)
	if err != nil {
		return core.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev.UserID = user
	if ev.ID == "" {
		ev.ID = core.NewEventID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev, nil
}

// Ingest stores the event in the user's history, evaluates it and publishes
// the resulting domain events.
func (s *Service) Ingest(ctx context.Context, ev core.Event) (RuleEvaluationResult, error) {
	ev, err := PrepareEvent(ev)
	if err != nil {
		return RuleEvaluationResult{}, err
	}
	if err := s.storage.AppendEvent(ctx, ev); err != nil {
		return RuleEvaluationResult{EventID: ev.ID, UserID: ev.UserID},
			s.eval.systemError(ev, "", StageIngest, err)
	}
	res, err := s.eval.EvaluateRules(ctx, ev)
	// Committed attempts are published even when a later one failed.
	for _, de := range res.Events {
		s.bus.Publish(ctx, de)
	}
	return res, err
}

// Simulate previews the evaluation of ev without storing or publishing anything.
func (s *Service) Simulate(ctx context.Context, ev core.Event) (RuleEvaluationResult, error) {
	ev, err := PrepareEvent(ev)
	if err != nil {
		return RuleEvaluationResult{}, err
	}
	return s.eval.Simulate(ctx, ev)
}

// LoadRuleSet stores categories and rules, then drops cached rules.
func (s *Service) LoadRuleSet(ctx context.Context, rs ruleset.RuleSet) error {
	for _, c := range rs.Categories {
		if err := c.Validate(); err != nil {
			return err
		}
		if err := s.storage.SaveCategory(ctx, c); err != nil {
			return fmt.Errorf("save category %s: %w", c.ID, err)
		}
	}
	for _, r := range rs.Rules {
		if err := s.saveRule(ctx, r); err != nil {
			return err
		}
	}
	s.eval.Rules().Invalidate()
	return nil
}

// SaveRule validates and stores a single rule. The whole rule cache is
// dropped since an update may remove triggers the stored rule had.
func (s *Service) SaveRule(ctx context.Context, r core.Rule) error {
	if err := s.saveRule(ctx, r); err != nil {
		return err
	}
	s.eval.Rules().Invalidate()
	return nil
}

func (s *Service) saveRule(ctx context.Context, r core.Rule) error {
	if errs := ruleset.ValidateRule(r, s.registry); len(errs) > 0 {
		problems := make([]string, len(errs))
		for i, err := range errs {
			problems[i] = err.Error()
		}
		return &ruleset.ValidationError{Source: "rule " + string(r.ID), Problems: problems}
	}
	if err := s.storage.SaveRule(ctx, r); err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, err)
	}
	return nil
}

func (s *Service) normalize(user core.UserID) (core.UserID, error) {
	u, err := core.NormalizeUserID(user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return u, nil
}

// GetState returns the user's state; users without activity get an empty state.
func (s *Service) GetState(ctx context.Context, user core.UserID) (core.UserState, error) {
	u, err := s.normalize(user)
	if err != nil {
		return core.UserState{}, err
	}
	st, found, err := s.storage.GetUserState(ctx, u)
	if err != nil {
		return core.UserState{}, err
	}
	if !found {
		return core.NewUserState(u), nil
	}
	return st, nil
}

// GetWallet returns the wallet, or an empty one when none exists yet.
func (s *Service) GetWallet(ctx context.Context, user core.UserID, category core.CategoryID) (core.Wallet, error) {
	u, err := s.normalize(user)
	if err != nil {
		return core.Wallet{}, err
	}
	w, found, err := s.storage.GetWallet(ctx, u, category)
	if err != nil {
		return core.Wallet{}, err
	}
	if !found {
		return core.NewWallet(u, category), nil
	}
	return w, nil
}

func (s *Service) GetTransfer(ctx context.Context, id core.TransferID) (core.WalletTransfer, error) {
	return s.storage.GetTransfer(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, user core.UserID, category core.CategoryID, limit, offset int) ([]core.WalletTransaction, error) {
	u, err := s.normalize(user)
	if err != nil {
		return nil, err
	}
	return s.storage.ListTransactions(ctx, u, category, limit, offset)
}

func (s *Service) ListHistory(ctx context.Context, user core.UserID, limit, offset int) ([]core.RewardHistory, error) {
	u, err := s.normalize(user)
	if err != nil {
		return nil, err
	}
	return s.storage.ListRewardHistory(ctx, u, limit, offset)
}

func (s *Service) ListEvents(ctx context.Context, user core.UserID, limit, offset int) ([]core.Event, error) {
	u, err := s.normalize(user)
	if err != nil {
		return nil, err
	}
	return s.storage.GetUserEvents(ctx, u, limit, offset)
}

func (s *Service) ListCategories(ctx context.Context) ([]core.PointCategory, error) {
	return s.storage.ListCategories(ctx)
}

func (s *Service) ListRules(ctx context.Context) ([]core.Rule, error) {
	return s.storage.ListRules(ctx)
}

func (s *Service) Close() { s.bus.Close() }
