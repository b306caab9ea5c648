package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"rewardkit/condition"
	"rewardkit/core"
)

const (
	DefaultHistoryWindow = 100
	DefaultCommitRetries = 3
	DefaultRuleCacheTTL  = 30 * time.Second
)

// RewardExecutionResult is the outcome of one reward or spending attempt.
type RewardExecutionResult struct {
	RuleID    core.RuleID    `json:"rule_id"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    core.UserID    `json:"user_id"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	HistoryID core.HistoryID `json:"history_id,omitempty"`
}

// RuleEvaluationResult aggregates everything that happened for one event.
type RuleEvaluationResult struct {
	EventID         core.EventID            `json:"event_id"`
	UserID          core.UserID             `json:"user_id"`
	DryRun          bool                    `json:"dry_run"`
	MatchedRules    []core.RuleID           `json:"matched_rules"`
	FiredRules      []core.RuleID           `json:"fired_rules"`
	ExecutedRewards []RewardExecutionResult `json:"executed_rewards"`
	// Events are the notifications produced by committed attempts, in order.
	Events []core.DomainEvent `json:"events,omitempty"`
}

// Evaluator selects rules for an event, evaluates their conditions and
// executes the rewards and spendings of every rule that fires.
type Evaluator struct {
	store    Storage
	rules    *RuleCache
	locks    *Locker
	recorder HistoryRecorder
	log      *slog.Logger
	window   int
	retries  int
	now      func() time.Time
}

type options struct {
	registry *condition.Registry
	ruleTTL  time.Duration
	window   int
	retries  int
	logger   *slog.Logger
	locker   *Locker
	clock    func() time.Time
}

// Option configures an Evaluator.
type Option func(*options)

func WithRegistry(r *condition.Registry) Option { return func(o *options) { o.registry = r } }

// WithRuleCacheTTL sets how long compiled rules are reused; zero disables the cache.
func WithRuleCacheTTL(d time.Duration) Option { return func(o *options) { o.ruleTTL = d } }

// WithHistoryWindow bounds the number of past events conditions see.
func WithHistoryWindow(n int) Option { return func(o *options) { o.window = n } }

// WithCommitRetries sets how often an attempt is re-run after a concurrent
// wallet modification.
func WithCommitRetries(n int) Option { return func(o *options) { o.retries = n } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLocker shares a key locker between evaluators over the same storage.
func WithLocker(l *Locker) Option { return func(o *options) { o.locker = l } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

func NewEvaluator(store Storage, opts ...Option) *Evaluator {
	if store == nil {
		panic("NewEvaluator requires non-nil storage")
	}
	o := options{
		ruleTTL: DefaultRuleCacheTTL,
		window:  DefaultHistoryWindow,
		retries: DefaultCommitRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.locker == nil {
		o.locker = NewLocker()
	}
	if o.clock == nil {
		o.clock = func() time.Time { return time.Now().UTC() }
	}
	if o.window <= 0 {
		o.window = DefaultHistoryWindow
	}
	if o.retries < 0 {
		o.retries = 0
	}
	return &Evaluator{
		store:   store,
		rules:   NewRuleCache(store, o.registry, o.ruleTTL),
		locks:   o.locker,
		log:     o.logger,
		window:  o.window,
		retries: o.retries,
		now:     o.clock,
	}
}

// Rules exposes the rule cache so callers can invalidate it after rule changes.
func (e *Evaluator) Rules() *RuleCache { return e.rules }

// EvaluateRules runs every matching rule for ev and commits each reward and
// spending attempt as its own unit of work. The user id is normalised first
// and a blank one fails with ErrInvalidEvent. Business failures are reported
// in the result; any other returned error is an *EvaluationError.
func (e *Evaluator) EvaluateRules(ctx context.Context, ev core.Event) (RuleEvaluationResult, error) {
	return e.evaluate(ctx, ev, false)
}

// Simulate predicts what EvaluateRules would do without writing anything.
// Rewards and spendings of one event see each other's effects.
func (e *Evaluator) Simulate(ctx context.Context, ev core.Event) (RuleEvaluationResult, error) {
	return e.evaluate(ctx, ev, true)
}

func (e *Evaluator) evaluate(ctx context.Context, ev core.Event, dry bool) (RuleEvaluationResult, error) {
	start := time.Now()
	defer func() { evaluationDuration.Observe(time.Since(start).Seconds()) }()

	user, err := core.NormalizeUserID(ev.UserID)
	if err != nil {
		return RuleEvaluationResult{EventID: ev.ID, DryRun: dry}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ev.UserID = user

	res := RuleEvaluationResult{EventID: ev.ID, UserID: ev.UserID, DryRun: dry}
	if err := ctx.Err(); err != nil {
		return res, e.systemError(ev, "", StageCanceled, err)
	}
	rules, err := e.rules.Get(ctx, ev.Type)
	if err != nil {
		return res, e.systemError(ev, "", StageSelect, err)
	}
	if len(rules) == 0 {
		return res, nil
	}
	history, err := e.store.GetUserEvents(ctx, ev.UserID, e.window, 0)
	if err != nil {
		return res, e.systemError(ev, "", StageHistory, err)
	}

	var fired []core.Rule
	for _, cr := range rules {
		if !cr.Rule.Active || !cr.Rule.HasTrigger(ev.Type) {
			continue
		}
		res.MatchedRules = append(res.MatchedRules, cr.Rule.ID)
		if condition.All(cr.Evaluators, history, ev) {
			fired = append(fired, cr.Rule)
			res.FiredRules = append(res.FiredRules, cr.Rule.ID)
		}
	}

	var sim *workspace
	if dry {
		sim = newWorkspace(ctx, e.store, e.now())
	}
	for _, rule := range fired {
		if !dry {
			rulesFired.WithLabelValues(string(rule.ID)).Inc()
		}
		e.log.Debug("rule fired", "rule", rule.ID, "event", ev.ID, "user", ev.UserID, "dry_run", dry)
		for _, a := range ruleActions(rule) {
			var (
				r      RewardExecutionResult
				events []core.DomainEvent
			)
			if dry {
				r, events, err = e.simulate(sim, ev, rule, a)
			} else {
				r, events, err = e.execute(ctx, ev, rule, a)
			}
			if err != nil {
				return res, err
			}
			res.ExecutedRewards = append(res.ExecutedRewards, r)
			res.Events = append(res.Events, events...)
		}
	}
	return res, nil
}

func ruleActions(rule core.Rule) []action {
	out := make([]action, 0, len(rule.Rewards)+len(rule.Spendings))
	for i, r := range rule.Rewards {
		out = append(out, rewardAction(rule.ID, i, r))
	}
	for i, s := range rule.Spendings {
		out = append(out, spendingAction(rule.ID, i, s))
	}
	return out
}

// execute runs one action under its keys and commits the result. A commit
// rejected by a concurrent wallet change is re-run from fresh reads.
func (e *Evaluator) execute(ctx context.Context, ev core.Event, rule core.Rule, a action) (RewardExecutionResult, []core.DomainEvent, error) {
	keys := lockKeys(a, ev, ev.UserID)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return RewardExecutionResult{}, nil, e.systemError(ev, rule.ID, StageCanceled, err)
		}
		unlock, err := e.locks.Lock(ctx, keys...)
		if err != nil {
			return RewardExecutionResult{}, nil, e.systemError(ev, rule.ID, StageCanceled, err)
		}

		ws := newWorkspace(ctx, e.store, e.now())
		out := a.accept(&applier{ws: ws, event: ev, rule: rule, user: ev.UserID})
		if ws.err != nil {
			unlock()
			return RewardExecutionResult{}, nil, e.systemError(ev, rule.ID, StageLoad, ws.err)
		}
		h := e.recorder.Record(a.id, a.kind(), ev.UserID, rule.ID, ev.ID, ws.now, out)
		ws.history = append(ws.history, h)
		if !out.Success && ws.transfer == nil {
			ws.emit(core.DomainEvent{
				Type: core.EventRewardFailed, Time: ws.now, UserID: ev.UserID, RuleID: rule.ID,
				TriggerEventID: ev.ID, Message: out.Message,
				Metadata: map[string]any{"id": a.id, "type": a.kind()},
			})
		}

		err = e.store.Commit(context.WithoutCancel(ctx), ws.unitOfWork())
		unlock()
		if errors.Is(err, core.ErrConcurrentModification) && attempt < e.retries {
			commitConflicts.Inc()
			e.log.Debug("commit conflict, retrying", "rule", rule.ID, "action", a.id, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return RewardExecutionResult{}, nil, e.systemError(ev, rule.ID, StageCommit, err)
		}

		outcomes.WithLabelValues(a.kind(), strconv.FormatBool(out.Success)).Inc()
		e.logOutcome(ev, rule, a, out, ws.transfer)
		return e.result(rule, a, ev, out, h.ID), ws.events, nil
	}
}

func (e *Evaluator) simulate(ws *workspace, ev core.Event, rule core.Rule, a action) (RewardExecutionResult, []core.DomainEvent, error) {
	out := a.accept(&applier{ws: ws, event: ev, rule: rule, user: ev.UserID})
	if ws.err != nil {
		return RewardExecutionResult{}, nil, e.systemError(ev, rule.ID, StageLoad, ws.err)
	}
	events := ws.events
	ws.reset()
	return e.result(rule, a, ev, out, ""), events, nil
}

func (e *Evaluator) result(rule core.Rule, a action, ev core.Event, out core.Outcome, hid core.HistoryID) RewardExecutionResult {
	return RewardExecutionResult{
		RuleID:    rule.ID,
		ID:        a.id,
		Type:      a.kind(),
		UserID:    ev.UserID,
		Success:   out.Success,
		Message:   out.Message,
		Details:   out.Details,
		HistoryID: hid,
	}
}

func (e *Evaluator) logOutcome(ev core.Event, rule core.Rule, a action, out core.Outcome, t *core.WalletTransfer) {
	attrs := []any{"rule", rule.ID, "action", a.id, "type", a.kind(), "user", ev.UserID, "event", ev.ID}
	switch {
	case t != nil:
		e.log.Info("transfer "+string(t.Status), append(attrs, "transfer", t.ID, "amount", t.Amount, "to", t.ToUserID)...)
	case !out.Success:
		e.log.Info("reward not applied", append(attrs, "reason", out.Message)...)
	default:
		e.log.Debug("reward applied", append(attrs, "message", out.Message)...)
	}
}

func (e *Evaluator) systemError(ev core.Event, rule core.RuleID, stage Stage, err error) error {
	evaluationErrors.WithLabelValues(string(stage)).Inc()
	e.log.Error("evaluation aborted", "event", ev.ID, "rule", rule, "stage", stage, "error", err)
	return &EvaluationError{EventID: ev.ID, RuleID: rule, Stage: stage, Err: err}
}
