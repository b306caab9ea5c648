// Package condition implements the declarative predicates a rule evaluates
// against a user's event history and the triggering event.
//
// Conditions are built through a Registry that maps a condition type tag to
// a factory. Factories validate parameters, so a malformed or unknown
// condition is reported while a rule set is loaded and an Evaluator never
// fails at evaluation time.
package condition

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"rewardkit/core"
)

var (
	// ErrUnknownType indicates a condition tag with no registered factory.
	ErrUnknownType = errors.New("unknown condition type")

	// ErrInvalidParameter indicates a missing or malformed condition parameter.
	ErrInvalidParameter = errors.New("invalid condition parameter")
)

// Evaluator is a pure predicate over history and the trigger event.
type Evaluator interface {
	Evaluate(history []core.Event, trigger core.Event) bool
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(history []core.Event, trigger core.Event) bool

func (f EvaluatorFunc) Evaluate(history []core.Event, trigger core.Event) bool {
	return f(history, trigger)
}

// Factory builds an Evaluator from condition parameters.
type Factory func(params map[string]any) (Evaluator, error)

// Registry maps condition tags to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[core.ConditionType]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[core.ConditionType]Factory{}}
}

// Option configures the built-in conditions registered by Default.
type Option func(*options)

type options struct {
	countIncludesTrigger bool
}

// WithCountIncludesTrigger sets whether count conditions include the trigger
// event when the condition does not say so itself. Defaults to true.
func WithCountIncludesTrigger(include bool) Option {
	return func(o *options) { o.countIncludesTrigger = include }
}

// Default returns a registry holding always_true, count, attribute_equals and threshold.
func Default(opts ...Option) *Registry {
	o := options{countIncludesTrigger: true}
	for _, opt := range opts {
		opt(&o)
	}
	r := NewRegistry()
	r.factories[core.ConditionAlwaysTrue] = newAlwaysTrue
	r.factories[core.ConditionCount] = countFactory(o.countIncludesTrigger)
	r.factories[core.ConditionAttributeEquals] = newAttributeEquals
	r.factories[core.ConditionThreshold] = newThreshold
	return r
}

// Register adds a factory for typ. Registering a tag twice is an error.
func (r *Registry) Register(typ core.ConditionType, f Factory) error {
	if typ == "" || f == nil {
		return errors.New("condition type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("condition type %q already registered", typ)
	}
	r.factories[typ] = f
	return nil
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []core.ConditionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConditionType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build constructs the evaluator for one condition.
func (r *Registry) Build(c core.Condition) (Evaluator, error) {
	r.mu.RLock()
	f, ok := r.factories[c.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, c.Type)
	}
	ev, err := f(c.Parameters)
	if err != nil {
		return nil, fmt.Errorf("condition %s (%s): %w", c.ID, c.Type, err)
	}
	return ev, nil
}

// Compile builds evaluators for an ordered condition list.
func (r *Registry) Compile(conds []core.Condition) ([]Evaluator, error) {
	out := make([]Evaluator, 0, len(conds))
	for i, c := range conds {
		ev, err := r.Build(c)
		if err != nil {
			return nil, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// All is the conjunction of evaluators. An empty list is vacuously true.
func All(evaluators []Evaluator, history []core.Event, trigger core.Event) bool {
	for _, ev := range evaluators {
		if !ev.Evaluate(history, trigger) {
			return false
		}
	}
	return true
}
