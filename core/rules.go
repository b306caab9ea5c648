package core

import (
	"fmt"
	"strings"
	"time"
)

// ConditionType tags a condition variant. The set is closed at load time:
// a condition registry must know every tag a rule uses.
type ConditionType string

const (
	ConditionAlwaysTrue      ConditionType = "always_true"
	ConditionCount           ConditionType = "count"
	ConditionAttributeEquals ConditionType = "attribute_equals"
	ConditionThreshold       ConditionType = "threshold"
)

// Condition is a declarative predicate definition. It is stateless and
// evaluated fresh on every invocation.
type Condition struct {
	ID         string         `json:"id,omitempty"`
	Type       ConditionType  `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Rule maps trigger events to rewards and spendings, gated by conditions.
// Rules are read-only to the engine.
type Rule struct {
	ID          RuleID
	Name        string
	Description string
	Triggers    []EventType
	Conditions  []Condition
	Rewards     []Reward
	Spendings   []Spending
	Active      bool
	// Position is the rule's declaration order; rules fire in ascending position.
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasTrigger reports whether typ is one of the rule's triggers.
func (r Rule) HasTrigger(typ EventType) bool {
	for _, t := range r.Triggers {
		if t == typ {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a rule definition.
// Condition parameters are checked separately by the condition registry.
func (r Rule) Validate() error {
	var errs []string
	if strings.TrimSpace(string(r.ID)) == "" {
		errs = append(errs, "id cannot be empty")
	}
	if len(r.Triggers) == 0 {
		errs = append(errs, "at least one trigger is required")
	}
	for i, t := range r.Triggers {
		if strings.TrimSpace(string(t)) == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d] is empty", i))
		}
	}
	if len(r.Rewards) == 0 && len(r.Spendings) == 0 {
		errs = append(errs, "a rule needs at least one reward or spending")
	}
	for i, s := range r.Spendings {
		if !s.IsValid() {
			errs = append(errs, fmt.Sprintf("spendings[%d] is invalid", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidRule, r.ID, strings.Join(errs, "; "))
	}
	return nil
}
