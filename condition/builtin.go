package condition

import (
	"fmt"
	"reflect"
	"strings"

	"rewardkit/core"
)

// AlwaysTrue fires unconditionally.
type AlwaysTrue struct{}

func (AlwaysTrue) Evaluate([]core.Event, core.Event) bool { return true }

func newAlwaysTrue(map[string]any) (Evaluator, error) { return AlwaysTrue{}, nil }

// Count is true when at least MinCount events of EventType are present.
// Event types compare case-insensitively. Events in history sharing the
// trigger's id are ignored so a stored trigger is never counted twice; the
// trigger itself counts only when IncludeTrigger is set.
type Count struct {
	EventType      core.EventType
	MinCount       int64
	IncludeTrigger bool
}

func (c Count) Evaluate(history []core.Event, trigger core.Event) bool {
	var n int64
	for _, ev := range history {
		if trigger.ID != "" && ev.ID == trigger.ID {
			continue
		}
		if strings.EqualFold(string(ev.Type), string(c.EventType)) {
			n++
		}
	}
	if c.IncludeTrigger && strings.EqualFold(string(trigger.Type), string(c.EventType)) {
		n++
	}
	return n >= c.MinCount
}

func countFactory(includeDefault bool) Factory {
	return func(params map[string]any) (Evaluator, error) {
		typ, err := requireString(params, "eventType")
		if err != nil {
			return nil, err
		}
		minCount, err := requireInt(params, "minCount")
		if err != nil {
			return nil, err
		}
		if minCount < 1 {
			return nil, fmt.Errorf("%w: minCount must be >= 1", ErrInvalidParameter)
		}
		include, err := optionalBool(params, "includeTrigger", includeDefault)
		if err != nil {
			return nil, err
		}
		return Count{EventType: core.EventType(typ), MinCount: minCount, IncludeTrigger: include}, nil
	}
}

// AttributeEquals compares a trigger attribute to an expected value.
// Numbers compare by value regardless of their Go kind.
type AttributeEquals struct {
	Attribute string
	Expected  any
}

func (a AttributeEquals) Evaluate(_ []core.Event, trigger core.Event) bool {
	v, ok := trigger.Attribute(a.Attribute)
	if !ok {
		return false
	}
	return valuesEqual(v, a.Expected)
}

func newAttributeEquals(params map[string]any) (Evaluator, error) {
	name, err := requireString(params, "attributeName")
	if err != nil {
		return nil, err
	}
	expected, ok := params["expectedValue"]
	if !ok || expected == nil {
		return nil, fmt.Errorf("%w: expectedValue is required", ErrInvalidParameter)
	}
	return AttributeEquals{Attribute: name, Expected: expected}, nil
}

// Operator is a numeric comparison used by Threshold.
type Operator string

const (
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
	OpEq  Operator = "=="
)

var operatorAliases = map[string]Operator{
	">": OpGt, "gt": OpGt,
	">=": OpGte, "gte": OpGte,
	"<": OpLt, "lt": OpLt,
	"<=": OpLte, "lte": OpLte,
	"==": OpEq, "eq": OpEq, "=": OpEq,
}

// ParseOperator accepts symbolic and named operators.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidParameter, s)
	}
	return op, nil
}

// Compare applies op to value and target.
func (op Operator) Compare(value, target float64) bool {
	switch op {
	case OpGt:
		return value > target
	case OpGte:
		return value >= target
	case OpLt:
		return value < target
	case OpLte:
		return value <= target
	case OpEq:
		return value == target
	default:
		return false
	}
}

// Threshold compares a numeric trigger attribute against Value. Missing or
// non-numeric attributes evaluate false.
type Threshold struct {
	Attribute string
	Operator  Operator
	Value     float64
}

func (t Threshold) Evaluate(_ []core.Event, trigger core.Event) bool {
	raw, ok := trigger.Attribute(t.Attribute)
	if !ok {
		return false
	}
	v, ok := ToFloat64(raw)
	if !ok {
		return false
	}
	return t.Operator.Compare(v, t.Value)
}

func newThreshold(params map[string]any) (Evaluator, error) {
	name, err := requireString(params, "attributeName")
	if err != nil {
		return nil, err
	}
	opRaw, err := requireString(params, "operator")
	if err != nil {
		return nil, err
	}
	op, err := ParseOperator(opRaw)
	if err != nil {
		return nil, err
	}
	raw, ok := params["value"]
	if !ok {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidParameter)
	}
	value, ok := ToFloat64(raw)
	if !ok {
		return nil, fmt.Errorf("%w: value must be numeric, got %T", ErrInvalidParameter, raw)
	}
	return Threshold{Attribute: name, Operator: op, Value: value}, nil
}

func valuesEqual(a, b any) bool {
	na, oka := numeric(a)
	nb, okb := numeric(b)
	if oka && okb {
		return na == nb
	}
	return reflect.DeepEqual(a, b)
}
