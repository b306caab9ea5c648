package core

import "time"

// EventType names a user behavior such as COMMENTED or PURCHASED.
type EventType string

// Event is an immutable record of user behavior. It is created once at
// ingestion and referenced by id from history queries and audit records.
type Event struct {
	ID         EventID        `json:"id"`
	Type       EventType      `json:"type"`
	UserID     UserID         `json:"user_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(typ EventType, user UserID, attrs map[string]any) Event {
	return Event{ID: NewEventID(), Type: typ, UserID: user, OccurredAt: time.Now().UTC(), Attributes: attrs}
}

// Attribute returns the named attribute and whether it is present and non-nil.
func (e Event) Attribute(name string) (any, bool) {
	if e.Attributes == nil {
		return nil, false
	}
	v, ok := e.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// DomainEventType enumerates the notifications the engine publishes after a mutation.
type DomainEventType string

const (
	EventPointsAdded       DomainEventType = "points_added"
	EventPointsSpent       DomainEventType = "points_spent"
	EventBadgeAwarded      DomainEventType = "badge_awarded"
	EventTrophyAwarded     DomainEventType = "trophy_awarded"
	EventLevelUp           DomainEventType = "level_up"
	EventPenaltyApplied    DomainEventType = "penalty_applied"
	EventTransferCompleted DomainEventType = "transfer_completed"
	EventTransferFailed    DomainEventType = "transfer_failed"
	EventRewardFailed      DomainEventType = "reward_failed"
)

// DomainEventTypes lists every notification type the engine publishes.
func DomainEventTypes() []DomainEventType {
	return []DomainEventType{
		EventPointsAdded, EventPointsSpent, EventBadgeAwarded, EventTrophyAwarded, EventLevelUp,
		EventPenaltyApplied, EventTransferCompleted, EventTransferFailed, EventRewardFailed,
	}
}

// DomainEvent describes an applied (or failed) reward or spending.
type DomainEvent struct {
	Type           DomainEventType `json:"type"`
	Time           time.Time       `json:"time"`
	UserID         UserID          `json:"user_id"`
	RuleID         RuleID          `json:"rule_id,omitempty"`
	TriggerEventID EventID         `json:"trigger_event_id,omitempty"`
	Category       CategoryID      `json:"category,omitempty"`
	Delta          int64           `json:"delta,omitempty"`
	Total          int64           `json:"total,omitempty"`
	Badge          Badge           `json:"badge,omitempty"`
	Trophy         Trophy          `json:"trophy,omitempty"`
	Level          int64           `json:"level,omitempty"`
	Message        string          `json:"message,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

func NewPointsAdded(user UserID, category CategoryID, delta int64, total int64) DomainEvent {
	return DomainEvent{Type: EventPointsAdded, Time: time.Now().UTC(), UserID: user, Category: category, Delta: delta, Total: total}
}

func NewPointsSpent(user UserID, category CategoryID, amount int64, balance int64) DomainEvent {
	return DomainEvent{Type: EventPointsSpent, Time: time.Now().UTC(), UserID: user, Category: category, Delta: -amount, Total: balance}
}

func NewBadgeAwarded(user UserID, badge Badge) DomainEvent {
	return DomainEvent{Type: EventBadgeAwarded, Time: time.Now().UTC(), UserID: user, Badge: badge}
}

func NewTrophyAwarded(user UserID, trophy Trophy) DomainEvent {
	return DomainEvent{Type: EventTrophyAwarded, Time: time.Now().UTC(), UserID: user, Trophy: trophy}
}

func NewLevelUp(user UserID, category CategoryID, level int64) DomainEvent {
	return DomainEvent{Type: EventLevelUp, Time: time.Now().UTC(), UserID: user, Category: category, Level: level}
}
