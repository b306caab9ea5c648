package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Event is the payload submitted to POST /events.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RewardResult reports one executed reward or spending.
type RewardResult struct {
	RuleID    string         `json:"rule_id"`
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	HistoryID string         `json:"history_id,omitempty"`
}

// EvaluationResult mirrors the engine's evaluation response.
type EvaluationResult struct {
	EventID         string         `json:"event_id"`
	UserID          string         `json:"user_id"`
	DryRun          bool           `json:"dry_run"`
	MatchedRules    []string       `json:"matched_rules"`
	FiredRules      []string       `json:"fired_rules"`
	ExecutedRewards []RewardResult `json:"executed_rewards"`
}

// UserState mirrors the public JSON surface of core.UserState.
type UserState struct {
	UserID   string              `json:"user_id"`
	Points   map[string]int64    `json:"points"`
	Badges   map[string]struct{} `json:"badges"`
	Trophies map[string]struct{} `json:"trophies"`
	Levels   map[string]int64    `json:"levels"`
	Updated  time.Time           `json:"updated"`
}

// Transaction is a single wallet ledger entry.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Amount      int64     `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Wallet mirrors core.Wallet.
type Wallet struct {
	UserID       string        `json:"user_id"`
	Category     string        `json:"category"`
	Balance      int64         `json:"balance"`
	Version      int64         `json:"version"`
	Transactions []Transaction `json:"transactions"`
	Updated      time.Time     `json:"updated"`
}

// Transfer mirrors core.WalletTransfer.
type Transfer struct {
	ID            string     `json:"id"`
	FromUserID    string     `json:"from_user_id"`
	ToUserID      string     `json:"to_user_id"`
	Category      string     `json:"category"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// HistoryEntry mirrors core.RewardHistory.
type HistoryEntry struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	RuleID         string         `json:"rule_id"`
	RewardID       string         `json:"reward_id"`
	RewardType     string         `json:"reward_type"`
	TriggerEventID string         `json:"trigger_event_id"`
	AwardedAt      time.Time      `json:"awarded_at"`
	Success        bool           `json:"success"`
	Message        string         `json:"message,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

var (
	// ErrEmptyUserID is returned when user id is empty.
	ErrEmptyUserID = errors.New("user id is required")
	// ErrEmptyEventType is returned when an event has no type.
	ErrEmptyEventType = errors.New("event type is required")
)
