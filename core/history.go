package core

import "time"

// RewardHistory is the append-only audit record of one reward or spending
// attempt. It is the source of truth for what a rule did and why.
type RewardHistory struct {
	ID             HistoryID      `json:"id"`
	UserID         UserID         `json:"user_id"`
	RuleID         RuleID         `json:"rule_id"`
	RewardID       string         `json:"reward_id"`
	RewardType     string         `json:"reward_type"`
	TriggerEventID EventID        `json:"trigger_event_id"`
	AwardedAt      time.Time      `json:"awarded_at"`
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
}
