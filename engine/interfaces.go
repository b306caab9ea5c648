package engine

import (
	"context"

	"rewardkit/core"
)

// RuleRepository looks up rule definitions.
type RuleRepository interface {
	// GetActiveRulesByTrigger returns active rules whose trigger set contains typ,
	// ordered by position.
	GetActiveRulesByTrigger(ctx context.Context, typ core.EventType) ([]core.Rule, error)
	SaveRule(ctx context.Context, rule core.Rule) error
	ListRules(ctx context.Context) ([]core.Rule, error)
}

// EventRepository stores the immutable event stream.
type EventRepository interface {
	AppendEvent(ctx context.Context, ev core.Event) error
	// GetUserEvents skips the offset most recent events, then returns up to
	// limit of the next most recent ones ordered oldest first.
	GetUserEvents(ctx context.Context, user core.UserID, limit, offset int) ([]core.Event, error)
}

// StateRepository reads and writes user aggregate state.
type StateRepository interface {
	// GetUserState returns false when the user has no stored state.
	GetUserState(ctx context.Context, user core.UserID) (core.UserState, bool, error)
	SaveUserState(ctx context.Context, state core.UserState) error
}

// WalletRepository reads and writes wallets and transfer records.
type WalletRepository interface {
	// GetWallet returns false when the wallet does not exist yet.
	GetWallet(ctx context.Context, user core.UserID, category core.CategoryID) (core.Wallet, bool, error)
	// SaveWallet stores w, requiring the stored version to equal expectedVersion.
	SaveWallet(ctx context.Context, w core.Wallet, expectedVersion int64) error
	GetTransfer(ctx context.Context, id core.TransferID) (core.WalletTransfer, error)
	ListTransactions(ctx context.Context, user core.UserID, category core.CategoryID, limit, offset int) ([]core.WalletTransaction, error)
}

// CategoryRepository is the point category registry.
type CategoryRepository interface {
	// GetPointCategory returns false for an unregistered category.
	GetPointCategory(ctx context.Context, id core.CategoryID) (core.PointCategory, bool, error)
	SaveCategory(ctx context.Context, c core.PointCategory) error
	ListCategories(ctx context.Context) ([]core.PointCategory, error)
}

// HistoryRepository is the append-only reward audit trail.
type HistoryRepository interface {
	AppendRewardHistory(ctx context.Context, h core.RewardHistory) error
	// ListRewardHistory returns a user's records, newest first.
	ListRewardHistory(ctx context.Context, user core.UserID, limit, offset int) ([]core.RewardHistory, error)
}

// Committer applies a unit of work atomically. Wallet writes are
// version-checked; a mismatch fails the whole unit with
// core.ErrConcurrentModification and writes nothing.
type Committer interface {
	Commit(ctx context.Context, uow core.UnitOfWork) error
}

// Storage is everything the engine needs from persistence.
type Storage interface {
	RuleRepository
	EventRepository
	StateRepository
	WalletRepository
	CategoryRepository
	HistoryRepository
	Committer
}
