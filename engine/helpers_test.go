package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	mem "rewardkit/adapters/memory"
	"rewardkit/core"
)

var _ Storage = (*mem.Store)(nil)

var creditsCategory = core.PointCategory{
	ID:          core.CategoryCredits,
	Name:        "Credits",
	Aggregation: core.AggregationSum,
	Spendable:   true,
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEvaluator(t *testing.T, store Storage, opts ...Option) *Evaluator {
	t.Helper()
	base := []Option{WithRuleCacheTTL(0), WithLogger(quietLogger())}
	return NewEvaluator(store, append(base, opts...)...)
}

func saveRules(t *testing.T, store Storage, rules ...core.Rule) {
	t.Helper()
	for i, r := range rules {
		if r.Position == 0 {
			r.Position = i
		}
		require.NoError(t, store.SaveRule(context.Background(), r))
	}
}

func always(id core.RuleID, trigger core.EventType, rewards []core.Reward, spendings ...core.Spending) core.Rule {
	return core.Rule{
		ID:         id,
		Triggers:   []core.EventType{trigger},
		Conditions: []core.Condition{{Type: core.ConditionAlwaysTrue}},
		Rewards:    rewards,
		Spendings:  spendings,
		Active:     true,
	}
}

// seedWallet credits amount to the user's wallet as if it had been earned.
func seedWallet(t *testing.T, store Storage, user core.UserID, cat core.CategoryID, amount int64) {
	t.Helper()
	ctx := context.Background()
	w, found, err := store.GetWallet(ctx, user, cat)
	require.NoError(t, err)
	if !found {
		w = core.NewWallet(user, cat)
	}
	expected := w.Version
	tx := core.WalletTransaction{ID: core.NewTransactionID(), UserID: user, Category: cat, Amount: amount, Type: core.TxEarned}
	require.NoError(t, w.Append(tx))

	st, found, err := store.GetUserState(ctx, user)
	require.NoError(t, err)
	if !found {
		st = core.NewUserState(user)
	}
	st.Points[cat] = w.Balance
	require.NoError(t, store.Commit(ctx, core.UnitOfWork{
		States:       []core.UserState{st},
		Wallets:      []core.WalletWrite{{Wallet: w, ExpectedVersion: expected}},
		Transactions: []core.WalletTransaction{tx},
	}))
}

func walletOf(t *testing.T, store Storage, user core.UserID, cat core.CategoryID) core.Wallet {
	t.Helper()
	w, _, err := store.GetWallet(context.Background(), user, cat)
	require.NoError(t, err)
	return w
}

func historyOf(t *testing.T, store Storage, user core.UserID) []core.RewardHistory {
	t.Helper()
	hs, err := store.ListRewardHistory(context.Background(), user, 100, 0)
	require.NoError(t, err)
	return hs
}
