package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/core"
)

// newTestStore spins up a miniredis server and returns a store on top of it.
func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "test:"), mr
}

func earned(user core.UserID, cat core.CategoryID, amount int64) core.WalletTransaction {
	return core.WalletTransaction{
		ID: core.NewTransactionID(), UserID: user, Category: cat,
		Amount: amount, Type: core.TxEarned, Timestamp: time.Now().UTC(),
	}
}

func TestStore_RulesByTrigger(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rules := []core.Rule{
		{ID: "second", Triggers: []core.EventType{"COMMENTED"}, Rewards: []core.Reward{core.BadgeReward{Badge: "b"}}, Active: true, Position: 2},
		{ID: "first", Triggers: []core.EventType{"COMMENTED", "LIKED"}, Rewards: []core.Reward{core.PointsReward{Category: core.CategoryXP, Amount: 5}}, Active: true, Position: 1},
		{ID: "off", Triggers: []core.EventType{"COMMENTED"}, Rewards: []core.Reward{core.BadgeReward{Badge: "c"}}, Active: false, Position: 0},
	}
	for _, r := range rules {
		require.NoError(t, store.SaveRule(ctx, r))
	}

	got, err := store.GetActiveRulesByTrigger(ctx, "COMMENTED")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.RuleID("first"), got[0].ID)
	assert.Equal(t, core.RuleID("second"), got[1].ID)
	assert.IsType(t, core.PointsReward{}, got[0].Rewards[0])

	// moving a rule off a trigger removes it from the old set
	moved := rules[1]
	moved.Triggers = []core.EventType{"LIKED"}
	require.NoError(t, store.SaveRule(ctx, moved))
	got, err = store.GetActiveRulesByTrigger(ctx, "COMMENTED")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.RuleID("second"), got[0].ID)

	all, err := store.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, core.RuleID("off"), all[0].ID)
}

func TestStore_EventWindow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := core.NewEvent("COMMENTED", "alice", map[string]any{"n": i})
		require.NoError(t, store.AppendEvent(ctx, ev))
	}

	all, err := store.GetUserEvents(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	window, err := store.GetUserEvents(ctx, "alice", 2, 1)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, all[2].ID, window[0].ID)
	assert.Equal(t, all[3].ID, window[1].ID)

	none, err := store.GetUserEvents(ctx, "alice", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_CommitAndRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	st := core.NewUserState("alice")
	st.Points["credits"] = 30
	st.Badges["starter"] = struct{}{}

	w := core.NewWallet("alice", "credits")
	tx1, tx2 := earned("alice", "credits", 10), earned("alice", "credits", 20)
	require.NoError(t, w.Append(tx1))
	require.NoError(t, w.Append(tx2))

	tr := core.NewTransfer("alice", "bob", "credits", 5)
	tr.Fail("insufficient balance")

	uow := core.UnitOfWork{
		States:       []core.UserState{st},
		Wallets:      []core.WalletWrite{{Wallet: w, ExpectedVersion: 0}},
		Transactions: []core.WalletTransaction{tx1, tx2},
		Transfer:     &tr,
		History: []core.RewardHistory{
			{ID: core.NewHistoryID(), UserID: "alice", RuleID: "r", Success: true},
			{ID: core.NewHistoryID(), UserID: "alice", RuleID: "r2", Success: false},
		},
	}
	require.NoError(t, store.Commit(ctx, uow))

	got, ok, err := store.GetUserState(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(30), got.Points["credits"])
	assert.True(t, got.HasBadge("starter"))
	assert.NotNil(t, got.Trophies)

	wallet, ok, err := store.GetWallet(ctx, "alice", "credits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(30), wallet.Balance)
	assert.Equal(t, int64(2), wallet.Version)
	assert.NoError(t, wallet.Verify())

	txs, err := store.ListTransactions(ctx, "alice", "credits", 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, tx2.ID, txs[0].ID)

	gotTr, err := store.GetTransfer(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TransferFailed, gotTr.Status)

	hs, err := store.ListRewardHistory(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, core.RuleID("r2"), hs[0].RuleID)
}

func TestStore_CommitRejectsStaleVersion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	w := core.NewWallet("alice", "credits")
	tx := earned("alice", "credits", 10)
	require.NoError(t, w.Append(tx))
	require.NoError(t, store.SaveWallet(ctx, w, 0))

	stale := core.NewWallet("alice", "credits")
	other := earned("alice", "credits", 99)
	require.NoError(t, stale.Append(other))
	st := core.NewUserState("alice")
	err := store.Commit(ctx, core.UnitOfWork{
		States:       []core.UserState{st},
		Wallets:      []core.WalletWrite{{Wallet: stale, ExpectedVersion: 0}},
		Transactions: []core.WalletTransaction{other},
	})
	require.ErrorIs(t, err, core.ErrConcurrentModification)

	// nothing from the rejected unit is visible
	_, ok, err := store.GetUserState(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	wallet, _, err := store.GetWallet(ctx, "alice", "credits")
	require.NoError(t, err)
	assert.Equal(t, int64(10), wallet.Balance)
	assert.Len(t, wallet.Transactions, 1)
}

func TestStore_Categories(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCategory(ctx, core.PointCategory{ID: "xp", Aggregation: core.AggregationSum}))
	require.NoError(t, store.SaveCategory(ctx, core.PointCategory{ID: "credits", Aggregation: core.AggregationSum, Spendable: true}))

	c, ok, err := store.GetPointCategory(ctx, "credits")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, c.Spendable)

	_, ok, err = store.GetPointCategory(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, core.CategoryID("credits"), all[0].ID)
}

func TestStore_EmptyUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetUserState(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.GetWallet(ctx, "nobody", "credits")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.GetTransfer(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_KeysArePrefixed(t *testing.T) {
	store, mr := newTestStore(t)
	require.NoError(t, store.AppendEvent(context.Background(), core.NewEvent("X", "u", nil)))
	assert.True(t, mr.Exists("test:events:u"))
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, "", config.Password)
	assert.Equal(t, 0, config.DB)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 2, config.MinIdleConns)
	assert.Equal(t, 5*time.Second, config.DialTimeout)
	assert.Equal(t, 3*time.Second, config.ReadTimeout)
	assert.Equal(t, 3*time.Second, config.WriteTimeout)
	assert.Equal(t, "rewardkit:", config.Prefix)
}
