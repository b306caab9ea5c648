package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rewardkit/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	rule := core.Rule{
		ID:         "welcome",
		Triggers:   []core.EventType{"SIGNED_UP"},
		Conditions: []core.Condition{{Type: core.ConditionCount, Parameters: map[string]any{"eventType": "SIGNED_UP", "minCount": 1}}},
		Rewards:    []core.Reward{core.BadgeReward{Badge: "onboarded"}},
		Active:     true,
		Position:   3,
	}
	if err := store.SaveRule(ctx, rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	if err := store.SaveCategory(ctx, core.PointCategory{ID: "credits", Aggregation: core.AggregationSum, Spendable: true}); err != nil {
		t.Fatalf("save category: %v", err)
	}
	ev := core.NewEvent("SIGNED_UP", "alice", map[string]any{"plan": "gold"})
	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append event: %v", err)
	}

	st := core.NewUserState("alice")
	st.Points[core.CategoryXP] = 50
	st.Badges["onboarded"] = struct{}{}
	st.Levels[core.CategoryXP] = 2
	w := core.NewWallet("alice", "credits")
	tx := core.WalletTransaction{ID: core.NewTransactionID(), UserID: "alice", Category: "credits", Amount: 7, Type: core.TxEarned}
	if err := w.Append(tx); err != nil {
		t.Fatal(err)
	}
	err = store.Commit(ctx, core.UnitOfWork{
		States:       []core.UserState{st},
		Wallets:      []core.WalletWrite{{Wallet: w}},
		Transactions: []core.WalletTransaction{tx},
		History:      []core.RewardHistory{{ID: core.NewHistoryID(), UserID: "alice", RuleID: "welcome", Success: true}},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	state, ok, err := reloaded.GetUserState(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("get state: %v %v", ok, err)
	}
	if state.Points[core.CategoryXP] != 50 {
		t.Fatalf("expected points 50, got %d", state.Points[core.CategoryXP])
	}
	if !state.HasBadge("onboarded") {
		t.Fatalf("expected badge onboarded")
	}
	if state.Levels[core.CategoryXP] != 2 {
		t.Fatalf("expected level 2, got %d", state.Levels[core.CategoryXP])
	}

	wallet, ok, _ := reloaded.GetWallet(ctx, "alice", "credits")
	if !ok || wallet.Balance != 7 || wallet.Version != 1 || wallet.Verify() != nil {
		t.Fatalf("unexpected wallet %+v", wallet)
	}

	rules, _ := reloaded.GetActiveRulesByTrigger(ctx, "SIGNED_UP")
	if len(rules) != 1 || rules[0].Position != 3 || len(rules[0].Conditions) != 1 {
		t.Fatalf("unexpected rules %+v", rules)
	}
	if _, ok := rules[0].Rewards[0].(core.BadgeReward); !ok {
		t.Fatalf("reward variant lost: %T", rules[0].Rewards[0])
	}

	evs, _ := reloaded.GetUserEvents(ctx, "alice", 10, 0)
	if len(evs) != 1 || evs[0].Attributes["plan"] != "gold" {
		t.Fatalf("unexpected events %+v", evs)
	}
	hs, _ := reloaded.ListRewardHistory(ctx, "alice", 10, 0)
	if len(hs) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(hs))
	}
}

func TestNewFailsOnCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected decode error")
	}
}
