package core

import (
	"errors"
	"testing"
)

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		ID:       "r1",
		Triggers: []EventType{"COMMENTED"},
		Rewards:  []Reward{PointsReward{Category: CategoryXP, Amount: 100}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	cases := map[string]Rule{
		"missing id":       {Triggers: []EventType{"X"}, Rewards: valid.Rewards},
		"no triggers":      {ID: "r", Rewards: valid.Rewards},
		"blank trigger":    {ID: "r", Triggers: []EventType{" "}, Rewards: valid.Rewards},
		"no effects":       {ID: "r", Triggers: []EventType{"X"}},
		"invalid spending": {ID: "r", Triggers: []EventType{"X"}, Spendings: []Spending{TransactionSpending{Amount: 5}}},
		"invalid transfer": {ID: "r", Triggers: []EventType{"X"}, Spendings: []Spending{TransferSpending{Amount: 5}}},
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Validate()
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("want ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestRuleHasTrigger(t *testing.T) {
	r := Rule{Triggers: []EventType{"COMMENTED", "LIKED"}}
	if !r.HasTrigger("LIKED") {
		t.Fatal("expected LIKED to trigger")
	}
	if r.HasTrigger("SHARED") {
		t.Fatal("SHARED should not trigger")
	}
}

type kindVisitor struct{}

func (kindVisitor) VisitPoints(PointsReward) Outcome   { return Succeeded("points", nil) }
func (kindVisitor) VisitBadge(BadgeReward) Outcome     { return Succeeded("badge", nil) }
func (kindVisitor) VisitTrophy(TrophyReward) Outcome   { return Succeeded("trophy", nil) }
func (kindVisitor) VisitLevel(LevelReward) Outcome     { return Succeeded("level", nil) }
func (kindVisitor) VisitPenalty(PenaltyReward) Outcome { return Succeeded("penalty", nil) }

func TestRewardAcceptDispatchesByVariant(t *testing.T) {
	rewards := []Reward{PointsReward{}, BadgeReward{}, TrophyReward{}, LevelReward{}, PenaltyReward{}}
	for _, r := range rewards {
		out := r.Accept(kindVisitor{})
		if out.Message != string(r.Kind()) {
			t.Fatalf("variant %s dispatched to %s", r.Kind(), out.Message)
		}
	}
}
