package ruleset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/condition"
	"rewardkit/core"
)

func TestLoadFileYAML(t *testing.T) {
	rs, err := LoadFile("testdata/rules.yaml", nil)
	require.NoError(t, err)

	require.Len(t, rs.Categories, 2)
	assert.True(t, rs.Categories[1].Spendable)
	assert.Equal(t, core.AggregationSum, rs.Categories[0].Aggregation)

	require.Len(t, rs.Rules, 4)
	for i, r := range rs.Rules {
		assert.Equal(t, i, r.Position)
	}
	first := rs.Rules[0]
	assert.Equal(t, core.RuleID("first-comment"), first.ID)
	assert.True(t, first.Active)
	require.Len(t, first.Rewards, 2)
	assert.Equal(t, core.PointsReward{Category: "xp", Amount: 100}, first.Rewards[0])
	assert.Equal(t, core.BadgeReward{Badge: "first_comment"}, first.Rewards[1])

	gift := rs.Rules[3]
	assert.False(t, gift.Active)
	tr, ok := gift.Spendings[0].(core.TransferSpending)
	require.True(t, ok)
	assert.Equal(t, "recipient", tr.DestinationAttribute)
}

func TestParseJSON(t *testing.T) {
	doc := `{
	  "rules": [{
	    "id": "streak",
	    "triggers": ["LOGGED_IN"],
	    "conditions": [{"type": "count", "parameters": {"eventType": "LOGGED_IN", "minCount": 7}}],
	    "rewards": [{"type": "level", "category": "xp"}]
	  }]
	}`
	rs, err := Parse([]byte(doc), FormatJSON, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, core.LevelReward{Category: "xp"}, rs.Rules[0].Rewards[0])
}

func TestParseCollectsAllProblems(t *testing.T) {
	doc := `
categories:
  - id: tokens
    aggregation: max
    spendable: true
rules:
  - id: a
    triggers: [X]
    rewards: [{type: points, category: xp, amount: 1}]
  - id: a
    triggers: [X]
    rewards: [{type: points, category: xp, amount: 1}]
  - id: no-trigger
    rewards: [{type: badge, badge: ok}]
  - id: bad-cond
    triggers: [X]
    conditions: [{type: streak}]
    rewards: [{type: badge, badge: ok}]
  - id: bad-reward
    triggers: [X]
    rewards: [{type: confetti}]
  - id: nothing
    triggers: [X]
`
	_, err := Parse([]byte(doc), FormatYAML, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.True(t, errors.Is(err, core.ErrInvalidRule))
	assert.Len(t, verr.Problems, 6)
	assert.Contains(t, err.Error(), "spendable categories must use sum aggregation")
	assert.Contains(t, err.Error(), `duplicate rule id "a"`)
	assert.Contains(t, err.Error(), "unknown condition type")
	assert.Contains(t, err.Error(), `unknown reward type "confetti"`)
}

func TestParseUsesRegistry(t *testing.T) {
	reg := condition.Default()
	require.NoError(t, reg.Register("weekend", func(map[string]any) (condition.Evaluator, error) {
		return condition.AlwaysTrue{}, nil
	}))
	doc := `
rules:
  - id: weekend-bonus
    triggers: [X]
    conditions: [{type: weekend}]
    rewards: [{type: points, category: xp, amount: 5}]
`
	_, err := Parse([]byte(doc), FormatYAML, reg)
	require.NoError(t, err)

	_, err = Parse([]byte(doc), FormatYAML, nil)
	require.Error(t, err)
}

func TestSpendingValidation(t *testing.T) {
	doc := `
rules:
  - id: s
    triggers: [X]
    spendings:
      - {type: transaction, category: credits}
      - {type: transfer, category: credits, amount: 5}
      - {type: transaction, category: "", amount: 5}
`
	_, err := Parse([]byte(doc), FormatYAML, nil)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 3)
}

func TestEncodeRoundTrip(t *testing.T) {
	rs, err := LoadFile("testdata/rules.yaml", nil)
	require.NoError(t, err)

	for _, f := range []Format{FormatYAML, FormatJSON} {
		out, err := Encode(rs, f)
		require.NoError(t, err)
		back, err := Parse(out, f, nil)
		require.NoError(t, err, string(out))
		require.Len(t, back.Rules, len(rs.Rules))
		for i := range rs.Rules {
			assert.Equal(t, rs.Rules[i].ID, back.Rules[i].ID)
			assert.Equal(t, rs.Rules[i].Active, back.Rules[i].Active)
			assert.Equal(t, rs.Rules[i].Spendings, back.Rules[i].Spendings)
		}
		assert.Equal(t, rs.Categories, back.Categories)
	}
}

func TestMarshalRuleKeepsPosition(t *testing.T) {
	r := core.Rule{
		ID:       "p",
		Triggers: []core.EventType{"X"},
		Rewards: []core.Reward{core.PenaltyReward{
			Penalty: core.PenaltyPoints, Category: "xp", Amount: 10,
		}},
		Active:   true,
		Position: 7,
	}
	b, err := MarshalRule(r)
	require.NoError(t, err)
	back, err := UnmarshalRule(b)
	require.NoError(t, err)
	assert.Equal(t, 7, back.Position)
	assert.Equal(t, r.Rewards, back.Rewards)
}

func TestExplicitPositionIsKept(t *testing.T) {
	rs, err := Parse([]byte(`
rules:
  - id: late
    position: 10
    triggers: [X]
    rewards: [{type: badge, badge: late}]
  - id: default
    triggers: [X]
    rewards: [{type: badge, badge: default}]
  - id: zero
    position: 0
    triggers: [X]
    rewards: [{type: badge, badge: zero}]
`), FormatYAML, nil)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 3)
	assert.Equal(t, 10, rs.Rules[0].Position)
	assert.Equal(t, 1, rs.Rules[1].Position)
	assert.Equal(t, 0, rs.Rules[2].Position)
}

func TestRuleToDocCoversEveryVariant(t *testing.T) {
	r := core.Rule{
		ID:       "all",
		Triggers: []core.EventType{"X"},
		Rewards: []core.Reward{
			core.PointsReward{Category: "xp", Amount: 5},
			core.BadgeReward{Badge: "b"},
			core.TrophyReward{Trophy: "t"},
			core.LevelReward{Category: "xp", Level: 3},
			core.PenaltyReward{Penalty: core.PenaltyTrophy, Target: "t"},
		},
		Spendings: []core.Spending{
			core.TransactionSpending{SpendingMeta: core.SpendingMeta{Category: "credits", Description: "shop"}, AmountAttribute: "price"},
			core.TransferSpending{SpendingMeta: core.SpendingMeta{Category: "credits"}, Amount: 3, SourceAttribute: "from", Destination: "bob"},
		},
		Active: true,
	}
	d := RuleToDoc(r)
	require.Len(t, d.Rewards, 5)
	assert.Equal(t, RewardDoc{Type: "level", Category: "xp", Level: 3}, d.Rewards[3])
	assert.Equal(t, RewardDoc{Type: "penalty", PenaltyType: "trophy", Target: "t"}, d.Rewards[4])
	require.Len(t, d.Spendings, 2)
	assert.Equal(t, SpendingDoc{Type: "transaction", Category: "credits", Description: "shop", AmountAttribute: "price"}, d.Spendings[0])
	assert.Equal(t, SpendingDoc{Type: "transfer", Category: "credits", Amount: 3, SourceAttribute: "from", Destination: "bob"}, d.Spendings[1])

	b, err := MarshalRule(r)
	require.NoError(t, err)
	back, err := UnmarshalRule(b)
	require.NoError(t, err)
	assert.Equal(t, r.Rewards, back.Rewards)
	assert.Equal(t, r.Spendings, back.Spendings)
}
