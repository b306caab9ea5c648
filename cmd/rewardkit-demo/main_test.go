package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/core"
	"rewardkit/engine"
	"rewardkit/gamify"
	"rewardkit/ruleset"
)

func TestSampleScenario(t *testing.T) {
	rs, err := ruleset.Parse(sampleRules, ruleset.FormatYAML, nil)
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 7)

	ctx := context.Background()
	svc, err := gamify.New(ctx, gamify.WithRuleSet(rs), gamify.WithDispatchMode(engine.DispatchSync))
	require.NoError(t, err)
	defer svc.Close()

	replay(ctx, svc)

	alice, err := svc.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, alice.Badges, core.Badge("big-spender"))
	assert.Equal(t, int64(30), alice.Points[core.CategoryXP])
	assert.Equal(t, int64(2), alice.Levels[core.CategoryXP])

	// 100 welcome - 60 purchase + 15 tip
	wallet, err := svc.GetWallet(ctx, "alice", "coins")
	require.NoError(t, err)
	assert.Equal(t, int64(55), wallet.Balance)
}
