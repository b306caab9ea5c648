package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"rewardkit/condition"
	"rewardkit/core"
)

// CompiledRule is a rule with its conditions built into evaluators.
type CompiledRule struct {
	Rule       core.Rule
	Evaluators []condition.Evaluator
}

type compiledSet struct {
	rules    []CompiledRule
	loadedAt time.Time
}

// RuleCache holds compiled rules per trigger type. Concurrent misses for the
// same trigger share one repository load.
type RuleCache struct {
	repo     RuleRepository
	registry *condition.Registry
	ttl      time.Duration

	mu    sync.RWMutex
	items map[core.EventType]compiledSet
	// gen is bumped by Invalidate; loads started under an older gen are
	// returned to their callers but never cached.
	gen   uint64
	group singleflight.Group
}

// NewRuleCache returns a cache over repo. A zero ttl disables caching.
func NewRuleCache(repo RuleRepository, registry *condition.Registry, ttl time.Duration) *RuleCache {
	if registry == nil {
		registry = condition.Default()
	}
	return &RuleCache{repo: repo, registry: registry, ttl: ttl, items: make(map[core.EventType]compiledSet)}
}

// Get returns the active rules for typ in firing order.
func (c *RuleCache) Get(ctx context.Context, typ core.EventType) ([]CompiledRule, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		v, ok := c.items[typ]
		c.mu.RUnlock()
		if ok && time.Since(v.loadedAt) <= c.ttl {
			ruleCacheHits.Inc()
			return v.rules, nil
		}
	}
	ruleCacheMisses.Inc()
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// The shared load must not fail because the caller that started it went away.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fmt.Sprintf("%s#%d", typ, gen), func() (any, error) {
		rules, err := c.repo.GetActiveRulesByTrigger(loadCtx, typ)
		if err != nil {
			return nil, err
		}
		compiled, err := c.compile(rules)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			if c.gen == gen {
				c.items[typ] = compiledSet{rules: compiled, loadedAt: time.Now()}
			}
			c.mu.Unlock()
		}
		return compiled, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]CompiledRule), nil
	}
}

func (c *RuleCache) compile(rules []core.Rule) ([]CompiledRule, error) {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Active {
			continue
		}
		evals, err := c.registry.Compile(r.Conditions)
		if err != nil {
			// Stored rules are validated on save; reaching this is a system fault.
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		out = append(out, CompiledRule{Rule: r, Evaluators: evals})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rule.Position < out[j].Rule.Position })
	return out, nil
}

// Invalidate drops cached rules for the given triggers, or all of them when none are given.
func (c *RuleCache) Invalidate(types ...core.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if len(types) == 0 {
		c.items = make(map[core.EventType]compiledSet)
		return
	}
	for _, t := range types {
		delete(c.items, t)
	}
}
