package analytics

import (
	"context"

	"rewardkit/core"
)

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(ctx context.Context, e core.DomainEvent) {
	for _, h := range b.hooks {
		h.OnEvent(ctx, e)
	}
}
