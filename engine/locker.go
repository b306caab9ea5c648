package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rewardkit/core"
)

// UserKey is the lock key guarding a user's aggregate state.
func UserKey(user core.UserID) string { return "user:" + string(user) }

// WalletKey is the lock key guarding one wallet.
func WalletKey(user core.UserID, category core.CategoryID) string {
	return fmt.Sprintf("wallet:%s:%s", user, category)
}

// Locker hands out per-key mutual exclusion. Keys are acquired in sorted
// order so two callers locking overlapping sets cannot deadlock.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock acquires every key and returns the release func. When ctx ends while
// waiting, keys already held are released and ctx.Err() is returned.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, k := range keys {
		kl := l.ref(k)
		select {
		case kl.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Locker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Locker) unlock(key string) {
	l.mu.Lock()
	kl := l.locks[key]
	l.mu.Unlock()
	<-kl.ch
	l.unref(key)
}

func normalizeKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if k == "" || (i > 0 && k == out[i-1]) {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
