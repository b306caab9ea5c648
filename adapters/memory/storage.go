package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rewardkit/core"
)

type walletKey struct {
	user     core.UserID
	category core.CategoryID
}

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	mu         sync.RWMutex
	rules      map[core.RuleID]core.Rule
	categories map[core.CategoryID]core.PointCategory
	events     map[core.UserID][]core.Event
	states     map[core.UserID]core.UserState
	wallets    map[walletKey]core.Wallet
	transfers  map[core.TransferID]core.WalletTransfer
	history    map[core.UserID][]core.RewardHistory

	// onChange runs after every mutation while the write lock is held.
	onChange func() error
}

func New() *Store {
	return &Store{
		rules:      map[core.RuleID]core.Rule{},
		categories: map[core.CategoryID]core.PointCategory{},
		events:     map[core.UserID][]core.Event{},
		states:     map[core.UserID]core.UserState{},
		wallets:    map[walletKey]core.Wallet{},
		transfers:  map[core.TransferID]core.WalletTransfer{},
		history:    map[core.UserID][]core.RewardHistory{},
	}
}

// OnChange registers a hook run after each successful mutation. A hook error
// is returned to the caller of the mutation.
func (s *Store) OnChange(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) changed() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange()
}

func (s *Store) SaveRule(_ context.Context, r core.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return s.changed()
}

func (s *Store) ListRules(_ context.Context) ([]core.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (s *Store) GetActiveRulesByTrigger(_ context.Context, typ core.EventType) ([]core.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Rule
	for _, r := range s.rules {
		if r.Active && r.HasTrigger(typ) {
			out = append(out, r)
		}
	}
	sortRules(out)
	return out, nil
}

func sortRules(rules []core.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Position != rules[j].Position {
			return rules[i].Position < rules[j].Position
		}
		return rules[i].ID < rules[j].ID
	})
}

func (s *Store) AppendEvent(_ context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	return s.changed()
}

func (s *Store) GetUserEvents(_ context.Context, user core.UserID, limit, offset int) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[user]
	start, end := recentWindow(len(evs), limit, offset)
	return append([]core.Event(nil), evs[start:end]...), nil
}

// recentWindow selects, from a chronological list of n items, the limit
// items that precede the offset most recent ones.
func recentWindow(n, limit, offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	end := n - offset
	if end < 0 {
		end = 0
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return start, end
}

func (s *Store) GetUserState(_ context.Context, user core.UserID) (core.UserState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[user]
	if !ok {
		return core.UserState{}, false, nil
	}
	return st.Clone(), true, nil
}

func (s *Store) SaveUserState(ctx context.Context, st core.UserState) error {
	return s.Commit(ctx, core.UnitOfWork{States: []core.UserState{st}})
}

func (s *Store) GetWallet(_ context.Context, user core.UserID, category core.CategoryID) (core.Wallet, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletKey{user, category}]
	if !ok {
		return core.Wallet{}, false, nil
	}
	return w.Clone(), true, nil
}

func (s *Store) SaveWallet(ctx context.Context, w core.Wallet, expectedVersion int64) error {
	return s.Commit(ctx, core.UnitOfWork{Wallets: []core.WalletWrite{{Wallet: w, ExpectedVersion: expectedVersion}}})
}

func (s *Store) GetTransfer(_ context.Context, id core.TransferID) (core.WalletTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return core.WalletTransfer{}, fmt.Errorf("transfer %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

// ListTransactions returns a wallet's transactions newest first.
func (s *Store) ListTransactions(_ context.Context, user core.UserID, category core.CategoryID, limit, offset int) ([]core.WalletTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txs := s.wallets[walletKey{user, category}].Transactions
	start, end := recentWindow(len(txs), limit, offset)
	out := make([]core.WalletTransaction, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, txs[i])
	}
	return out, nil
}

func (s *Store) GetPointCategory(_ context.Context, id core.CategoryID) (core.PointCategory, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	return c, ok, nil
}

func (s *Store) SaveCategory(_ context.Context, c core.PointCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	return s.changed()
}

func (s *Store) ListCategories(_ context.Context) ([]core.PointCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PointCategory, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendRewardHistory(ctx context.Context, h core.RewardHistory) error {
	return s.Commit(ctx, core.UnitOfWork{History: []core.RewardHistory{h}})
}

// ListRewardHistory returns a user's records newest first.
func (s *Store) ListRewardHistory(_ context.Context, user core.UserID, limit, offset int) ([]core.RewardHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := s.history[user]
	start, end := recentWindow(len(hs), limit, offset)
	out := make([]core.RewardHistory, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, hs[i])
	}
	return out, nil
}

// Commit applies the unit of work atomically after checking every wallet version.
func (s *Store) Commit(_ context.Context, uow core.UnitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ww := range uow.Wallets {
		cur := s.wallets[walletKey{ww.Wallet.UserID, ww.Wallet.Category}]
		if cur.Version != ww.ExpectedVersion {
			return fmt.Errorf("wallet %s/%s at version %d, expected %d: %w",
				ww.Wallet.UserID, ww.Wallet.Category, cur.Version, ww.ExpectedVersion, core.ErrConcurrentModification)
		}
	}
	for _, st := range uow.States {
		s.states[st.UserID] = st.Clone()
	}
	for _, ww := range uow.Wallets {
		s.wallets[walletKey{ww.Wallet.UserID, ww.Wallet.Category}] = ww.Wallet.Clone()
	}
	if uow.Transfer != nil {
		s.transfers[uow.Transfer.ID] = *uow.Transfer
	}
	for _, h := range uow.History {
		s.history[h.UserID] = append(s.history[h.UserID], h)
	}
	return s.changed()
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Rules      []core.Rule           `json:"-"`
	Categories []core.PointCategory  `json:"categories"`
	Events     []core.Event          `json:"events"`
	States     []core.UserState      `json:"states"`
	Wallets    []core.Wallet         `json:"wallets"`
	Transfers  []core.WalletTransfer `json:"transfers"`
	History    []core.RewardHistory  `json:"history"`
}

// Snapshot copies the store contents. The caller must not hold the lock;
// hooks registered with OnChange should use SnapshotLocked.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SnapshotLocked()
}

// SnapshotLocked is Snapshot for callers already inside a mutation hook.
func (s *Store) SnapshotLocked() Snapshot {
	var snap Snapshot
	for _, r := range s.rules {
		snap.Rules = append(snap.Rules, r)
	}
	sortRules(snap.Rules)
	for _, c := range s.categories {
		snap.Categories = append(snap.Categories, c)
	}
	sort.Slice(snap.Categories, func(i, j int) bool { return snap.Categories[i].ID < snap.Categories[j].ID })
	for _, u := range sortedUsers(s.events) {
		snap.Events = append(snap.Events, s.events[u]...)
	}
	for _, st := range s.states {
		snap.States = append(snap.States, st.Clone())
	}
	sort.Slice(snap.States, func(i, j int) bool { return snap.States[i].UserID < snap.States[j].UserID })
	for _, w := range s.wallets {
		snap.Wallets = append(snap.Wallets, w.Clone())
	}
	sort.Slice(snap.Wallets, func(i, j int) bool {
		if snap.Wallets[i].UserID != snap.Wallets[j].UserID {
			return snap.Wallets[i].UserID < snap.Wallets[j].UserID
		}
		return snap.Wallets[i].Category < snap.Wallets[j].Category
	})
	for _, t := range s.transfers {
		snap.Transfers = append(snap.Transfers, t)
	}
	sort.Slice(snap.Transfers, func(i, j int) bool { return snap.Transfers[i].ID < snap.Transfers[j].ID })
	for _, u := range sortedUsers(s.history) {
		snap.History = append(snap.History, s.history[u]...)
	}
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := New()
	s.rules, s.categories, s.events = fresh.rules, fresh.categories, fresh.events
	s.states, s.wallets, s.transfers, s.history = fresh.states, fresh.wallets, fresh.transfers, fresh.history
	for _, r := range snap.Rules {
		s.rules[r.ID] = r
	}
	for _, c := range snap.Categories {
		s.categories[c.ID] = c
	}
	for _, ev := range snap.Events {
		s.events[ev.UserID] = append(s.events[ev.UserID], ev)
	}
	for _, st := range snap.States {
		st.Normalize()
		s.states[st.UserID] = st
	}
	for _, w := range snap.Wallets {
		s.wallets[walletKey{w.UserID, w.Category}] = w
	}
	for _, t := range snap.Transfers {
		s.transfers[t.ID] = t
	}
	for _, h := range snap.History {
		s.history[h.UserID] = append(s.history[h.UserID], h)
	}
}

func sortedUsers[V any](m map[core.UserID]V) []core.UserID {
	out := make([]core.UserID, 0, len(m))
	for u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
