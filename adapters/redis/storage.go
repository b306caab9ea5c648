package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"rewardkit/core"
	"rewardkit/ruleset"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Prefix namespaces every key written by the store.
	Prefix string
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Prefix:       "rewardkit:",
	}
}

// Store implements engine.Storage on Redis.
// Data structure (all keys carry the configured prefix):
// - rule:{id} -> JSON rule document
// - rules -> zset of rule ids scored by position
// - trigger:{event_type} -> set of rule ids
// - category:{id} -> JSON category, categories -> set of ids
// - events:{user} / history:{user} -> append-only lists of JSON records
// - state:{user} -> JSON UserState
// - wallet:{user}:{category} -> hash with balance, version and updated
// - wallet:{user}:{category}:txs -> list of JSON transactions
// - transfer:{id} -> JSON WalletTransfer
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client, prefix: config.Prefix}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *Store) ruleKey(id core.RuleID) string         { return s.key("rule", string(id)) }
func (s *Store) triggerKey(t core.EventType) string    { return s.key("trigger", string(t)) }
func (s *Store) categoryKey(id core.CategoryID) string { return s.key("category", string(id)) }
func (s *Store) eventsKey(u core.UserID) string        { return s.key("events", string(u)) }
func (s *Store) historyKey(u core.UserID) string       { return s.key("history", string(u)) }
func (s *Store) stateKey(u core.UserID) string         { return s.key("state", string(u)) }
func (s *Store) transferKey(id core.TransferID) string { return s.key("transfer", string(id)) }

func (s *Store) walletKey(u core.UserID, c core.CategoryID) string {
	return s.key("wallet", string(u), string(c))
}

func (s *Store) txsKey(u core.UserID, c core.CategoryID) string {
	return s.key("wallet", string(u), string(c), "txs")
}

// SaveRule stores the rule and moves its id between trigger sets.
func (s *Store) SaveRule(ctx context.Context, r core.Rule) error {
	doc, err := ruleset.MarshalRule(r)
	if err != nil {
		return err
	}
	old, found, err := s.getRule(ctx, r.ID)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if found {
			for _, t := range old.Triggers {
				p.SRem(ctx, s.triggerKey(t), string(r.ID))
			}
		}
		p.Set(ctx, s.ruleKey(r.ID), doc, 0)
		p.ZAdd(ctx, s.key("rules"), redis.Z{Score: float64(r.Position), Member: string(r.ID)})
		for _, t := range r.Triggers {
			p.SAdd(ctx, s.triggerKey(t), string(r.ID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (s *Store) getRule(ctx context.Context, id core.RuleID) (core.Rule, bool, error) {
	b, err := s.client.Get(ctx, s.ruleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Rule{}, false, nil
	}
	if err != nil {
		return core.Rule{}, false, fmt.Errorf("failed to get rule: %w", err)
	}
	r, err := ruleset.UnmarshalRule(b)
	if err != nil {
		return core.Rule{}, false, err
	}
	return r, true, nil
}

func (s *Store) loadRules(ctx context.Context, ids []string) ([]core.Rule, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.ruleKey(core.RuleID(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	out := make([]core.Rule, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // removed between reads
		}
		r, err := ruleset.UnmarshalRule([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListRules(ctx context.Context) ([]core.Rule, error) {
	ids, err := s.client.ZRange(ctx, s.key("rules"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return s.loadRules(ctx, ids)
}

func (s *Store) GetActiveRulesByTrigger(ctx context.Context, typ core.EventType) ([]core.Rule, error) {
	ids, err := s.client.SMembers(ctx, s.triggerKey(typ)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger set: %w", err)
	}
	rules, err := s.loadRules(ctx, ids)
	if err != nil {
		return nil, err
	}
	active := rules[:0]
	for _, r := range rules {
		if r.Active && r.HasTrigger(typ) {
			active = append(active, r)
		}
	}
	return active, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev core.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.eventsKey(ev.UserID), b).Err(); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// listWindow reads the window of a chronological list that precedes the
// offset most recent entries.
func (s *Store) listWindow(ctx context.Context, key string, limit, offset int) ([]string, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	end := n - int64(offset)
	if end <= 0 {
		return nil, nil
	}
	start := int64(0)
	if limit > 0 && end-int64(limit) > 0 {
		start = end - int64(limit)
	}
	return s.client.LRange(ctx, key, start, end-1).Result()
}

func (s *Store) GetUserEvents(ctx context.Context, user core.UserID, limit, offset int) ([]core.Event, error) {
	raw, err := s.listWindow(ctx, s.eventsKey(user), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	out := make([]core.Event, 0, len(raw))
	for _, r := range raw {
		var ev core.Event
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) GetUserState(ctx context.Context, user core.UserID) (core.UserState, bool, error) {
	b, err := s.client.Get(ctx, s.stateKey(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.UserState{}, false, nil
	}
	if err != nil {
		return core.UserState{}, false, fmt.Errorf("failed to get state: %w", err)
	}
	var st core.UserState
	if err := json.Unmarshal(b, &st); err != nil {
		return core.UserState{}, false, err
	}
	st.Normalize()
	return st, true, nil
}

func (s *Store) SaveUserState(ctx context.Context, st core.UserState) error {
	return s.Commit(ctx, core.UnitOfWork{States: []core.UserState{st}})
}

func (s *Store) GetWallet(ctx context.Context, user core.UserID, category core.CategoryID) (core.Wallet, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.walletKey(user, category)).Result()
	if err != nil {
		return core.Wallet{}, false, fmt.Errorf("failed to get wallet: %w", err)
	}
	if len(fields) == 0 {
		return core.Wallet{}, false, nil
	}
	w := core.Wallet{UserID: user, Category: category}
	if w.Balance, err = strconv.ParseInt(fields["balance"], 10, 64); err != nil {
		return core.Wallet{}, false, fmt.Errorf("wallet %s/%s: bad balance: %w", user, category, err)
	}
	if w.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return core.Wallet{}, false, fmt.Errorf("wallet %s/%s: bad version: %w", user, category, err)
	}
	if w.Updated, err = time.Parse(time.RFC3339Nano, fields["updated"]); err != nil {
		return core.Wallet{}, false, fmt.Errorf("wallet %s/%s: bad timestamp: %w", user, category, err)
	}
	raw, err := s.client.LRange(ctx, s.txsKey(user, category), 0, -1).Result()
	if err != nil {
		return core.Wallet{}, false, fmt.Errorf("failed to get transactions: %w", err)
	}
	for _, r := range raw {
		var tx core.WalletTransaction
		if err := json.Unmarshal([]byte(r), &tx); err != nil {
			return core.Wallet{}, false, err
		}
		w.Transactions = append(w.Transactions, tx)
	}
	return w, true, nil
}

func (s *Store) SaveWallet(ctx context.Context, w core.Wallet, expectedVersion int64) error {
	return s.Commit(ctx, core.UnitOfWork{
		Wallets:      []core.WalletWrite{{Wallet: w, ExpectedVersion: expectedVersion}},
		Transactions: newTail(w, expectedVersion),
	})
}

// newTail returns the transactions appended since version.
func newTail(w core.Wallet, version int64) []core.WalletTransaction {
	if version < 0 || version >= int64(len(w.Transactions)) {
		return nil
	}
	return w.Transactions[version:]
}

func (s *Store) GetTransfer(ctx context.Context, id core.TransferID) (core.WalletTransfer, error) {
	b, err := s.client.Get(ctx, s.transferKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.WalletTransfer{}, fmt.Errorf("transfer %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.WalletTransfer{}, fmt.Errorf("failed to get transfer: %w", err)
	}
	var t core.WalletTransfer
	if err := json.Unmarshal(b, &t); err != nil {
		return core.WalletTransfer{}, err
	}
	return t, nil
}

// ListTransactions returns a wallet's transactions newest first.
func (s *Store) ListTransactions(ctx context.Context, user core.UserID, category core.CategoryID, limit, offset int) ([]core.WalletTransaction, error) {
	raw, err := s.listWindow(ctx, s.txsKey(user, category), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]core.WalletTransaction, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var tx core.WalletTransaction
		if err := json.Unmarshal([]byte(raw[i]), &tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) GetPointCategory(ctx context.Context, id core.CategoryID) (core.PointCategory, bool, error) {
	b, err := s.client.Get(ctx, s.categoryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.PointCategory{}, false, nil
	}
	if err != nil {
		return core.PointCategory{}, false, fmt.Errorf("failed to get category: %w", err)
	}
	c, err := ruleset.UnmarshalCategory(b)
	if err != nil {
		return core.PointCategory{}, false, err
	}
	return c, true, nil
}

func (s *Store) SaveCategory(ctx context.Context, c core.PointCategory) error {
	b, err := ruleset.MarshalCategory(c)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.categoryKey(c.ID), b, 0)
		p.SAdd(ctx, s.key("categories"), string(c.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]core.PointCategory, error) {
	ids, err := s.client.SMembers(ctx, s.key("categories")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	sort.Strings(ids)
	out := make([]core.PointCategory, 0, len(ids))
	for _, id := range ids {
		c, ok, err := s.GetPointCategory(ctx, core.CategoryID(id))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) AppendRewardHistory(ctx context.Context, h core.RewardHistory) error {
	return s.Commit(ctx, core.UnitOfWork{History: []core.RewardHistory{h}})
}

// ListRewardHistory returns a user's records newest first.
func (s *Store) ListRewardHistory(ctx context.Context, user core.UserID, limit, offset int) ([]core.RewardHistory, error) {
	raw, err := s.listWindow(ctx, s.historyKey(user), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]core.RewardHistory, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var h core.RewardHistory
		if err := json.Unmarshal([]byte(raw[i]), &h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Commit watches every touched wallet, checks the stored versions and then
// writes the whole unit in one MULTI/EXEC block. A concurrent writer touching
// a watched wallet aborts the transaction.
func (s *Store) Commit(ctx context.Context, uow core.UnitOfWork) error {
	if uow.Empty() {
		return nil
	}
	payload, err := encodeUnit(uow)
	if err != nil {
		return err
	}
	watched := make([]string, 0, len(uow.Wallets))
	for _, ww := range uow.Wallets {
		watched = append(watched, s.walletKey(ww.Wallet.UserID, ww.Wallet.Category))
	}

	txf := func(tx *redis.Tx) error {
		for i, ww := range uow.Wallets {
			cur, err := tx.HGet(ctx, watched[i], "version").Int64()
			if errors.Is(err, redis.Nil) {
				cur = 0
			} else if err != nil {
				return err
			}
			if cur != ww.ExpectedVersion {
				return fmt.Errorf("wallet %s/%s at version %d, expected %d: %w",
					ww.Wallet.UserID, ww.Wallet.Category, cur, ww.ExpectedVersion, core.ErrConcurrentModification)
			}
		}
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for i, st := range uow.States {
				p.Set(ctx, s.stateKey(st.UserID), payload.states[i], 0)
			}
			for i, ww := range uow.Wallets {
				w := ww.Wallet
				p.HSet(ctx, watched[i],
					"balance", w.Balance,
					"version", w.Version,
					"updated", w.Updated.UTC().Format(time.RFC3339Nano))
			}
			for i, t := range uow.Transactions {
				p.RPush(ctx, s.txsKey(t.UserID, t.Category), payload.txs[i])
			}
			if uow.Transfer != nil {
				p.Set(ctx, s.transferKey(uow.Transfer.ID), payload.transfer, 0)
			}
			for i, h := range uow.History {
				p.RPush(ctx, s.historyKey(h.UserID), payload.history[i])
			}
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, watched...)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("wallet modified during commit: %w", core.ErrConcurrentModification)
	}
	return err
}

type encodedUnit struct {
	states   [][]byte
	txs      [][]byte
	transfer []byte
	history  [][]byte
}

func encodeUnit(uow core.UnitOfWork) (encodedUnit, error) {
	var out encodedUnit
	for _, st := range uow.States {
		b, err := json.Marshal(st)
		if err != nil {
			return out, err
		}
		out.states = append(out.states, b)
	}
	for _, t := range uow.Transactions {
		b, err := json.Marshal(t)
		if err != nil {
			return out, err
		}
		out.txs = append(out.txs, b)
	}
	if uow.Transfer != nil {
		b, err := json.Marshal(uow.Transfer)
		if err != nil {
			return out, err
		}
		out.transfer = b
	}
	for _, h := range uow.History {
		b, err := json.Marshal(h)
		if err != nil {
			return out, err
		}
		out.history = append(out.history, b)
	}
	return out, nil
}
