package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"rewardkit/core"
	"rewardkit/ruleset"
)

// Driver selects the SQL dialect and database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite3"
)

// Config holds database connection configuration. MySQL DSNs need
// parseTime=true so timestamps scan into time.Time.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate creates missing tables on New.
	AutoMigrate bool
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	cfg := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
	switch driver {
	case DriverPostgres:
		cfg.DSN = "postgres://localhost:5432/rewardkit?sslmode=disable"
	case DriverMySQL:
		cfg.DSN = "root@tcp(localhost:3306)/rewardkit?parseTime=true"
	case DriverSQLite:
		cfg.DSN = "file:rewardkit.db?_busy_timeout=5000"
		cfg.MaxOpenConns = 1
	}
	return cfg
}

// Store implements engine.Storage on a SQL database through sqlx.
// Rules, categories, states, transfers and history rows carry a JSON
// document; wallets keep balance and version as columns so commits can
// compare-and-swap the version.
type Store struct {
	db     *sqlx.DB
	driver Driver
	q      *queries
}

// New opens the database described by cfg.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	q, err := loadQueries()
	if err != nil {
		// queries are embedded at build time
		panic(err)
	}
	return &Store{db: db, driver: driver, q: q}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// page converts a limit where <= 0 means everything into a SQL LIMIT.
func page(limit, offset int) (int64, int64) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return math.MaxInt32, int64(offset)
	}
	return int64(limit), int64(offset)
}

func (s *Store) SaveRule(ctx context.Context, r core.Rule) error {
	doc, err := ruleset.MarshalRule(r)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := s.q.get(ctx, tx, "rule-exists", &exists, r.ID); err != nil {
			return fmt.Errorf("failed to check rule: %w", err)
		}
		if exists {
			if _, err := s.q.exec(ctx, tx, "update-rule", r.Position, r.Active, string(doc), r.ID); err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}
		} else {
			if _, err := s.q.exec(ctx, tx, "insert-rule", r.ID, r.Position, r.Active, string(doc)); err != nil {
				return fmt.Errorf("failed to insert rule: %w", err)
			}
		}
		if _, err := s.q.exec(ctx, tx, "delete-rule-triggers", r.ID); err != nil {
			return fmt.Errorf("failed to clear triggers: %w", err)
		}
		seen := map[core.EventType]bool{}
		for _, t := range r.Triggers {
			if seen[t] {
				continue
			}
			seen[t] = true
			if _, err := s.q.exec(ctx, tx, "insert-rule-trigger", r.ID, t); err != nil {
				return fmt.Errorf("failed to insert trigger: %w", err)
			}
		}
		return nil
	})
}

func decodeRules(docs []string) ([]core.Rule, error) {
	out := make([]core.Rule, 0, len(docs))
	for _, d := range docs {
		r, err := ruleset.UnmarshalRule([]byte(d))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ListRules(ctx context.Context) ([]core.Rule, error) {
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-rules", &docs); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return decodeRules(docs)
}

func (s *Store) GetActiveRulesByTrigger(ctx context.Context, typ core.EventType) ([]core.Rule, error) {
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-active-rules-by-trigger", &docs, typ, true); err != nil {
		return nil, fmt.Errorf("failed to get rules for %s: %w", typ, err)
	}
	return decodeRules(docs)
}

// appendRetries bounds re-sequencing when another writer takes the same seq.
const appendRetries = 5

func (s *Store) AppendEvent(ctx context.Context, ev core.Event) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			var seq int64
			if err := s.q.get(ctx, tx, "next-event-seq", &seq, ev.UserID); err != nil {
				return fmt.Errorf("failed to sequence event: %w", err)
			}
			if _, err := s.q.exec(ctx, tx, "insert-event", ev.ID, ev.UserID, seq, ev.Type, ev.OccurredAt, string(doc)); err != nil {
				return insertErr("event", err)
			}
			return nil
		})
		if !errors.Is(err, core.ErrConcurrentModification) || attempt == appendRetries {
			return err
		}
	}
}

// GetUserEvents returns the requested window oldest first.
func (s *Store) GetUserEvents(ctx context.Context, user core.UserID, limit, offset int) ([]core.Event, error) {
	lim, off := page(limit, offset)
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-user-events", &docs, user, lim, off); err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	out := make([]core.Event, len(docs))
	for i, d := range docs {
		var ev core.Event
		if err := json.Unmarshal([]byte(d), &ev); err != nil {
			return nil, err
		}
		out[len(docs)-1-i] = ev
	}
	return out, nil
}

func (s *Store) GetUserState(ctx context.Context, user core.UserID) (core.UserState, bool, error) {
	var doc string
	err := s.q.get(ctx, s.db, "get-user-state", &doc, user)
	if errors.Is(err, sql.ErrNoRows) {
		return core.UserState{}, false, nil
	}
	if err != nil {
		return core.UserState{}, false, fmt.Errorf("failed to get state: %w", err)
	}
	var st core.UserState
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return core.UserState{}, false, err
	}
	st.Normalize()
	return st, true, nil
}

func (s *Store) SaveUserState(ctx context.Context, st core.UserState) error {
	return s.Commit(ctx, core.UnitOfWork{States: []core.UserState{st}})
}

type walletRow struct {
	UserID    string    `db:"user_id"`
	Category  string    `db:"category"`
	Balance   int64     `db:"balance"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) GetWallet(ctx context.Context, user core.UserID, category core.CategoryID) (core.Wallet, bool, error) {
	var row walletRow
	err := s.q.get(ctx, s.db, "get-wallet", &row, user, category)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Wallet{}, false, nil
	}
	if err != nil {
		return core.Wallet{}, false, fmt.Errorf("failed to get wallet: %w", err)
	}
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-wallet-transactions", &docs, user, category); err != nil {
		return core.Wallet{}, false, fmt.Errorf("failed to get transactions: %w", err)
	}
	w := core.Wallet{
		UserID:   user,
		Category: category,
		Balance:  row.Balance,
		Version:  row.Version,
		Updated:  row.UpdatedAt.UTC(),
	}
	for _, d := range docs {
		var tx core.WalletTransaction
		if err := json.Unmarshal([]byte(d), &tx); err != nil {
			return core.Wallet{}, false, err
		}
		w.Transactions = append(w.Transactions, tx)
	}
	return w, true, nil
}

func (s *Store) SaveWallet(ctx context.Context, w core.Wallet, expectedVersion int64) error {
	var fresh []core.WalletTransaction
	if expectedVersion >= 0 && expectedVersion < int64(len(w.Transactions)) {
		fresh = w.Transactions[expectedVersion:]
	}
	return s.Commit(ctx, core.UnitOfWork{
		Wallets:      []core.WalletWrite{{Wallet: w, ExpectedVersion: expectedVersion}},
		Transactions: fresh,
	})
}

func (s *Store) GetTransfer(ctx context.Context, id core.TransferID) (core.WalletTransfer, error) {
	var doc string
	err := s.q.get(ctx, s.db, "get-transfer", &doc, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WalletTransfer{}, fmt.Errorf("transfer %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.WalletTransfer{}, fmt.Errorf("failed to get transfer: %w", err)
	}
	var t core.WalletTransfer
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return core.WalletTransfer{}, err
	}
	return t, nil
}

// ListTransactions returns a wallet's transactions newest first.
func (s *Store) ListTransactions(ctx context.Context, user core.UserID, category core.CategoryID, limit, offset int) ([]core.WalletTransaction, error) {
	lim, off := page(limit, offset)
	var docs []string
	if err := s.q.sel(ctx, s.db, "page-wallet-transactions", &docs, user, category, lim, off); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]core.WalletTransaction, 0, len(docs))
	for _, d := range docs {
		var tx core.WalletTransaction
		if err := json.Unmarshal([]byte(d), &tx); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) GetPointCategory(ctx context.Context, id core.CategoryID) (core.PointCategory, bool, error) {
	var doc string
	err := s.q.get(ctx, s.db, "get-category", &doc, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PointCategory{}, false, nil
	}
	if err != nil {
		return core.PointCategory{}, false, fmt.Errorf("failed to get category: %w", err)
	}
	c, err := ruleset.UnmarshalCategory([]byte(doc))
	if err != nil {
		return core.PointCategory{}, false, err
	}
	return c, true, nil
}

func (s *Store) SaveCategory(ctx context.Context, c core.PointCategory) error {
	doc, err := ruleset.MarshalCategory(c)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists bool
		if err := s.q.get(ctx, tx, "category-exists", &exists, c.ID); err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		name, args := "insert-category", []any{c.ID, string(doc)}
		if exists {
			name, args = "update-category", []any{string(doc), c.ID}
		}
		if _, err := s.q.exec(ctx, tx, name, args...); err != nil {
			return fmt.Errorf("failed to save category: %w", err)
		}
		return nil
	})
}

func (s *Store) ListCategories(ctx context.Context) ([]core.PointCategory, error) {
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-categories", &docs); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	out := make([]core.PointCategory, 0, len(docs))
	for _, d := range docs {
		c, err := ruleset.UnmarshalCategory([]byte(d))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) AppendRewardHistory(ctx context.Context, h core.RewardHistory) error {
	return s.Commit(ctx, core.UnitOfWork{History: []core.RewardHistory{h}})
}

// ListRewardHistory returns a user's records newest first.
func (s *Store) ListRewardHistory(ctx context.Context, user core.UserID, limit, offset int) ([]core.RewardHistory, error) {
	lim, off := page(limit, offset)
	var docs []string
	if err := s.q.sel(ctx, s.db, "list-reward-history", &docs, user, lim, off); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	out := make([]core.RewardHistory, 0, len(docs))
	for _, d := range docs {
		var h core.RewardHistory
		if err := json.Unmarshal([]byte(d), &h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Commit writes the unit in one SQL transaction. Wallet rows are updated
// only where the stored version still equals the expected one.
func (s *Store) Commit(ctx context.Context, uow core.UnitOfWork) error {
	if uow.Empty() {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, ww := range uow.Wallets {
			if err := s.writeWallet(ctx, tx, ww); err != nil {
				return err
			}
		}
		for _, st := range uow.States {
			if err := s.writeState(ctx, tx, st); err != nil {
				return err
			}
		}
		if err := s.writeTransactions(ctx, tx, uow); err != nil {
			return err
		}
		if t := uow.Transfer; t != nil {
			doc, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if _, err := s.q.exec(ctx, tx, "insert-transfer", t.ID, t.Status, string(doc)); err != nil {
				return fmt.Errorf("failed to insert transfer: %w", err)
			}
		}
		return s.writeHistory(ctx, tx, uow.History)
	})
}

func (s *Store) writeWallet(ctx context.Context, tx *sqlx.Tx, ww core.WalletWrite) error {
	w := ww.Wallet
	var current int64
	err := s.q.get(ctx, tx, "get-wallet-version", &current, w.UserID, w.Category)
	if errors.Is(err, sql.ErrNoRows) {
		if ww.ExpectedVersion != 0 {
			return fmt.Errorf("wallet %s/%s missing, expected version %d: %w",
				w.UserID, w.Category, ww.ExpectedVersion, core.ErrConcurrentModification)
		}
		if _, err := s.q.exec(ctx, tx, "insert-wallet", w.UserID, w.Category, w.Balance, w.Version, w.Updated.UTC()); err != nil {
			return insertErr(fmt.Sprintf("wallet %s/%s", w.UserID, w.Category), err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read wallet version: %w", err)
	}
	if current != ww.ExpectedVersion {
		return fmt.Errorf("wallet %s/%s at version %d, expected %d: %w",
			w.UserID, w.Category, current, ww.ExpectedVersion, core.ErrConcurrentModification)
	}
	res, err := s.q.exec(ctx, tx, "update-wallet", w.Balance, w.Version, w.Updated.UTC(), w.UserID, w.Category, ww.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("wallet %s/%s changed during commit: %w", w.UserID, w.Category, core.ErrConcurrentModification)
	}
	return nil
}

func (s *Store) writeState(ctx context.Context, tx *sqlx.Tx, st core.UserState) error {
	doc, err := json.Marshal(st)
	if err != nil {
		return err
	}
	var exists bool
	if err := s.q.get(ctx, tx, "user-state-exists", &exists, st.UserID); err != nil {
		return fmt.Errorf("failed to check state: %w", err)
	}
	if exists {
		_, err = s.q.exec(ctx, tx, "update-user-state", string(doc), st.Updated.UTC(), st.UserID)
	} else {
		_, err = s.q.exec(ctx, tx, "insert-user-state", st.UserID, string(doc), st.Updated.UTC())
	}
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// writeTransactions numbers new transactions after the version their wallet
// was read at, so seq matches each entry's position in the ledger.
func (s *Store) writeTransactions(ctx context.Context, tx *sqlx.Tx, uow core.UnitOfWork) error {
	type key struct {
		user core.UserID
		cat  core.CategoryID
	}
	next := map[key]int64{}
	for _, ww := range uow.Wallets {
		next[key{ww.Wallet.UserID, ww.Wallet.Category}] = ww.ExpectedVersion
	}
	for _, t := range uow.Transactions {
		k := key{t.UserID, t.Category}
		base, ok := next[k]
		if !ok {
			return fmt.Errorf("transaction %s has no wallet write in the unit", t.ID)
		}
		next[k] = base + 1
		doc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := s.q.exec(ctx, tx, "insert-wallet-transaction", t.ID, t.UserID, t.Category, base+1, string(doc)); err != nil {
			return insertErr("transaction", err)
		}
	}
	return nil
}

func (s *Store) writeHistory(ctx context.Context, tx *sqlx.Tx, records []core.RewardHistory) error {
	seqs := map[core.UserID]int64{}
	for _, h := range records {
		seq, ok := seqs[h.UserID]
		if !ok {
			if err := s.q.get(ctx, tx, "next-history-seq", &seq, h.UserID); err != nil {
				return fmt.Errorf("failed to sequence history: %w", err)
			}
		}
		seqs[h.UserID] = seq + 1
		doc, err := json.Marshal(h)
		if err != nil {
			return err
		}
		if _, err := s.q.exec(ctx, tx, "insert-reward-history", h.ID, h.UserID, seq, h.RuleID, h.Success, h.AwardedAt.UTC(), string(doc)); err != nil {
			return insertErr("history", err)
		}
	}
	return nil
}

// insertErr maps a unique violation to core.ErrConcurrentModification: a
// concurrent writer created the same wallet or took the same seq, and the
// caller should re-read and retry. Other failures are returned as is.
func insertErr(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("insert %s: %v: %w", what, err, core.ErrConcurrentModification)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
