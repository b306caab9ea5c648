package sqlx_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	storage "rewardkit/adapters/sqlx"
	"rewardkit/core"
	"rewardkit/ruleset"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_SaveRule_Insert(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	rule := core.Rule{
		ID:       "welcome",
		Triggers: []core.EventType{"SIGNED_UP", "SIGNED_UP"},
		Rewards:  []core.Reward{core.BadgeReward{Badge: "newcomer"}},
		Active:   true,
		Position: 4,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM rules`).
		WithArgs(rule.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO rules`).
		WithArgs(rule.ID, rule.Position, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM rule_triggers`).
		WithArgs(rule.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO rule_triggers`).
		WithArgs(rule.ID, core.EventType("SIGNED_UP")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRule(context.Background(), rule))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetActiveRulesByTrigger(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	doc, err := ruleset.MarshalRule(core.Rule{
		ID:       "first-comment",
		Triggers: []core.EventType{"COMMENTED"},
		Rewards:  []core.Reward{core.PointsReward{Category: core.CategoryXP, Amount: 100}},
		Active:   true,
		Position: 2,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT r.doc FROM rules r\s+JOIN rule_triggers`).
		WithArgs(core.EventType("COMMENTED"), true).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(string(doc)))

	rules, err := store.GetActiveRulesByTrigger(context.Background(), "COMMENTED")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, 2, rules[0].Position)
	pts, ok := rules[0].Rewards[0].(core.PointsReward)
	require.True(t, ok)
	require.Equal(t, int64(100), pts.Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetState(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")

	mock.ExpectQuery(`SELECT doc FROM user_states`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow(`{"user_id":"u1","points":{"xp":50},"badges":{"onboarded":{}},"levels":{"xp":3}}`))

	state, ok, err := store.GetUserState(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(50), state.Points[core.CategoryXP])
	require.Contains(t, state.Badges, core.Badge("onboarded"))
	require.Equal(t, int64(3), state.Levels[core.CategoryXP])
	require.NotNil(t, state.Trophies)

	mock.ExpectQuery(`SELECT doc FROM user_states`).
		WithArgs(core.UserID("u2")).
		WillReturnError(sql.ErrNoRows)
	_, ok, err = store.GetUserState(ctx, "u2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetUserEvents_OldestFirst(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	older := core.NewEvent("COMMENTED", "u1", nil)
	newer := core.NewEvent("LIKED", "u1", nil)
	olderDoc, _ := json.Marshal(older)
	newerDoc, _ := json.Marshal(newer)

	mock.ExpectQuery(`SELECT doc FROM events WHERE user_id = \$1 ORDER BY seq DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(core.UserID("u1"), int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(string(newerDoc)).AddRow(string(olderDoc)))

	evs, err := store.GetUserEvents(context.Background(), "u1", 2, 1)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, older.ID, evs[0].ID)
	require.Equal(t, newer.ID, evs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Commit_NewWallet(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	user := core.UserID("u1")
	w := core.NewWallet(user, "credits")
	tx := core.WalletTransaction{ID: core.NewTransactionID(), UserID: user, Category: "credits", Amount: 25, Type: core.TxEarned, Timestamp: time.Now().UTC()}
	require.NoError(t, w.Append(tx))
	st := core.NewUserState(user)
	st.Points["credits"] = 25
	h := core.RewardHistory{ID: core.NewHistoryID(), UserID: user, RuleID: "r1", Success: true, AwardedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM wallets`).
		WithArgs(user, core.CategoryID("credits")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO wallets`).
		WithArgs(user, core.CategoryID("credits"), int64(25), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM user_states`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO user_states`).
		WithArgs(user, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO wallet_transactions`).
		WithArgs(tx.ID, user, core.CategoryID("credits"), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM reward_history`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO reward_history`).
		WithArgs(h.ID, user, int64(7), h.RuleID, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.Commit(context.Background(), core.UnitOfWork{
		States:       []core.UserState{st},
		Wallets:      []core.WalletWrite{{Wallet: w, ExpectedVersion: 0}},
		Transactions: []core.WalletTransaction{tx},
		History:      []core.RewardHistory{h},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Commit_StaleVersionRollsBack(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	w := core.NewWallet("u1", "credits")
	w.Version, w.Balance = 3, 30

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM wallets`).
		WithArgs(core.UserID("u1"), core.CategoryID("credits")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
	mock.ExpectRollback()

	err := store.Commit(context.Background(), core.UnitOfWork{
		Wallets: []core.WalletWrite{{Wallet: w, ExpectedVersion: 2}},
	})
	require.True(t, errors.Is(err, core.ErrConcurrentModification), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Commit_LostUpdateRace(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	w := core.NewWallet("u1", "credits")
	w.Version = 3

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT version FROM wallets`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectExec(`UPDATE wallets SET balance = \$1, version = \$2, updated_at = \$3 WHERE user_id = \$4 AND category = \$5 AND version = \$6`).
		WithArgs(int64(0), int64(3), sqlmock.AnyArg(), core.UserID("u1"), core.CategoryID("credits"), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.Commit(context.Background(), core.UnitOfWork{
		Wallets: []core.WalletWrite{{Wallet: w, ExpectedVersion: 2}},
	})
	require.ErrorIs(t, err, core.ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Commit_WalletInsertErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"other failure", errors.New("disk full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, cleanup := newMockStore(t)
			defer cleanup()

			w := core.NewWallet("u1", "credits")
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT version FROM wallets`).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(`INSERT INTO wallets`).
				WillReturnError(tt.err)
			mock.ExpectRollback()

			err := store.Commit(context.Background(), core.UnitOfWork{
				Wallets: []core.WalletWrite{{Wallet: w}},
			})
			require.Error(t, err)
			require.Equal(t, tt.conflict, errors.Is(err, core.ErrConcurrentModification), "got %v", err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLMock_AppendEvent_ResequencesOnCollision(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ev := core.NewEvent("COMMENTED", "u1", nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM events`).
		WithArgs(ev.UserID).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ev.ID, ev.UserID, int64(4), ev.Type, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) \+ 1 FROM events`).
		WithArgs(ev.UserID).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(5))
	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(ev.ID, ev.UserID, int64(5), ev.Type, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendEvent(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetTransfer_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT doc FROM wallet_transfers`).
		WithArgs(core.TransferID("t1")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTransfer(context.Background(), "t1")
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Migrate(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	for _, table := range []string{"rules", "rule_triggers", "point_categories", "events", "user_states", "wallets", "wallet_transactions", "wallet_transfers", "reward_history"} {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS ` + table + ` `).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultConfig(t *testing.T) {
	cfg := storage.DefaultConfig(storage.DriverSQLite)
	require.Equal(t, storage.DriverSQLite, cfg.Driver)
	require.Equal(t, 1, cfg.MaxOpenConns)
	require.True(t, cfg.AutoMigrate)
	require.Contains(t, storage.DefaultConfig(storage.DriverMySQL).DSN, "parseTime=true")
}
