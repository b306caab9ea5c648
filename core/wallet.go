package core

import (
	"fmt"
	"time"
)

// Aggregation is the category-level rule for combining point events into a balance.
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationMax   Aggregation = "max"
	AggregationMin   Aggregation = "min"
	AggregationAvg   Aggregation = "avg"
	AggregationCount Aggregation = "count"
)

// Valid reports whether a is a known aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationSum, AggregationMax, AggregationMin, AggregationAvg, AggregationCount:
		return true
	}
	return false
}

// PointCategory is static per-category metadata, read-only during evaluation.
type PointCategory struct {
	ID                     CategoryID  `json:"id"`
	Name                   string      `json:"name"`
	Description            string      `json:"description,omitempty"`
	Aggregation            Aggregation `json:"aggregation"`
	Spendable              bool        `json:"spendable"`
	NegativeBalanceAllowed bool        `json:"negative_balance_allowed"`
}

// Validate checks category settings. Wallet-backed categories use sum semantics.
func (c PointCategory) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidCategory)
	}
	if !c.Aggregation.Valid() {
		return fmt.Errorf("%w %q: unknown aggregation %q", ErrInvalidCategory, c.ID, c.Aggregation)
	}
	if c.Spendable && c.Aggregation != AggregationSum {
		return fmt.Errorf("%w %q: spendable categories must use sum aggregation", ErrInvalidCategory, c.ID)
	}
	return nil
}

// TransactionType classifies a wallet transaction.
type TransactionType string

const (
	TxEarned      TransactionType = "earned"
	TxSpent       TransactionType = "spent"
	TxTransferIn  TransactionType = "transfer_in"
	TxTransferOut TransactionType = "transfer_out"
)

// WalletTransaction is an immutable signed ledger entry; negative amounts are debits.
type WalletTransaction struct {
	ID          TransactionID   `json:"id"`
	UserID      UserID          `json:"user_id"`
	Category    CategoryID      `json:"category"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description,omitempty"`
	// ReferenceID correlates paired transfer legs and points at the originating record.
	ReferenceID string         `json:"reference_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Wallet is the per-(user, category) ledger. Balance is the fold of all
// transaction amounts; Version counts transactions and serves as the
// optimistic-concurrency token for commits.
type Wallet struct {
	UserID       UserID              `json:"user_id"`
	Category     CategoryID          `json:"category"`
	Balance      int64               `json:"balance"`
	Version      int64               `json:"version"`
	Transactions []WalletTransaction `json:"transactions"`
	Updated      time.Time           `json:"updated"`
}

// NewWallet returns an empty wallet.
func NewWallet(user UserID, category CategoryID) Wallet {
	return Wallet{UserID: user, Category: category, Updated: time.Now().UTC()}
}

// Clone returns a copy that does not share the transaction slice.
func (w Wallet) Clone() Wallet {
	cp := w
	cp.Transactions = append([]WalletTransaction(nil), w.Transactions...)
	return cp
}

// CanAfford reports whether applying delta keeps the balance within the
// category's limits.
func (w Wallet) CanAfford(delta int64, category PointCategory) bool {
	if category.NegativeBalanceAllowed {
		return true
	}
	next, err := AddSafe(w.Balance, delta)
	if err != nil {
		return false
	}
	return next >= 0
}

// Append records tx and moves the balance by its amount.
func (w *Wallet) Append(tx WalletTransaction) error {
	if tx.UserID != w.UserID || tx.Category != w.Category {
		return fmt.Errorf("transaction %s does not belong to wallet %s/%s", tx.ID, w.UserID, w.Category)
	}
	next, err := AddSafe(w.Balance, tx.Amount)
	if err != nil {
		return err
	}
	w.Balance = next
	w.Version++
	w.Transactions = append(w.Transactions, tx)
	w.Updated = tx.Timestamp
	return nil
}

// Verify checks that the balance equals the sum of transaction amounts.
func (w Wallet) Verify() error {
	var sum int64
	for _, tx := range w.Transactions {
		sum += tx.Amount
	}
	if sum != w.Balance {
		return fmt.Errorf("wallet %s/%s balance %d does not match ledger sum %d", w.UserID, w.Category, w.Balance, sum)
	}
	return nil
}

// TransferStatus tracks a transfer from pending to a terminal state.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// WalletTransfer records a peer-to-peer transfer. Failed transfers are
// retained for audit but never have transactions.
type WalletTransfer struct {
	ID            TransferID     `json:"id"`
	FromUserID    UserID         `json:"from_user_id"`
	ToUserID      UserID         `json:"to_user_id"`
	Category      CategoryID     `json:"category"`
	Amount        int64          `json:"amount"`
	Status        TransferStatus `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// NewTransfer returns a pending transfer.
func NewTransfer(from, to UserID, category CategoryID, amount int64) WalletTransfer {
	return WalletTransfer{
		ID:         NewTransferID(),
		FromUserID: from,
		ToUserID:   to,
		Category:   category,
		Amount:     amount,
		Status:     TransferPending,
		Timestamp:  time.Now().UTC(),
	}
}

// Complete moves a pending transfer to completed.
func (t *WalletTransfer) Complete(at time.Time) {
	if t.Status != TransferPending {
		return
	}
	t.Status = TransferCompleted
	t.CompletedAt = &at
}

// Fail moves a pending transfer to failed.
func (t *WalletTransfer) Fail(reason string) {
	if t.Status != TransferPending {
		return
	}
	t.Status = TransferFailed
	t.FailureReason = reason
}
