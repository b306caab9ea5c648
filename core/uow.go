package core

// WalletWrite is a wallet to persist together with the version it was read at.
// A store rejects the write with ErrConcurrentModification when the stored
// version no longer equals ExpectedVersion.
type WalletWrite struct {
	Wallet          Wallet
	ExpectedVersion int64
}

// UnitOfWork groups every mutation produced by one reward or spending
// attempt. Stores apply it all-or-nothing.
type UnitOfWork struct {
	States  []UserState
	Wallets []WalletWrite
	// Transactions holds only the entries appended by this attempt.
	Transactions []WalletTransaction
	Transfer     *WalletTransfer
	History      []RewardHistory
}

// Empty reports whether the unit carries nothing to write.
func (u UnitOfWork) Empty() bool {
	return len(u.States) == 0 && len(u.Wallets) == 0 && len(u.Transactions) == 0 &&
		u.Transfer == nil && len(u.History) == 0
}

// NewTransactions returns the transactions in u that belong to the wallet.
func (u UnitOfWork) NewTransactions(user UserID, category CategoryID) []WalletTransaction {
	var out []WalletTransaction
	for _, tx := range u.Transactions {
		if tx.UserID == user && tx.Category == category {
			out = append(out, tx)
		}
	}
	return out
}
