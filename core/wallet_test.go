package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credits(negative bool) PointCategory {
	return PointCategory{ID: CategoryCredits, Aggregation: AggregationSum, Spendable: true, NegativeBalanceAllowed: negative}
}

func TestWalletCanAfford(t *testing.T) {
	w := NewWallet("u1", CategoryCredits)
	w.Balance = 50

	assert.True(t, w.CanAfford(-50, credits(false)))
	assert.False(t, w.CanAfford(-51, credits(false)))
	assert.True(t, w.CanAfford(-500, credits(true)))
}

func TestWalletAppendKeepsLedgerInvariant(t *testing.T) {
	w := NewWallet("u1", CategoryCredits)
	for _, amt := range []int64{100, -30, 5} {
		require.NoError(t, w.Append(WalletTransaction{ID: NewTransactionID(), UserID: "u1", Category: CategoryCredits, Amount: amt, Timestamp: time.Now()}))
	}
	assert.Equal(t, int64(75), w.Balance)
	assert.Equal(t, int64(3), w.Version)
	require.NoError(t, w.Verify())
}

func TestWalletAppendRejectsForeignTransaction(t *testing.T) {
	w := NewWallet("u1", CategoryCredits)
	err := w.Append(WalletTransaction{UserID: "u2", Category: CategoryCredits, Amount: 1})
	require.Error(t, err)
	assert.Zero(t, w.Balance)
}

func TestWalletVerifyDetectsDrift(t *testing.T) {
	w := NewWallet("u1", CategoryCredits)
	w.Balance = 10
	require.Error(t, w.Verify())
}

func TestTransferTransitionsAreTerminal(t *testing.T) {
	tr := NewTransfer("u1", "u2", CategoryCredits, 30)
	assert.Equal(t, TransferPending, tr.Status)

	tr.Complete(time.Now())
	assert.Equal(t, TransferCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)

	tr.Fail("late")
	assert.Equal(t, TransferCompleted, tr.Status)
	assert.Empty(t, tr.FailureReason)
}

func TestPointCategoryValidate(t *testing.T) {
	require.NoError(t, credits(false).Validate())

	bad := PointCategory{ID: "xp", Aggregation: AggregationMax, Spendable: true}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidCategory))

	unknown := PointCategory{ID: "xp", Aggregation: "median"}
	assert.True(t, errors.Is(unknown.Validate(), ErrInvalidCategory))
}
