package core

import "strings"

// SpendingKind tags a spending variant.
type SpendingKind string

const (
	SpendingTransaction SpendingKind = "transaction"
	SpendingTransfer    SpendingKind = "transfer"
)

// SpendingMeta carries the fields shared by every spending variant.
type SpendingMeta struct {
	ID          string
	Category    CategoryID
	Description string
}

// Spending is a rule-driven wallet debit or transfer. Like Reward it is a
// closed set dispatched through a visitor.
type Spending interface {
	Kind() SpendingKind
	Meta() SpendingMeta
	IsValid() bool
	Accept(v SpendingVisitor) Outcome
	isSpending()
}

// SpendingVisitor handles each spending variant.
type SpendingVisitor interface {
	VisitTransaction(TransactionSpending) Outcome
	VisitTransfer(TransferSpending) Outcome
}

// TransactionSpending debits the acting user's wallet.
// A positive Amount is used as-is; otherwise the amount is read from the
// trigger event attribute named AmountAttribute.
type TransactionSpending struct {
	SpendingMeta
	Amount          int64
	AmountAttribute string
}

// TransferSpending moves points between two users' wallets.
// The source defaults to the acting user unless SourceAttribute names an
// event attribute. The destination is Destination or the attribute named
// DestinationAttribute.
type TransferSpending struct {
	SpendingMeta
	Amount               int64
	AmountAttribute      string
	SourceAttribute      string
	Destination          UserID
	DestinationAttribute string
}

func (s TransactionSpending) Kind() SpendingKind { return SpendingTransaction }
func (s TransferSpending) Kind() SpendingKind    { return SpendingTransfer }

func (s TransactionSpending) Meta() SpendingMeta { return s.SpendingMeta }
func (s TransferSpending) Meta() SpendingMeta    { return s.SpendingMeta }

func (s TransactionSpending) IsValid() bool {
	return strings.TrimSpace(string(s.Category)) != ""
}

func (s TransferSpending) IsValid() bool {
	return strings.TrimSpace(string(s.Category)) != ""
}

func (TransactionSpending) isSpending() {}
func (TransferSpending) isSpending()    {}

func (s TransactionSpending) Accept(v SpendingVisitor) Outcome { return v.VisitTransaction(s) }
func (s TransferSpending) Accept(v SpendingVisitor) Outcome    { return v.VisitTransfer(s) }
