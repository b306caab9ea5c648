package core

import "github.com/google/uuid"

// Identifier types for records referenced across the engine.
type (
	EventID       string
	RuleID        string
	TransactionID string
	TransferID    string
	HistoryID     string
)

// newID generates a time-ordered UUIDv7 string.
// Panics on clock regression (uuid.Must).
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func NewEventID() EventID             { return EventID(newID()) }
func NewTransactionID() TransactionID { return TransactionID(newID()) }
func NewTransferID() TransferID       { return TransferID(newID()) }
func NewHistoryID() HistoryID         { return HistoryID(newID()) }
