package core

import "errors"

// Configuration errors. Returned while loading rules and categories, never by the engine.
var (
	// ErrInvalidRule indicates a rule definition that cannot be evaluated.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidCategory indicates a point category definition with inconsistent settings.
	ErrInvalidCategory = errors.New("invalid point category")
)

// Business failures. The engine turns these into unsuccessful outcomes and audit records.
var (
	// ErrInsufficientBalance indicates a debit or transfer the source wallet cannot afford.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCategoryNotSpendable indicates a spending against a category that is not spendable.
	ErrCategoryNotSpendable = errors.New("point category is not spendable")

	// ErrUnknownCategory indicates a spending against a category that is not registered.
	ErrUnknownCategory = errors.New("unknown point category")

	// ErrMissingAttribute indicates the trigger event lacks an attribute a spending needs.
	ErrMissingAttribute = errors.New("missing event attribute")

	// ErrInvalidAmount indicates a resolved amount that is zero, negative or not a number.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownPenaltyType indicates a penalty whose kind has no applier.
	ErrUnknownPenaltyType = errors.New("unknown penalty type")

	// ErrSelfTransfer indicates a transfer whose source and destination are the same user.
	ErrSelfTransfer = errors.New("transfer source and destination are the same user")
)

// Storage errors.
var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification indicates a wallet changed between read and commit.
	ErrConcurrentModification = errors.New("concurrent modification")
)
