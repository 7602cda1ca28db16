package models

import (
	"errors"

	"github.com/mmynk/tripledger/internal/money"
)

// Error kinds returned by the ledger. Callers match them with errors.Is.
var (
	// ErrInvalidAmount reports a non-positive, non-finite or imprecise amount.
	ErrInvalidAmount = money.ErrInvalidAmount

	// ErrInvalidCurrency reports a malformed currency code.
	ErrInvalidCurrency = money.ErrInvalidCurrency

	// ErrInvalidSplit reports an empty or duplicated split set.
	ErrInvalidSplit = errors.New("invalid split")

	// ErrUnknownParticipant reports a payer or sharer that is not part of the trip.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrNotFound reports an operation on an expense or trip that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrParticipantInUse reports an attempt to remove a participant who paid for an expense.
	ErrParticipantInUse = errors.New("participant is referenced by expenses")

	// ErrLedgerInconsistency reports a broken zero-sum or share-sum invariant.
	// It always indicates a bug or corrupted state, never bad user input.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
