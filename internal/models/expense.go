package models

import "github.com/mmynk/tripledger/internal/money"

// Expense is one payment event inside a trip.
// Invariant: the share amounts sum exactly to Amount.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	// TripID is the trip the expense belongs to.
	TripID string

	// Title is the human-readable name. Generated from SplitAmong when empty.
	Title string

	// Amount is the total paid, in minor units of Currency. Always positive.
	Amount money.Amount

	// Currency is an upper-case ISO 4217 style code. Each currency is an
	// independent ledger; no conversion happens.
	Currency string

	// PayerID is the participant who paid.
	PayerID string

	// Timestamp is the Unix time the expense happened. Used for listing order only.
	Timestamp int64

	// SplitAmong is the ordered list of participants sharing the cost.
	// Order matters: leftover minor units go to the first participants.
	SplitAmong []string

	// Shares are the materialized per-participant portions, in SplitAmong order.
	Shares []ExpenseShare

	// CreatedAt is the Unix timestamp when the expense was first recorded.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last full replacement.
	UpdatedAt int64
}

// ExpenseShare is one participant's portion of one expense.
type ExpenseShare struct {
	ExpenseID     string
	ParticipantID string
	Amount        money.Amount

	// SettledExternally is carried as metadata only.
	// Balance computation ignores it.
	SettledExternally bool
}

// ShareTotal sums the share amounts.
func (e *Expense) ShareTotal() money.Amount {
	var total money.Amount
	for _, s := range e.Shares {
		total += s.Amount
	}
	return total
}
