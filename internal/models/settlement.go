package models

import "github.com/mmynk/tripledger/internal/money"

// SettlementTransaction is a suggested payment between two participants.
// Plans are derived from balances on every read and are never persisted.
type SettlementTransaction struct {
	// From is the participant who pays (the debtor).
	From string

	// To is the participant who receives (the creditor).
	To string

	// Amount is always positive, in minor units of Currency.
	Amount money.Amount

	// Currency is the ledger the payment settles.
	Currency string
}
