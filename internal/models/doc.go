// Package models defines the core domain models for the trip ledger.
//
// # Models
//
//   - Trip: a group of participants sharing costs
//   - Participant: one person inside a trip
//   - Expense: a single payment event, split among participants
//   - ExpenseShare: one participant's portion of an expense
//   - SettlementTransaction: a suggested payment that reduces balances
//
// # Design Principles
//
//  1. Money is always an integer count of minor units (money.Amount).
//  2. Relationships use ID strings, never pointers.
//  3. Balances and settlement plans are derived on read and never stored.
package models
