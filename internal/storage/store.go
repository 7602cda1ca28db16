// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/mmynk/tripledger/internal/models"
)

// ParticipantDirectory answers membership questions about a trip.
type ParticipantDirectory interface {
	// ParticipantExists reports whether participantID belongs to tripID.
	ParticipantExists(ctx context.Context, tripID, participantID string) (bool, error)

	// ListParticipants returns every participant of the trip.
	ListParticipants(ctx context.Context, tripID string) ([]models.Participant, error)
}

// TripStore manages trips and their participants.
type TripStore interface {
	ParticipantDirectory

	// CreateTrip persists a new trip. ID and CreatedAt are filled in when empty.
	CreateTrip(ctx context.Context, trip *models.Trip) error

	// GetTrip returns models.ErrNotFound when the trip does not exist.
	GetTrip(ctx context.Context, tripID string) (*models.Trip, error)

	// AddParticipant persists a participant. ID is generated when empty.
	// Returns models.ErrNotFound when the trip does not exist.
	AddParticipant(ctx context.Context, p *models.Participant) error

	// RemoveParticipant deletes a participant. It fails with
	// models.ErrParticipantInUse if the participant paid for any expense.
	RemoveParticipant(ctx context.Context, tripID, participantID string) error
}

// Tx is the view of expense storage available inside a transaction.
// Every operation either fully commits with the transaction or not at all.
type Tx interface {
	// GetExpense returns models.ErrNotFound when the expense does not exist.
	// Backends that support row locks lock the expense until the transaction ends.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)

	// CreateExpense inserts the expense and its shares.
	CreateExpense(ctx context.Context, expense *models.Expense) error

	// UpdateExpense replaces the expense row and all of its shares.
	// The insertion order used for listing is preserved.
	UpdateExpense(ctx context.Context, expense *models.Expense) error

	// DeleteExpense removes the expense and its shares.
	// Returns models.ErrNotFound when the expense does not exist.
	DeleteExpense(ctx context.Context, expenseID string) error
}

// Store defines the interface for trip and expense storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, memory)
// without changing the ledger layer.
type Store interface {
	TripStore

	// WithTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetExpense retrieves an expense with its shares.
	GetExpense(ctx context.Context, expenseID string) (*models.Expense, error)

	// ListExpenses returns the trip's expenses ordered by timestamp descending,
	// ties broken by insertion order.
	ListExpenses(ctx context.Context, tripID string) ([]models.Expense, error)

	// Close releases any resources held by the store.
	Close() error
}
