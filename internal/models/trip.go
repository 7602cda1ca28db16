package models

// Trip groups the participants that share expenses.
type Trip struct {
	// ID is the unique identifier for the trip (UUID format).
	ID string

	// Name is the display name of the trip (e.g., "Lisbon 2026").
	Name string

	// CreatedAt is the Unix timestamp when the trip was created.
	CreatedAt int64
}
