package models

// Participant is one person inside a trip.
// Participants are created before any expense references them.
type Participant struct {
	// ID is unique within the trip (UUID format unless supplied by the caller).
	ID string

	// TripID is the trip this participant belongs to.
	TripID string

	// DisplayName is the human-readable name.
	DisplayName string

	// AccountRef optionally links the participant to an account in another system.
	// The ledger never interprets it.
	AccountRef string

	// IsOwner marks the trip owner. Informational only; owners get no special ledger treatment.
	IsOwner bool
}
