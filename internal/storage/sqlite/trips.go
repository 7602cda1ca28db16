package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tripledger/internal/models"
)

// CreateTrip persists a new trip to the database.
func (s *SQLiteStore) CreateTrip(ctx context.Context, trip *models.Trip) error {
	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	if trip.CreatedAt == 0 {
		trip.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO trips (id, name, created_at) VALUES (?, ?, ?)",
		trip.ID, trip.Name, trip.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

// GetTrip retrieves a trip by ID.
func (s *SQLiteStore) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	trip := &models.Trip{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM trips WHERE id = ?",
		tripID,
	).Scan(&trip.ID, &trip.Name, &trip.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", tripID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return trip, nil
}

// AddParticipant inserts a participant into an existing trip.
func (s *SQLiteStore) AddParticipant(ctx context.Context, p *models.Participant) error {
	if _, err := s.GetTrip(ctx, p.TripID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	var accountRef any
	if p.AccountRef != "" {
		accountRef = p.AccountRef
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (trip_id, id, display_name, account_ref, is_owner)
		 VALUES (?, ?, ?, ?, ?)`,
		p.TripID, p.ID, p.DisplayName, accountRef, p.IsOwner,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// RemoveParticipant deletes a participant who never paid for an expense.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, tripID, participantID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var paid int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM expenses WHERE trip_id = ? AND payer_id = ?",
		tripID, participantID,
	).Scan(&paid)
	if err != nil {
		return fmt.Errorf("failed to count payer references: %w", err)
	}
	if paid > 0 {
		return fmt.Errorf("participant %s paid for %d expenses: %w", participantID, paid, models.ErrParticipantInUse)
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM participants WHERE trip_id = ? AND id = ?",
		tripID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	} else if n == 0 {
		return fmt.Errorf("participant %s: %w", participantID, models.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ParticipantExists reports whether the participant belongs to the trip.
func (s *SQLiteStore) ParticipantExists(ctx context.Context, tripID, participantID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM participants WHERE trip_id = ? AND id = ?",
		tripID, participantID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check participant existence: %w", err)
	}
	return true, nil
}

// ListParticipants returns the participants of a trip ordered by display name.
func (s *SQLiteStore) ListParticipants(ctx context.Context, tripID string) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT trip_id, id, display_name, account_ref, is_owner
		 FROM participants WHERE trip_id = ? ORDER BY display_name, id`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var accountRef sql.NullString
		if err := rows.Scan(&p.TripID, &p.ID, &p.DisplayName, &accountRef, &p.IsOwner); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if accountRef.Valid {
			p.AccountRef = accountRef.String
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}
