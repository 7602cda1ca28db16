package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmynk/tripledger/internal/models"
)

func (s *Store) CreateTrip(ctx context.Context, trip *models.Trip) error {
	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	if trip.CreatedAt == 0 {
		trip.CreatedAt = time.Now().Unix()
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO trips (id, name, created_at) VALUES ($1, $2, $3)`,
		trip.ID, trip.Name, trip.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *Store) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	trip := &models.Trip{}
	err := s.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM trips WHERE id = $1`, tripID,
	).Scan(&trip.ID, &trip.Name, &trip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("trip %s: %w", tripID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return trip, nil
}

func (s *Store) AddParticipant(ctx context.Context, p *models.Participant) error {
	if _, err := s.GetTrip(ctx, p.TripID); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	var accountRef *string
	if p.AccountRef != "" {
		accountRef = &p.AccountRef
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO participants (trip_id, id, display_name, account_ref, is_owner)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.TripID, p.ID, p.DisplayName, accountRef, p.IsOwner,
	); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, tripID, participantID string) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Hold the participant row until the payer check commits.
	var id string
	err = tx.QueryRow(ctx,
		`SELECT id FROM participants WHERE trip_id = $1 AND id = $2 FOR UPDATE`,
		tripID, participantID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("participant %s: %w", participantID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock participant: %w", err)
	}

	var paid int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM expenses WHERE trip_id = $1 AND payer_id = $2`,
		tripID, participantID,
	).Scan(&paid); err != nil {
		return fmt.Errorf("count payer references: %w", err)
	}
	if paid > 0 {
		return fmt.Errorf("participant %s paid for %d expenses: %w", participantID, paid, models.ErrParticipantInUse)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM participants WHERE trip_id = $1 AND id = $2`, tripID, participantID,
	); err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ParticipantExists(ctx context.Context, tripID, participantID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE trip_id = $1 AND id = $2)`,
		tripID, participantID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (s *Store) ListParticipants(ctx context.Context, tripID string) ([]models.Participant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT trip_id, id, display_name, account_ref, is_owner
		 FROM participants WHERE trip_id = $1 ORDER BY display_name, id`,
		tripID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var accountRef *string
		if err := rows.Scan(&p.TripID, &p.ID, &p.DisplayName, &accountRef, &p.IsOwner); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if accountRef != nil {
			p.AccountRef = *accountRef
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}
