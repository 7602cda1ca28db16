package service

import (
	"context"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/storage"
)

// TripService implements the Connect TripService. It hosts the participant
// directory the ledger validates against.
type TripService struct {
	trips storage.TripStore
}

// NewTripService creates a new TripService with the given storage backend.
func NewTripService(trips storage.TripStore) *TripService {
	return &TripService{trips: trips}
}

// CreateTrip creates a trip, optionally with an initial set of participants.
func (s *TripService) CreateTrip(ctx context.Context, req *connect.Request[CreateTripRequest]) (*connect.Response[CreateTripResponse], error) {
	slog.Info("CreateTrip request received",
		"name", req.Msg.Name,
		"participants_count", len(req.Msg.Participants),
	)

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, invalidArgument("name is required")
	}
	for _, p := range req.Msg.Participants {
		if strings.TrimSpace(p.DisplayName) == "" {
			return nil, invalidArgument("participant displayName is required")
		}
	}

	trip := &models.Trip{Name: name}
	if err := s.trips.CreateTrip(ctx, trip); err != nil {
		slog.Error("CreateTrip failed", "error", err)
		return nil, toConnectError(err)
	}

	participants := make([]Participant, 0, len(req.Msg.Participants))
	for _, in := range req.Msg.Participants {
		p := &models.Participant{
			ID:          in.ID,
			TripID:      trip.ID,
			DisplayName: strings.TrimSpace(in.DisplayName),
			AccountRef:  in.AccountRef,
			IsOwner:     in.IsOwner,
		}
		if err := s.trips.AddParticipant(ctx, p); err != nil {
			slog.Error("CreateTrip failed to add participant", "trip_id", trip.ID, "error", err)
			return nil, toConnectError(err)
		}
		participants = append(participants, participantToMessage(*p))
	}

	slog.Info("Trip created", "trip_id", trip.ID)
	return connect.NewResponse(&CreateTripResponse{Trip: tripToMessage(trip), Participants: participants}), nil
}

// GetTrip retrieves a trip with its participants.
func (s *TripService) GetTrip(ctx context.Context, req *connect.Request[GetTripRequest]) (*connect.Response[GetTripResponse], error) {
	trip, err := s.trips.GetTrip(ctx, req.Msg.TripID)
	if err != nil {
		return nil, toConnectError(err)
	}
	participants, err := s.trips.ListParticipants(ctx, trip.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetTripResponse{
		Trip:         tripToMessage(trip),
		Participants: participantsToMessage(participants),
	}), nil
}

// AddParticipant adds one participant to a trip.
func (s *TripService) AddParticipant(ctx context.Context, req *connect.Request[AddParticipantRequest]) (*connect.Response[AddParticipantResponse], error) {
	slog.Info("AddParticipant request received", "trip_id", req.Msg.TripID, "display_name", req.Msg.DisplayName)

	name := strings.TrimSpace(req.Msg.DisplayName)
	if name == "" {
		return nil, invalidArgument("displayName is required")
	}

	p := &models.Participant{
		ID:          req.Msg.ID,
		TripID:      req.Msg.TripID,
		DisplayName: name,
		AccountRef:  req.Msg.AccountRef,
		IsOwner:     req.Msg.IsOwner,
	}
	if err := s.trips.AddParticipant(ctx, p); err != nil {
		return nil, toConnectError(err)
	}

	msg := participantToMessage(*p)
	return connect.NewResponse(&AddParticipantResponse{Participant: &msg}), nil
}

// RemoveParticipant removes a participant who has not paid for any expense.
func (s *TripService) RemoveParticipant(ctx context.Context, req *connect.Request[RemoveParticipantRequest]) (*connect.Response[RemoveParticipantResponse], error) {
	slog.Info("RemoveParticipant request received", "trip_id", req.Msg.TripID, "participant_id", req.Msg.ParticipantID)

	if err := s.trips.RemoveParticipant(ctx, req.Msg.TripID, req.Msg.ParticipantID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RemoveParticipantResponse{}), nil
}

// ListParticipants returns every participant of a trip.
func (s *TripService) ListParticipants(ctx context.Context, req *connect.Request[ListParticipantsRequest]) (*connect.Response[ListParticipantsResponse], error) {
	if _, err := s.trips.GetTrip(ctx, req.Msg.TripID); err != nil {
		return nil, toConnectError(err)
	}
	participants, err := s.trips.ListParticipants(ctx, req.Msg.TripID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListParticipantsResponse{Participants: participantsToMessage(participants)}), nil
}
