// Package memory provides a concurrency-safe in-memory storage.Store,
// useful for tests and for running the server without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type storedExpense struct {
	expense models.Expense
	seq     int64
}

// Store keeps trips, participants and expenses in maps guarded by one mutex.
// Transactions hold the lock for their whole duration and stage writes until commit.
type Store struct {
	mu           sync.RWMutex
	trips        map[string]models.Trip
	participants map[string]map[string]models.Participant
	expenses     map[string]*storedExpense
	nextSeq      int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		trips:        make(map[string]models.Trip),
		participants: make(map[string]map[string]models.Participant),
		expenses:     make(map[string]*storedExpense),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreateTrip(_ context.Context, trip *models.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}
	if trip.CreatedAt == 0 {
		trip.CreatedAt = time.Now().Unix()
	}
	if _, exists := s.trips[trip.ID]; exists {
		return fmt.Errorf("trip %s already exists", trip.ID)
	}
	s.trips[trip.ID] = *trip
	s.participants[trip.ID] = make(map[string]models.Participant)
	return nil
}

func (s *Store) GetTrip(_ context.Context, tripID string) (*models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trip, ok := s.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("trip %s: %w", tripID, models.ErrNotFound)
	}
	return &trip, nil
}

func (s *Store) AddParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.participants[p.TripID]
	if !ok {
		return fmt.Errorf("trip %s: %w", p.TripID, models.ErrNotFound)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, exists := members[p.ID]; exists {
		return fmt.Errorf("participant %s already exists in trip %s", p.ID, p.TripID)
	}
	members[p.ID] = *p
	return nil
}

func (s *Store) RemoveParticipant(_ context.Context, tripID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.participants[tripID]
	if !ok {
		return fmt.Errorf("trip %s: %w", tripID, models.ErrNotFound)
	}
	if _, ok := members[participantID]; !ok {
		return fmt.Errorf("participant %s: %w", participantID, models.ErrNotFound)
	}
	for _, se := range s.expenses {
		if se.expense.TripID == tripID && se.expense.PayerID == participantID {
			return fmt.Errorf("participant %s paid for expense %s: %w", participantID, se.expense.ID, models.ErrParticipantInUse)
		}
	}
	delete(members, participantID)
	return nil
}

func (s *Store) ParticipantExists(_ context.Context, tripID, participantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.participants[tripID][participantID]
	return ok, nil
}

func (s *Store) ListParticipants(_ context.Context, tripID string) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Participant
	for _, p := range s.participants[tripID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, expenseID string) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	se, ok := s.expenses[expenseID]
	if !ok {
		return nil, fmt.Errorf("expense %s: %w", expenseID, models.ErrNotFound)
	}
	e := clone(se.expense)
	return &e, nil
}

func (s *Store) ListExpenses(_ context.Context, tripID string) ([]models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*storedExpense
	for _, se := range s.expenses {
		if se.expense.TripID == tripID {
			matched = append(matched, se)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].expense.Timestamp != matched[j].expense.Timestamp {
			return matched[i].expense.Timestamp > matched[j].expense.Timestamp
		}
		return matched[i].seq < matched[j].seq
	})

	out := make([]models.Expense, len(matched))
	for i, se := range matched {
		out[i] = clone(se.expense)
	}
	return out, nil
}

// WithTx runs fn while holding the store lock. Writes made through the
// transaction are applied only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, staged: make(map[string]*models.Expense)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, id := range tx.order {
		e := tx.staged[id]
		if e == nil {
			delete(s.expenses, id)
			continue
		}
		if existing, ok := s.expenses[id]; ok {
			existing.expense = clone(*e)
			continue
		}
		s.nextSeq++
		s.expenses[id] = &storedExpense{expense: clone(*e), seq: s.nextSeq}
	}
	return nil
}

// memTx stages writes; a nil entry marks a deletion.
type memTx struct {
	store  *Store
	staged map[string]*models.Expense
	order  []string
}

func (t *memTx) lookup(expenseID string) (*models.Expense, bool) {
	if e, ok := t.staged[expenseID]; ok {
		return e, e != nil
	}
	if se, ok := t.store.expenses[expenseID]; ok {
		return &se.expense, true
	}
	return nil, false
}

func (t *memTx) stage(expenseID string, e *models.Expense) {
	if _, seen := t.staged[expenseID]; !seen {
		t.order = append(t.order, expenseID)
	}
	t.staged[expenseID] = e
}

func (t *memTx) GetExpense(_ context.Context, expenseID string) (*models.Expense, error) {
	e, ok := t.lookup(expenseID)
	if !ok {
		return nil, fmt.Errorf("expense %s: %w", expenseID, models.ErrNotFound)
	}
	c := clone(*e)
	return &c, nil
}

func (t *memTx) CreateExpense(_ context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if _, exists := t.lookup(expense.ID); exists {
		return fmt.Errorf("expense %s already exists", expense.ID)
	}
	if expense.CreatedAt == 0 {
		expense.CreatedAt = time.Now().Unix()
	}
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = expense.CreatedAt
	}
	stampShares(expense)
	c := clone(*expense)
	t.stage(expense.ID, &c)
	return nil
}

func (t *memTx) UpdateExpense(_ context.Context, expense *models.Expense) error {
	current, exists := t.lookup(expense.ID)
	if !exists {
		return fmt.Errorf("expense %s: %w", expense.ID, models.ErrNotFound)
	}
	if expense.UpdatedAt == 0 {
		expense.UpdatedAt = time.Now().Unix()
	}
	expense.TripID = current.TripID
	expense.CreatedAt = current.CreatedAt
	stampShares(expense)
	c := clone(*expense)
	t.stage(expense.ID, &c)
	return nil
}

func (t *memTx) DeleteExpense(_ context.Context, expenseID string) error {
	if _, exists := t.lookup(expenseID); !exists {
		return fmt.Errorf("expense %s: %w", expenseID, models.ErrNotFound)
	}
	t.stage(expenseID, nil)
	return nil
}

func stampShares(e *models.Expense) {
	for i := range e.Shares {
		e.Shares[i].ExpenseID = e.ID
	}
}

// clone copies the slices so callers never share memory with the store.
func clone(e models.Expense) models.Expense {
	e.SplitAmong = append([]string(nil), e.SplitAmong...)
	e.Shares = append([]models.ExpenseShare(nil), e.Shares...)
	return e
}
