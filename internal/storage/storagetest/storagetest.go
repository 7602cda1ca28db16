// Package storagetest holds a conformance suite shared by every storage.Store backend.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
	"github.com/mmynk/tripledger/internal/storage"
)

// Run exercises store. The store must be empty.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateTrip generates ID and CreatedAt", func(t *testing.T) {
		trip := &models.Trip{Name: "Lisbon"}
		if err := store.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
		if trip.ID == "" {
			t.Error("Expected trip ID to be generated")
		}
		if trip.CreatedAt == 0 {
			t.Error("Expected CreatedAt to be set")
		}

		got, err := store.GetTrip(ctx, trip.ID)
		if err != nil {
			t.Fatalf("GetTrip failed: %v", err)
		}
		if got.Name != "Lisbon" {
			t.Errorf("Name mismatch: got %s, want Lisbon", got.Name)
		}
	})

	t.Run("GetTrip returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetTrip(ctx, "nonexistent-trip")
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AddParticipant requires existing trip", func(t *testing.T) {
		err := store.AddParticipant(ctx, &models.Participant{TripID: "nonexistent-trip", DisplayName: "Ghost"})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("participant directory", func(t *testing.T) {
		tripID := seedTrip(t, store, "alice", "bob")

		p := &models.Participant{TripID: tripID, DisplayName: "Carol", AccountRef: "acct-7", IsOwner: true}
		if err := store.AddParticipant(ctx, p); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
		if p.ID == "" {
			t.Fatal("Expected participant ID to be generated")
		}

		for _, id := range []string{"alice", "bob", p.ID} {
			ok, err := store.ParticipantExists(ctx, tripID, id)
			if err != nil {
				t.Fatalf("ParticipantExists failed: %v", err)
			}
			if !ok {
				t.Errorf("Expected %s to exist", id)
			}
		}
		ok, err := store.ParticipantExists(ctx, tripID, "mallory")
		if err != nil {
			t.Fatalf("ParticipantExists failed: %v", err)
		}
		if ok {
			t.Error("Expected mallory not to exist")
		}

		list, err := store.ListParticipants(ctx, tripID)
		if err != nil {
			t.Fatalf("ListParticipants failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("Expected 3 participants, got %d", len(list))
		}
		var carol models.Participant
		for _, lp := range list {
			if lp.ID == p.ID {
				carol = lp
			}
		}
		if carol.AccountRef != "acct-7" || !carol.IsOwner || carol.DisplayName != "Carol" {
			t.Errorf("Participant fields not preserved: %+v", carol)
		}
	})

	t.Run("expense round trip", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B", "C")
		e := sampleExpense(tripID, "A", 100, 1_700_000_000, "A", "B", "C")
		e.Shares[1].SettledExternally = true

		createExpense(t, store, e)
		if e.ID == "" {
			t.Fatal("Expected expense ID to be generated")
		}
		if e.CreatedAt == 0 {
			t.Error("Expected CreatedAt to be set")
		}

		got, err := store.GetExpense(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		assertSameExpense(t, got, e)
		if !got.Shares[1].SettledExternally || got.Shares[0].SettledExternally {
			t.Errorf("SettledExternally not preserved: %+v", got.Shares)
		}
	})

	t.Run("GetExpense returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetExpense(ctx, "nonexistent-expense")
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListExpenses orders by timestamp then insertion", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B")
		older := sampleExpense(tripID, "A", 100, 1000, "A", "B")
		tieFirst := sampleExpense(tripID, "B", 200, 2000, "A", "B")
		tieSecond := sampleExpense(tripID, "A", 300, 2000, "A", "B")
		newest := sampleExpense(tripID, "B", 400, 3000, "A", "B")
		for _, e := range []*models.Expense{older, tieFirst, tieSecond, newest} {
			createExpense(t, store, e)
		}

		list, err := store.ListExpenses(ctx, tripID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		want := []string{newest.ID, tieFirst.ID, tieSecond.ID, older.ID}
		if len(list) != len(want) {
			t.Fatalf("Expected %d expenses, got %d", len(want), len(list))
		}
		for i, id := range want {
			if list[i].ID != id {
				t.Errorf("position %d: got %s, want %s", i, list[i].ID, id)
			}
			if len(list[i].Shares) != 2 {
				t.Errorf("position %d: expected 2 shares, got %d", i, len(list[i].Shares))
			}
		}
	})

	t.Run("UpdateExpense replaces shares and keeps position", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B", "C")
		first := sampleExpense(tripID, "A", 100, 5000, "A", "B")
		second := sampleExpense(tripID, "B", 100, 5000, "A", "B")
		createExpense(t, store, first)
		createExpense(t, store, second)

		replacement := sampleExpense(tripID, "C", 90, 5000, "C", "B", "A")
		replacement.ID = first.ID
		replacement.CreatedAt = first.CreatedAt
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			if _, err := tx.GetExpense(ctx, first.ID); err != nil {
				return err
			}
			return tx.UpdateExpense(ctx, replacement)
		})
		if err != nil {
			t.Fatalf("UpdateExpense failed: %v", err)
		}

		got, err := store.GetExpense(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		assertSameExpense(t, got, replacement)

		list, err := store.ListExpenses(ctx, tripID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != first.ID {
			t.Errorf("Expected replaced expense to keep its insertion position, got %v", ids(list))
		}
	})

	t.Run("UpdateExpense on missing expense", func(t *testing.T) {
		tripID := seedTrip(t, store, "A")
		e := sampleExpense(tripID, "A", 100, 1, "A")
		e.ID = "nonexistent-expense"
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.UpdateExpense(ctx, e)
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteExpense removes expense and shares", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B")
		e := sampleExpense(tripID, "A", 100, 1, "A", "B")
		createExpense(t, store, e)

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.DeleteExpense(ctx, e.ID)
		})
		if err != nil {
			t.Fatalf("DeleteExpense failed: %v", err)
		}
		if _, err := store.GetExpense(ctx, e.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		list, err := store.ListExpenses(ctx, tripID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected no expenses, got %d", len(list))
		}

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.DeleteExpense(ctx, e.ID)
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})

	t.Run("failed transaction writes nothing", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B")
		e := sampleExpense(tripID, "A", 100, 1, "A", "B")
		boom := errors.New("boom")

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.CreateExpense(ctx, e); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}

		list, err := store.ListExpenses(ctx, tripID)
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected rollback to leave no expenses, got %d", len(list))
		}
	})

	t.Run("reads see whole expenses during concurrent updates", func(t *testing.T) {
		tripID := seedTrip(t, store, "A", "B", "C")
		e := sampleExpense(tripID, "A", 100, 1000, "A", "B", "C")
		createExpense(t, store, e)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 200; i++ {
				next := sampleExpense(tripID, "A", 100, 1000, "A", "B", "C")
				if i%2 == 0 {
					next = sampleExpense(tripID, "B", 200, 1000, "A", "B")
				}
				next.ID = e.ID
				err := store.WithTx(ctx, func(tx storage.Tx) error {
					if _, err := tx.GetExpense(ctx, e.ID); err != nil {
						return err
					}
					return tx.UpdateExpense(ctx, next)
				})
				if err != nil {
					t.Errorf("UpdateExpense %d failed: %v", i, err)
					return
				}
			}
		}()
		defer func() { <-done }()

		check := func(got *models.Expense) {
			if total := got.ShareTotal(); total != got.Amount {
				t.Fatalf("torn read: shares sum to %d, amount is %d", total, got.Amount)
			}
			if len(got.Shares) != len(got.SplitAmong) {
				t.Fatalf("torn read: %d shares for split %v", len(got.Shares), got.SplitAmong)
			}
		}

		for reads := 0; ; reads++ {
			select {
			case <-done:
				if reads > 0 {
					return
				}
			default:
			}

			list, err := store.ListExpenses(ctx, tripID)
			if err != nil {
				t.Fatalf("ListExpenses failed: %v", err)
			}
			if len(list) != 1 {
				t.Fatalf("Expected 1 expense, got %d", len(list))
			}
			check(&list[0])

			got, err := store.GetExpense(ctx, e.ID)
			if err != nil {
				t.Fatalf("GetExpense failed: %v", err)
			}
			check(got)
		}
	})

	t.Run("RemoveParticipant refuses payers", func(t *testing.T) {
		tripID := seedTrip(t, store, "payer", "sharer", "idle")
		createExpense(t, store, sampleExpense(tripID, "payer", 100, 1, "payer", "sharer"))

		if err := store.RemoveParticipant(ctx, tripID, "payer"); !errors.Is(err, models.ErrParticipantInUse) {
			t.Errorf("Expected ErrParticipantInUse, got %v", err)
		}
		if err := store.RemoveParticipant(ctx, tripID, "idle"); err != nil {
			t.Errorf("RemoveParticipant(idle) failed: %v", err)
		}
		if ok, _ := store.ParticipantExists(ctx, tripID, "idle"); ok {
			t.Error("Expected idle participant to be removed")
		}
		if err := store.RemoveParticipant(ctx, tripID, "idle"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

// seedTrip creates a trip with participants whose IDs are the given names.
func seedTrip(t *testing.T, store storage.Store, participantIDs ...string) string {
	t.Helper()
	ctx := context.Background()
	trip := &models.Trip{Name: "trip"}
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	for _, id := range participantIDs {
		if err := store.AddParticipant(ctx, &models.Participant{ID: id, TripID: trip.ID, DisplayName: id}); err != nil {
			t.Fatalf("AddParticipant(%s) failed: %v", id, err)
		}
	}
	return trip.ID
}

// sampleExpense builds an expense whose leading shares absorb the remainder.
func sampleExpense(tripID, payer string, amount int64, ts int64, split ...string) *models.Expense {
	e := &models.Expense{
		TripID:     tripID,
		Title:      "sample",
		Amount:     money.Amount(amount),
		Currency:   "USD",
		PayerID:    payer,
		Timestamp:  ts,
		SplitAmong: split,
	}
	n := int64(len(split))
	for i, id := range split {
		share := amount / n
		if int64(i) < amount%n {
			share++
		}
		e.Shares = append(e.Shares, models.ExpenseShare{ParticipantID: id, Amount: money.Amount(share)})
	}
	return e
}

func createExpense(t *testing.T, store storage.Store, e *models.Expense) {
	t.Helper()
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.CreateExpense(context.Background(), e)
	})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
}

func assertSameExpense(t *testing.T, got, want *models.Expense) {
	t.Helper()
	if got.ID != want.ID || got.TripID != want.TripID || got.Title != want.Title {
		t.Errorf("identity mismatch: got %s/%s/%s, want %s/%s/%s",
			got.ID, got.TripID, got.Title, want.ID, want.TripID, want.Title)
	}
	if got.Amount != want.Amount || got.Currency != want.Currency || got.PayerID != want.PayerID {
		t.Errorf("payment mismatch: got %d %s by %s, want %d %s by %s",
			got.Amount, got.Currency, got.PayerID, want.Amount, want.Currency, want.PayerID)
	}
	if got.Timestamp != want.Timestamp {
		t.Errorf("Timestamp mismatch: got %d, want %d", got.Timestamp, want.Timestamp)
	}
	if len(got.Shares) != len(want.Shares) {
		t.Fatalf("Shares count mismatch: got %d, want %d", len(got.Shares), len(want.Shares))
	}
	for i := range want.Shares {
		if got.Shares[i].ParticipantID != want.Shares[i].ParticipantID || got.Shares[i].Amount != want.Shares[i].Amount {
			t.Errorf("share %d mismatch: got %+v, want %+v", i, got.Shares[i], want.Shares[i])
		}
		if got.Shares[i].ExpenseID != want.ID {
			t.Errorf("share %d has expense id %s, want %s", i, got.Shares[i].ExpenseID, want.ID)
		}
	}
	if len(got.SplitAmong) != len(want.SplitAmong) {
		t.Fatalf("SplitAmong mismatch: got %v, want %v", got.SplitAmong, want.SplitAmong)
	}
	for i := range want.SplitAmong {
		if got.SplitAmong[i] != want.SplitAmong[i] {
			t.Errorf("SplitAmong[%d] = %s, want %s", i, got.SplitAmong[i], want.SplitAmong[i])
		}
	}
}

func ids(expenses []models.Expense) []string {
	out := make([]string, len(expenses))
	for i, e := range expenses {
		out[i] = e.ID
	}
	return out
}
