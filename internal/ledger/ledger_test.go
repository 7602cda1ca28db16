package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmynk/tripledger/internal/calculator"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
	"github.com/mmynk/tripledger/internal/storage"
	"github.com/mmynk/tripledger/internal/storage/memory"
	"github.com/mmynk/tripledger/internal/storage/sqlite"
)

// newTestLedger returns a ledger over a fresh store holding one trip with
// participants A, B and C.
func newTestLedger(t *testing.T, store storage.Store) (*Ledger, string) {
	t.Helper()
	ctx := context.Background()

	trip := &models.Trip{Name: "Road trip"}
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	for _, p := range []struct{ id, name string }{{"A", "Alice"}, {"B", "Bob"}, {"C", "Carol"}} {
		if err := store.AddParticipant(ctx, &models.Participant{ID: p.id, TripID: trip.ID, DisplayName: p.name}); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
	}

	l := New(store, nil)
	l.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return l, trip.ID
}

func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	sq, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]storage.Store{"memory": memory.New(), "sqlite": sq}
}

func TestAddExpense(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, tripID := newTestLedger(t, store)
			ctx := context.Background()

			e, err := l.AddExpense(ctx, ExpenseInput{
				TripID:     tripID,
				Amount:     100,
				Currency:   "usd",
				PayerID:    "A",
				SplitAmong: []string{"A", "B", "C"},
			})
			if err != nil {
				t.Fatalf("AddExpense failed: %v", err)
			}
			if e.ID == "" {
				t.Error("Expected expense ID to be generated")
			}
			if e.Currency != "USD" {
				t.Errorf("Currency = %s, want USD", e.Currency)
			}
			if e.Title != "Split with Alice, Bob, Carol" {
				t.Errorf("Title = %q", e.Title)
			}
			if e.Timestamp != 1_700_000_000 {
				t.Errorf("Timestamp = %d, want default of now", e.Timestamp)
			}

			want := []money.Amount{34, 33, 33}
			for i, s := range e.Shares {
				if s.Amount != want[i] {
					t.Errorf("share %d = %d, want %d", i, s.Amount, want[i])
				}
			}

			stored, err := l.GetExpense(ctx, e.ID)
			if err != nil {
				t.Fatalf("GetExpense failed: %v", err)
			}
			if stored.ShareTotal() != stored.Amount {
				t.Errorf("stored shares sum to %d, amount %d", stored.ShareTotal(), stored.Amount)
			}
		})
	}
}

func TestAddExpenseRejectsWithoutWriting(t *testing.T) {
	tests := []struct {
		name    string
		input   ExpenseInput
		wantErr error
	}{
		{
			name:    "zero amount",
			input:   ExpenseInput{Amount: 0, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}},
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			input:   ExpenseInput{Amount: -5, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}},
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:    "empty split",
			input:   ExpenseInput{Amount: 10, Currency: "USD", PayerID: "A"},
			wantErr: models.ErrInvalidSplit,
		},
		{
			name:    "duplicate in split",
			input:   ExpenseInput{Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B", "A"}},
			wantErr: models.ErrInvalidSplit,
		},
		{
			name:    "unknown sharer",
			input:   ExpenseInput{Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "Z"}},
			wantErr: models.ErrUnknownParticipant,
		},
		{
			name:    "unknown payer",
			input:   ExpenseInput{Amount: 10, Currency: "USD", PayerID: "Z", SplitAmong: []string{"A"}},
			wantErr: models.ErrUnknownParticipant,
		},
		{
			name:    "missing payer",
			input:   ExpenseInput{Amount: 10, Currency: "USD", SplitAmong: []string{"A"}},
			wantErr: models.ErrUnknownParticipant,
		},
		{
			name:    "bad currency",
			input:   ExpenseInput{Amount: 10, Currency: "dollars", PayerID: "A", SplitAmong: []string{"A"}},
			wantErr: models.ErrInvalidCurrency,
		},
		{
			name: "settled flag outside split",
			input: ExpenseInput{Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"},
				SettledExternally: []string{"B"}},
			wantErr: models.ErrInvalidSplit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			l, tripID := newTestLedger(t, store)
			ctx := context.Background()

			tt.input.TripID = tripID
			_, err := l.AddExpense(ctx, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddExpense() error = %v, want %v", err, tt.wantErr)
			}

			list, err := l.ListExpenses(ctx, tripID)
			if err != nil {
				t.Fatalf("ListExpenses failed: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("Expected no expenses after rejected write, got %d", len(list))
			}
		})
	}
}

func TestAddExpenseUnknownTrip(t *testing.T) {
	l, _ := newTestLedger(t, memory.New())
	_, err := l.AddExpense(context.Background(), ExpenseInput{
		TripID: "nope", Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"},
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSettledExternallyIsInert(t *testing.T) {
	l, tripID := newTestLedger(t, memory.New())
	ctx := context.Background()

	e, err := l.AddExpense(ctx, ExpenseInput{
		TripID: tripID, Title: "Tickets", Amount: 90, Currency: "EUR", PayerID: "A",
		SplitAmong: []string{"A", "B", "C"}, SettledExternally: []string{"B"},
	})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}
	if !e.Shares[1].SettledExternally || e.Shares[0].SettledExternally || e.Shares[2].SettledExternally {
		t.Errorf("Unexpected flags: %+v", e.Shares)
	}

	reports, err := l.Balances(ctx, tripID)
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if got := reports[0].Balances["B"]; got != -30 {
		t.Errorf("B balance = %d, want -30 regardless of the flag", got)
	}
}

func TestReplaceExpense(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, tripID := newTestLedger(t, store)
			ctx := context.Background()

			original, err := l.AddExpense(ctx, ExpenseInput{
				TripID: tripID, Title: "Dinner", Amount: 100, Currency: "USD",
				PayerID: "A", SplitAmong: []string{"A", "B"}, Timestamp: 10,
			})
			if err != nil {
				t.Fatalf("AddExpense failed: %v", err)
			}
			later, err := l.AddExpense(ctx, ExpenseInput{
				TripID: tripID, Title: "Taxi", Amount: 30, Currency: "USD",
				PayerID: "B", SplitAmong: []string{"A", "B"}, Timestamp: 10,
			})
			if err != nil {
				t.Fatalf("AddExpense failed: %v", err)
			}

			in := ExpenseInput{
				TripID: tripID, Title: "Dinner (fixed)", Amount: 100, Currency: "USD",
				PayerID: "C", SplitAmong: []string{"C", "B", "A"}, Timestamp: 10,
			}
			first, err := l.ReplaceExpense(ctx, original.ID, in)
			if err != nil {
				t.Fatalf("ReplaceExpense failed: %v", err)
			}
			second, err := l.ReplaceExpense(ctx, original.ID, in)
			if err != nil {
				t.Fatalf("second ReplaceExpense failed: %v", err)
			}

			if first.CreatedAt != original.CreatedAt || second.CreatedAt != original.CreatedAt {
				t.Errorf("CreatedAt changed: %d -> %d -> %d", original.CreatedAt, first.CreatedAt, second.CreatedAt)
			}
			if len(first.Shares) != len(second.Shares) {
				t.Fatalf("share count differs between replacements")
			}
			for i := range first.Shares {
				if first.Shares[i] != second.Shares[i] {
					t.Errorf("share %d differs: %+v vs %+v", i, first.Shares[i], second.Shares[i])
				}
			}

			stored, err := l.GetExpense(ctx, original.ID)
			if err != nil {
				t.Fatalf("GetExpense failed: %v", err)
			}
			want := []models.ExpenseShare{
				{ExpenseID: original.ID, ParticipantID: "C", Amount: 34},
				{ExpenseID: original.ID, ParticipantID: "B", Amount: 33},
				{ExpenseID: original.ID, ParticipantID: "A", Amount: 33},
			}
			if len(stored.Shares) != len(want) {
				t.Fatalf("Expected %d shares, got %d", len(want), len(stored.Shares))
			}
			for i := range want {
				if stored.Shares[i] != want[i] {
					t.Errorf("share %d = %+v, want %+v", i, stored.Shares[i], want[i])
				}
			}

			list, err := l.ListExpenses(ctx, tripID)
			if err != nil {
				t.Fatalf("ListExpenses failed: %v", err)
			}
			if len(list) != 2 || list[0].ID != original.ID || list[1].ID != later.ID {
				t.Errorf("Replacement moved the expense in the listing")
			}
		})
	}
}

func TestReplaceExpenseErrors(t *testing.T) {
	store := memory.New()
	l, tripID := newTestLedger(t, store)
	ctx := context.Background()

	e, err := l.AddExpense(ctx, ExpenseInput{
		TripID: tripID, Amount: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}

	t.Run("missing expense", func(t *testing.T) {
		_, err := l.ReplaceExpense(ctx, "missing", ExpenseInput{
			TripID: tripID, Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"},
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("other trip", func(t *testing.T) {
		other := &models.Trip{Name: "other"}
		if err := store.CreateTrip(ctx, other); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
		if err := store.AddParticipant(ctx, &models.Participant{ID: "A", TripID: other.ID, DisplayName: "A"}); err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
		_, err := l.ReplaceExpense(ctx, e.ID, ExpenseInput{
			TripID: other.ID, Amount: 10, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"},
		})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid input leaves expense untouched", func(t *testing.T) {
		_, err := l.ReplaceExpense(ctx, e.ID, ExpenseInput{
			TripID: tripID, Amount: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "Z"},
		})
		if !errors.Is(err, models.ErrUnknownParticipant) {
			t.Fatalf("Expected ErrUnknownParticipant, got %v", err)
		}
		stored, err := l.GetExpense(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if len(stored.Shares) != 2 || stored.Shares[0].Amount != 50 {
			t.Errorf("Expense changed after rejected replace: %+v", stored.Shares)
		}
	})
}

func TestRemoveExpense(t *testing.T) {
	l, tripID := newTestLedger(t, memory.New())
	ctx := context.Background()

	e, err := l.AddExpense(ctx, ExpenseInput{
		TripID: tripID, Amount: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("AddExpense failed: %v", err)
	}
	if err := l.RemoveExpense(ctx, e.ID); err != nil {
		t.Fatalf("RemoveExpense failed: %v", err)
	}
	if _, err := l.GetExpense(ctx, e.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after removal, got %v", err)
	}
	if err := l.RemoveExpense(ctx, e.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second removal, got %v", err)
	}
}

func TestBalances(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, tripID := newTestLedger(t, store)
			ctx := context.Background()

			// A pays 100 for A, B, C; B pays 30 for B, C.
			inputs := []ExpenseInput{
				{TripID: tripID, Amount: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B", "C"}},
				{TripID: tripID, Amount: 30, Currency: "USD", PayerID: "B", SplitAmong: []string{"B", "C"}},
				{TripID: tripID, Amount: 500, Currency: "JPY", PayerID: "C", SplitAmong: []string{"A", "C"}},
			}
			for _, in := range inputs {
				if _, err := l.AddExpense(ctx, in); err != nil {
					t.Fatalf("AddExpense failed: %v", err)
				}
			}

			reports, err := l.Balances(ctx, tripID)
			if err != nil {
				t.Fatalf("Balances failed: %v", err)
			}
			if len(reports) != 2 || reports[0].Currency != "JPY" || reports[1].Currency != "USD" {
				t.Fatalf("Expected JPY and USD reports in order, got %+v", reports)
			}

			usd := reports[1]
			wantUSD := calculator.Balances{"A": 66, "B": -18, "C": -48}
			for id, want := range wantUSD {
				if usd.Balances[id] != want {
					t.Errorf("USD balance %s = %d, want %d", id, usd.Balances[id], want)
				}
			}
			wantPayments := []models.SettlementTransaction{
				{From: "C", To: "A", Amount: 48, Currency: "USD"},
				{From: "B", To: "A", Amount: 18, Currency: "USD"},
			}
			if len(usd.Payments) != len(wantPayments) {
				t.Fatalf("USD payments = %+v, want %+v", usd.Payments, wantPayments)
			}
			for i := range wantPayments {
				if usd.Payments[i] != wantPayments[i] {
					t.Errorf("payment %d = %+v, want %+v", i, usd.Payments[i], wantPayments[i])
				}
			}

			jpy := reports[0]
			if jpy.Balances["C"] != 250 || jpy.Balances["A"] != -250 {
				t.Errorf("JPY balances = %v", jpy.Balances)
			}
			if len(jpy.Payments) != 1 || jpy.Payments[0] != (models.SettlementTransaction{From: "A", To: "C", Amount: 250, Currency: "JPY"}) {
				t.Errorf("JPY payments = %+v", jpy.Payments)
			}
		})
	}
}

func TestBalancesEmptyTrip(t *testing.T) {
	l, tripID := newTestLedger(t, memory.New())
	reports, err := l.Balances(context.Background(), tripID)
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("Expected no reports, got %+v", reports)
	}
}

func TestBalancesUnknownTrip(t *testing.T) {
	l, _ := newTestLedger(t, memory.New())
	if _, err := l.Balances(context.Background(), "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBalancesDetectsCorruptExpense(t *testing.T) {
	store := memory.New()
	l, tripID := newTestLedger(t, store)
	ctx := context.Background()

	// Bypass the ledger to store shares that do not cover the amount.
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateExpense(ctx, &models.Expense{
			TripID: tripID, Title: "broken", Amount: 100, Currency: "USD", PayerID: "A",
			SplitAmong: []string{"A", "B"},
			Shares: []models.ExpenseShare{
				{ParticipantID: "A", Amount: 50},
				{ParticipantID: "B", Amount: 49},
			},
		})
	})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}

	if _, err := l.Balances(ctx, tripID); !errors.Is(err, models.ErrLedgerInconsistency) {
		t.Errorf("Expected ErrLedgerInconsistency, got %v", err)
	}
}

func TestBalancesDuringConcurrentReplace(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l, tripID := newTestLedger(t, store)
			ctx := context.Background()

			small := ExpenseInput{TripID: tripID, Title: "Fuel", Amount: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B", "C"}}
			large := ExpenseInput{TripID: tripID, Title: "Fuel", Amount: 200, Currency: "USD", PayerID: "B", SplitAmong: []string{"A", "B"}}
			e, err := l.AddExpense(ctx, small)
			if err != nil {
				t.Fatalf("AddExpense failed: %v", err)
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < 200; i++ {
					in := small
					if i%2 == 0 {
						in = large
					}
					if _, err := l.ReplaceExpense(ctx, e.ID, in); err != nil {
						t.Errorf("ReplaceExpense %d failed: %v", i, err)
						return
					}
				}
			}()
			defer func() { <-done }()

			for reads := 0; ; reads++ {
				select {
				case <-done:
					if reads > 0 {
						return
					}
				default:
				}

				reports, err := l.Balances(ctx, tripID)
				if err != nil {
					t.Fatalf("Balances failed after %d reads: %v", reads, err)
				}
				if len(reports) != 1 {
					t.Fatalf("Expected 1 report, got %d", len(reports))
				}
				if sum := reports[0].Balances.Sum(); sum != 0 {
					t.Fatalf("Balances sum to %d", sum)
				}
			}
		})
	}
}

func TestTitleFor(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"Alice"}, "Split with Alice"},
		{[]string{"Alice", "Bob"}, "Split with Alice, Bob"},
		{[]string{"Alice", "Bob", "Charlie"}, "Split with Alice, Bob, Charlie"},
		{[]string{"Alice", "Bob", "Charlie", "Diana"}, "Split with Alice, Bob and 2 others"},
	}
	for _, tt := range tests {
		if got := titleFor(tt.names); got != tt.want {
			t.Errorf("titleFor(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
