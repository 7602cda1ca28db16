package service

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mmynk/tripledger/internal/idempotency"
	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/middleware"
	"github.com/mmynk/tripledger/internal/storage/sqlite"
)

type testClients struct {
	expenses *ExpenseServiceClient
	trips    *TripServiceClient
}

// setupTestServer creates a test server backed by a temporary SQLite database.
// When idem is true, CreateExpense honours Idempotency-Key through miniredis.
func setupTestServer(t *testing.T, idem bool) testClients {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var idemStore *idempotency.Store
	if idem {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			client.Close()
			mr.Close()
		})
		idemStore = idempotency.New(client, time.Minute)
	}

	m := metrics.New(prometheus.NewRegistry())
	interceptors := connect.WithInterceptors(middleware.MetricsInterceptor(m), middleware.LoggingInterceptor())

	mux := http.NewServeMux()
	mux.Handle(NewExpenseServiceHandler(NewExpenseService(ledger.New(store, m), idemStore), interceptors))
	mux.Handle(NewTripServiceHandler(NewTripService(store), interceptors))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return testClients{
		expenses: NewExpenseServiceClient(http.DefaultClient, server.URL),
		trips:    NewTripServiceClient(http.DefaultClient, server.URL),
	}
}

// createTrip creates a trip whose participants have the given IDs as IDs and names.
func createTrip(t *testing.T, c testClients, ids ...string) string {
	t.Helper()
	req := &CreateTripRequest{Name: "Test trip"}
	for _, id := range ids {
		req.Participants = append(req.Participants, Participant{ID: id, DisplayName: id})
	}
	resp, err := c.trips.CreateTrip(context.Background(), connect.NewRequest(req))
	if err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	return resp.Msg.Trip.ID
}

func createExpense(t *testing.T, c testClients, fields ExpenseFields) *Expense {
	t.Helper()
	resp, err := c.expenses.CreateExpense(context.Background(), connect.NewRequest(&CreateExpenseRequest{ExpenseFields: fields}))
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	return resp.Msg.Expense
}

func TestCreateExpense(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "Alice", "Bob", "Charlie")

	e := createExpense(t, c, ExpenseFields{
		TripID:     tripID,
		Amount:     "1.00",
		Currency:   "usd",
		PayerID:    "Alice",
		SplitAmong: []string{"Alice", "Bob", "Charlie"},
		Timestamp:  1_700_000_000,
	})

	if e.ID == "" {
		t.Error("Expected expense ID to be generated")
	}
	if e.Title != "Split with Alice, Bob, Charlie" {
		t.Errorf("Title = %q", e.Title)
	}
	if e.Currency != "USD" || e.Amount != "1.00" || e.AmountMinor != 100 {
		t.Errorf("Amount = %s %s (%d)", e.Amount, e.Currency, e.AmountMinor)
	}

	want := []string{"0.34", "0.33", "0.33"}
	if len(e.Shares) != len(want) {
		t.Fatalf("Expected %d shares, got %d", len(want), len(e.Shares))
	}
	for i, s := range e.Shares {
		if s.Amount != want[i] {
			t.Errorf("share %d = %s, want %s", i, s.Amount, want[i])
		}
	}
}

func TestCreateExpenseMinorUnits(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B")

	e := createExpense(t, c, ExpenseFields{
		TripID: tripID, AmountMinor: 1001, Currency: "JPY", PayerID: "A", SplitAmong: []string{"A", "B"},
	})
	if e.Amount != "1001" {
		t.Errorf("JPY amount = %s, want 1001", e.Amount)
	}
	if e.Shares[0].AmountMinor != 501 || e.Shares[1].AmountMinor != 500 {
		t.Errorf("shares = %+v", e.Shares)
	}
}

func TestCreateExpenseErrors(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B")

	tests := []struct {
		name   string
		fields ExpenseFields
		code   connect.Code
	}{
		{"zero amount", ExpenseFields{TripID: tripID, Amount: "0", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"negative amount", ExpenseFields{TripID: tripID, Amount: "-1.00", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"too precise", ExpenseFields{TripID: tripID, Amount: "1.001", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"not a number", ExpenseFields{TripID: tripID, Amount: "NaN", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"both amounts", ExpenseFields{TripID: tripID, Amount: "1", AmountMinor: 100, Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"amount over limit", ExpenseFields{TripID: tripID, Amount: "10000000000000.01", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"minor amount over limit", ExpenseFields{TripID: tripID, AmountMinor: math.MaxInt64, Currency: "USD", PayerID: "A", SplitAmong: []string{"B"}}, connect.CodeInvalidArgument},
		{"bad currency", ExpenseFields{TripID: tripID, Amount: "1", Currency: "US", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeInvalidArgument},
		{"empty split", ExpenseFields{TripID: tripID, Amount: "1", Currency: "USD", PayerID: "A"}, connect.CodeInvalidArgument},
		{"unknown participant", ExpenseFields{TripID: tripID, Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"Z"}}, connect.CodeInvalidArgument},
		{"unknown trip", ExpenseFields{TripID: "missing", Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}}, connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.expenses.CreateExpense(context.Background(), connect.NewRequest(&CreateExpenseRequest{ExpenseFields: tt.fields}))
			if err == nil {
				t.Fatal("Expected error")
			}
			if code := connect.CodeOf(err); code != tt.code {
				t.Errorf("code = %v, want %v (%v)", code, tt.code, err)
			}
		})
	}

	list, err := c.expenses.ListExpenses(context.Background(), connect.NewRequest(&ListExpensesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(list.Msg.Expenses) != 0 {
		t.Errorf("Expected no expenses after rejected requests, got %d", len(list.Msg.Expenses))
	}
}

func TestCreateExpenseIdempotencyKey(t *testing.T) {
	c := setupTestServer(t, true)
	tripID := createTrip(t, c, "A", "B")
	ctx := context.Background()

	send := func() *CreateExpenseResponse {
		req := connect.NewRequest(&CreateExpenseRequest{ExpenseFields: ExpenseFields{
			TripID: tripID, Amount: "10.00", Currency: "EUR", PayerID: "A", SplitAmong: []string{"A", "B"},
		}})
		req.Header().Set(IdempotencyKeyHeader, "retry-123")
		resp, err := c.expenses.CreateExpense(ctx, req)
		if err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}
		return resp.Msg
	}

	first := send()
	second := send()
	if first.Replayed {
		t.Error("First request must not be a replay")
	}
	if !second.Replayed {
		t.Error("Second request should be a replay")
	}
	if first.Expense.ID != second.Expense.ID {
		t.Errorf("Replay returned a different expense: %s vs %s", first.Expense.ID, second.Expense.ID)
	}

	list, err := c.expenses.ListExpenses(ctx, connect.NewRequest(&ListExpensesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(list.Msg.Expenses) != 1 {
		t.Errorf("Expected exactly one stored expense, got %d", len(list.Msg.Expenses))
	}
}

func TestCreateExpenseReplayAfterDelete(t *testing.T) {
	c := setupTestServer(t, true)
	tripID := createTrip(t, c, "A", "B")
	ctx := context.Background()

	send := func() (*connect.Response[CreateExpenseResponse], error) {
		req := connect.NewRequest(&CreateExpenseRequest{ExpenseFields: ExpenseFields{
			TripID: tripID, Title: "Ferry", Amount: "7.00", Currency: "USD", PayerID: "B", SplitAmong: []string{"A", "B"},
		}})
		req.Header().Set(IdempotencyKeyHeader, "ferry-1")
		return c.expenses.CreateExpense(ctx, req)
	}

	first, err := send()
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	if _, err := c.expenses.DeleteExpense(ctx, connect.NewRequest(&DeleteExpenseRequest{ExpenseID: first.Msg.Expense.ID})); err != nil {
		t.Fatalf("DeleteExpense failed: %v", err)
	}

	retry, err := send()
	if err != nil {
		t.Fatalf("Retried CreateExpense failed: %v", err)
	}
	if !retry.Msg.Replayed {
		t.Error("Retry should be a replay")
	}
	if retry.Msg.Expense.ID != first.Msg.Expense.ID || retry.Msg.Expense.Title != "Ferry" {
		t.Errorf("Replay = %+v, want the original expense %+v", retry.Msg.Expense, first.Msg.Expense)
	}
	if len(retry.Msg.Expense.Shares) != 2 {
		t.Errorf("Replay has %d shares, want 2", len(retry.Msg.Expense.Shares))
	}

	list, err := c.expenses.ListExpenses(ctx, connect.NewRequest(&ListExpensesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(list.Msg.Expenses) != 0 {
		t.Errorf("Replay must not recreate the expense, got %d", len(list.Msg.Expenses))
	}
}

func TestUpdateExpense(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B", "C")
	ctx := context.Background()

	e := createExpense(t, c, ExpenseFields{
		TripID: tripID, Title: "Dinner", Amount: "30.00", Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B", "C"},
	})

	resp, err := c.expenses.UpdateExpense(ctx, connect.NewRequest(&UpdateExpenseRequest{
		ExpenseID: e.ID,
		ExpenseFields: ExpenseFields{
			TripID: tripID, Title: "Dinner", Amount: "10.01", Currency: "USD", PayerID: "B",
			SplitAmong: []string{"B", "C"}, SettledExternally: []string{"C"},
		},
	}))
	if err != nil {
		t.Fatalf("UpdateExpense failed: %v", err)
	}
	got := resp.Msg.Expense
	if got.ID != e.ID || got.PayerID != "B" || got.Amount != "10.01" {
		t.Errorf("Unexpected updated expense: %+v", got)
	}
	if len(got.Shares) != 2 || got.Shares[0].Amount != "5.01" || got.Shares[1].Amount != "5.00" {
		t.Errorf("Unexpected shares: %+v", got.Shares)
	}
	if !got.Shares[1].SettledExternally {
		t.Error("Expected C's share to be flagged as settled externally")
	}
	if got.CreatedAt != e.CreatedAt {
		t.Errorf("CreatedAt changed from %d to %d", e.CreatedAt, got.CreatedAt)
	}

	_, err = c.expenses.UpdateExpense(ctx, connect.NewRequest(&UpdateExpenseRequest{
		ExpenseID:     "missing",
		ExpenseFields: ExpenseFields{TripID: tripID, Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}},
	}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Expected not_found, got %v", err)
	}

	_, err = c.expenses.UpdateExpense(ctx, connect.NewRequest(&UpdateExpenseRequest{
		ExpenseFields: ExpenseFields{TripID: tripID, Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}},
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Expected invalid_argument for missing expenseId, got %v", err)
	}
}

func TestDeleteAndGetExpense(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B")
	ctx := context.Background()

	e := createExpense(t, c, ExpenseFields{
		TripID: tripID, Amount: "4", Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B"},
	})

	got, err := c.expenses.GetExpense(ctx, connect.NewRequest(&GetExpenseRequest{ExpenseID: e.ID}))
	if err != nil {
		t.Fatalf("GetExpense failed: %v", err)
	}
	if got.Msg.Expense.Amount != "4.00" {
		t.Errorf("Amount = %s, want 4.00", got.Msg.Expense.Amount)
	}

	if _, err := c.expenses.DeleteExpense(ctx, connect.NewRequest(&DeleteExpenseRequest{ExpenseID: e.ID})); err != nil {
		t.Fatalf("DeleteExpense failed: %v", err)
	}
	_, err = c.expenses.GetExpense(ctx, connect.NewRequest(&GetExpenseRequest{ExpenseID: e.ID}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Expected not_found after delete, got %v", err)
	}
	_, err = c.expenses.DeleteExpense(ctx, connect.NewRequest(&DeleteExpenseRequest{ExpenseID: e.ID}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Expected not_found on second delete, got %v", err)
	}
}

func TestListExpensesOrder(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B")

	old := createExpense(t, c, ExpenseFields{TripID: tripID, Title: "old", Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}, Timestamp: 100})
	tie1 := createExpense(t, c, ExpenseFields{TripID: tripID, Title: "tie1", Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}, Timestamp: 200})
	tie2 := createExpense(t, c, ExpenseFields{TripID: tripID, Title: "tie2", Amount: "1", Currency: "USD", PayerID: "A", SplitAmong: []string{"A"}, Timestamp: 200})

	resp, err := c.expenses.ListExpenses(context.Background(), connect.NewRequest(&ListExpensesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	want := []string{tie1.ID, tie2.ID, old.ID}
	if len(resp.Msg.Expenses) != len(want) {
		t.Fatalf("Expected %d expenses, got %d", len(want), len(resp.Msg.Expenses))
	}
	for i, id := range want {
		if resp.Msg.Expenses[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, resp.Msg.Expenses[i].Title, id)
		}
	}
}

func TestGetBalances(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B", "C")
	ctx := context.Background()

	// A pays 1.00 split among A, B, C.
	createExpense(t, c, ExpenseFields{TripID: tripID, Amount: "1.00", Currency: "USD", PayerID: "A", SplitAmong: []string{"A", "B", "C"}})
	createExpense(t, c, ExpenseFields{TripID: tripID, Amount: "3.000", Currency: "KWD", PayerID: "B", SplitAmong: []string{"A", "B"}})

	resp, err := c.expenses.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}

	usd := resp.Msg.Balances["USD"]
	wantUSD := map[string]string{"A": "0.66", "B": "-0.33", "C": "-0.33"}
	for id, want := range wantUSD {
		if usd[id] != want {
			t.Errorf("USD balance %s = %s, want %s", id, usd[id], want)
		}
	}
	kwd := resp.Msg.Balances["KWD"]
	if kwd["A"] != "-1.500" || kwd["B"] != "1.500" {
		t.Errorf("KWD balances = %v", kwd)
	}

	wantPayments := []Payment{
		{From: "A", To: "B", Amount: "1.500", AmountMinor: 1500, Currency: "KWD"},
		{From: "B", To: "A", Amount: "0.33", AmountMinor: 33, Currency: "USD"},
		{From: "C", To: "A", Amount: "0.33", AmountMinor: 33, Currency: "USD"},
	}
	if len(resp.Msg.SuggestedPayments) != len(wantPayments) {
		t.Fatalf("payments = %+v, want %+v", resp.Msg.SuggestedPayments, wantPayments)
	}
	for i, want := range wantPayments {
		if resp.Msg.SuggestedPayments[i] != want {
			t.Errorf("payment %d = %+v, want %+v", i, resp.Msg.SuggestedPayments[i], want)
		}
	}

	filtered, err := c.expenses.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{TripID: tripID, Currency: "usd"}))
	if err != nil {
		t.Fatalf("GetBalances(USD) failed: %v", err)
	}
	if len(filtered.Msg.Balances) != 1 || len(filtered.Msg.SuggestedPayments) != 2 {
		t.Errorf("Currency filter not applied: %+v", filtered.Msg)
	}

	_, err = c.expenses.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{TripID: "missing"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Expected not_found for unknown trip, got %v", err)
	}
}

func TestGetBalancesAfterConcurrentWrites(t *testing.T) {
	c := setupTestServer(t, false)
	tripID := createTrip(t, c, "A", "B", "C", "D")
	ctx := context.Background()

	payers := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.expenses.CreateExpense(ctx, connect.NewRequest(&CreateExpenseRequest{ExpenseFields: ExpenseFields{
				TripID: tripID, AmountMinor: int64(101 + i), Currency: "USD",
				PayerID: payers[i%len(payers)], SplitAmong: []string{"A", "B", "C", "D"},
			}}))
			if err != nil {
				t.Errorf("CreateExpense %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	resp, err := c.expenses.GetBalances(ctx, connect.NewRequest(&GetBalancesRequest{TripID: tripID}))
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if n := len(resp.Msg.SuggestedPayments); n > 3 {
		t.Errorf("Expected at most 3 payments among 4 participants, got %d", n)
	}
}
