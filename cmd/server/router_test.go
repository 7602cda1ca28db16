package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/service"
	"github.com/mmynk/tripledger/internal/storage/memory"
)

func setupTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	server := httptest.NewServer(newRouter(routerDeps{
		store:    store,
		ledger:   ledger.New(store, m),
		metrics:  m,
		registry: reg,
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHealthz(t *testing.T) {
	server := setupTestRouter(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on every response")
	}
}

func TestRouterServesConnectAndMetrics(t *testing.T) {
	server := setupTestRouter(t)
	ctx := context.Background()

	trips := service.NewTripServiceClient(http.DefaultClient, server.URL)
	expenses := service.NewExpenseServiceClient(http.DefaultClient, server.URL)

	trip, err := trips.CreateTrip(ctx, connect.NewRequest(&service.CreateTripRequest{
		Name:         "Weekend",
		Participants: []service.Participant{{ID: "a", DisplayName: "Ann"}, {ID: "b", DisplayName: "Ben"}},
	}))
	if err != nil {
		t.Fatalf("CreateTrip: %v", err)
	}
	_, err = expenses.CreateExpense(ctx, connect.NewRequest(&service.CreateExpenseRequest{ExpenseFields: service.ExpenseFields{
		TripID: trip.Msg.Trip.ID, Amount: "12.00", Currency: "EUR", PayerID: "a", SplitAmong: []string{"a", "b"},
	}}))
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	balances, err := expenses.GetBalances(ctx, connect.NewRequest(&service.GetBalancesRequest{TripID: trip.Msg.Trip.ID}))
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if got := balances.Msg.SuggestedPayments; len(got) != 1 || got[0].Amount != "6.00" {
		t.Errorf("Unexpected payments: %+v", got)
	}

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"tripledger_rpc_requests_total",
		`tripledger_expense_mutations_total{op="create"} 1`,
		"tripledger_settlement_transfers",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestUnknownProcedure(t *testing.T) {
	server := setupTestRouter(t)

	resp, err := http.Post(server.URL+"/"+service.ExpenseServiceName+"/Nope", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
