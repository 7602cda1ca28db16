// Package ledger records trip expenses and derives balances and settlement plans from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mmynk/tripledger/internal/calculator"
	"github.com/mmynk/tripledger/internal/metrics"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
	"github.com/mmynk/tripledger/internal/storage"
)

// ExpenseInput is everything a caller supplies to create or replace an expense.
// Shares are always derived from Amount and SplitAmong.
type ExpenseInput struct {
	TripID     string
	Title      string
	Amount     money.Amount
	Currency   string
	PayerID    string
	SplitAmong []string

	// Timestamp defaults to now when zero.
	Timestamp int64

	// SettledExternally names the participants whose shares carry the flag.
	// Every name must also appear in SplitAmong.
	SettledExternally []string
}

// Report is the state of one currency ledger within a trip.
type Report struct {
	Currency string
	Balances calculator.Balances
	Payments []models.SettlementTransaction
}

// Ledger validates expense writes, runs them in storage transactions and
// computes balances on read.
type Ledger struct {
	store   storage.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Ledger. m may be nil.
func New(store storage.Store, m *metrics.Metrics) *Ledger {
	return &Ledger{store: store, metrics: m, now: time.Now}
}

// AddExpense validates in, allocates shares and persists the expense.
func (l *Ledger) AddExpense(ctx context.Context, in ExpenseInput) (*models.Expense, error) {
	expense, err := l.build(ctx, in)
	if err != nil {
		return nil, err
	}

	err = l.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateExpense(ctx, expense)
	})
	if err != nil {
		return nil, fmt.Errorf("add expense: %w", err)
	}

	l.metrics.ExpenseMutated("create")
	slog.Info("Expense added",
		"expense_id", expense.ID,
		"trip_id", expense.TripID,
		"amount", expense.Amount.Format(expense.Currency),
		"currency", expense.Currency,
		"shares", len(expense.Shares),
	)
	return expense, nil
}

// ReplaceExpense recomputes the expense from in and overwrites it with its shares.
// The expense keeps its ID, creation time and position in listings.
func (l *Ledger) ReplaceExpense(ctx context.Context, expenseID string, in ExpenseInput) (*models.Expense, error) {
	expense, err := l.build(ctx, in)
	if err != nil {
		return nil, err
	}
	expense.ID = expenseID

	err = l.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetExpense(ctx, expenseID)
		if err != nil {
			return err
		}
		if current.TripID != expense.TripID {
			return fmt.Errorf("expense %s in trip %s: %w", expenseID, expense.TripID, models.ErrNotFound)
		}
		expense.CreatedAt = current.CreatedAt
		return tx.UpdateExpense(ctx, expense)
	})
	if err != nil {
		return nil, fmt.Errorf("replace expense: %w", err)
	}

	l.metrics.ExpenseMutated("replace")
	slog.Info("Expense replaced",
		"expense_id", expense.ID,
		"trip_id", expense.TripID,
		"amount", expense.Amount.Format(expense.Currency),
		"currency", expense.Currency,
	)
	return expense, nil
}

// RemoveExpense deletes the expense and its shares.
func (l *Ledger) RemoveExpense(ctx context.Context, expenseID string) error {
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteExpense(ctx, expenseID)
	})
	if err != nil {
		return fmt.Errorf("remove expense: %w", err)
	}

	l.metrics.ExpenseMutated("remove")
	slog.Info("Expense removed", "expense_id", expenseID)
	return nil
}

// GetExpense returns one expense with its shares.
func (l *Ledger) GetExpense(ctx context.Context, expenseID string) (*models.Expense, error) {
	return l.store.GetExpense(ctx, expenseID)
}

// ListExpenses returns the trip's expenses, newest first.
func (l *Ledger) ListExpenses(ctx context.Context, tripID string) ([]models.Expense, error) {
	if _, err := l.store.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return l.store.ListExpenses(ctx, tripID)
}

// Balances computes net positions and a settlement plan for every currency
// used in the trip. Reports are ordered by currency code.
func (l *Ledger) Balances(ctx context.Context, tripID string) ([]Report, error) {
	expenses, err := l.ListExpenses(ctx, tripID)
	if err != nil {
		return nil, err
	}

	byCurrency, err := calculator.ComputeBalancesByCurrency(expenses)
	if err != nil {
		return nil, l.inconsistent(tripID, err)
	}

	reports := make([]Report, 0, len(byCurrency))
	for currency, balances := range byCurrency {
		transfers, err := calculator.Settle(balances)
		if err != nil {
			return nil, l.inconsistent(tripID, fmt.Errorf("currency %s: %w", currency, err))
		}
		l.metrics.SettlementPlanned(len(transfers))

		payments := make([]models.SettlementTransaction, len(transfers))
		for i, t := range transfers {
			payments[i] = models.SettlementTransaction{From: t.From, To: t.To, Amount: t.Amount, Currency: currency}
		}
		reports = append(reports, Report{Currency: currency, Balances: balances, Payments: payments})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Currency < reports[j].Currency })

	slog.Debug("Balances computed", "trip_id", tripID, "expenses", len(expenses), "currencies", len(reports))
	return reports, nil
}

func (l *Ledger) inconsistent(tripID string, err error) error {
	if errors.Is(err, models.ErrLedgerInconsistency) {
		l.metrics.LedgerInconsistency()
		slog.Error("Ledger inconsistency", "trip_id", tripID, "error", err)
	}
	return err
}

// build validates in and materializes the expense it describes.
// Nothing is written; every rejection happens here.
func (l *Ledger) build(ctx context.Context, in ExpenseInput) (*models.Expense, error) {
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)

	shares, err := calculator.Allocate(in.Amount, in.SplitAmong)
	if err != nil {
		return nil, err
	}

	settled := make(map[string]bool, len(in.SettledExternally))
	for _, id := range in.SettledExternally {
		settled[id] = true
	}
	for id := range settled {
		if !contains(in.SplitAmong, id) {
			return nil, fmt.Errorf("%w: %q is settled externally but not in the split", models.ErrInvalidSplit, id)
		}
	}

	if in.PayerID == "" {
		return nil, fmt.Errorf("%w: payer is required", models.ErrUnknownParticipant)
	}
	if _, err := l.store.GetTrip(ctx, in.TripID); err != nil {
		return nil, err
	}
	for _, id := range append([]string{in.PayerID}, in.SplitAmong...) {
		ok, err := l.store.ParticipantExists(ctx, in.TripID, id)
		if err != nil {
			return nil, fmt.Errorf("check participant %s: %w", id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q in trip %s", models.ErrUnknownParticipant, id, in.TripID)
		}
	}

	if title == "" {
		title, err = l.generateTitle(ctx, in.TripID, in.SplitAmong)
		if err != nil {
			return nil, err
		}
	}

	timestamp := in.Timestamp
	if timestamp == 0 {
		timestamp = l.now().Unix()
	}

	expense := &models.Expense{
		TripID:     in.TripID,
		Title:      title,
		Amount:     in.Amount,
		Currency:   currency,
		PayerID:    in.PayerID,
		Timestamp:  timestamp,
		SplitAmong: append([]string(nil), in.SplitAmong...),
		Shares:     make([]models.ExpenseShare, len(shares)),
	}
	for i, s := range shares {
		expense.Shares[i] = models.ExpenseShare{
			ParticipantID:     s.ParticipantID,
			Amount:            s.Amount,
			SettledExternally: settled[s.ParticipantID],
		}
	}
	return expense, nil
}

// generateTitle names an untitled expense after the people sharing it.
func (l *Ledger) generateTitle(ctx context.Context, tripID string, splitAmong []string) (string, error) {
	participants, err := l.store.ListParticipants(ctx, tripID)
	if err != nil {
		return "", fmt.Errorf("list participants: %w", err)
	}
	names := make(map[string]string, len(participants))
	for _, p := range participants {
		names[p.ID] = p.DisplayName
	}

	display := make([]string, len(splitAmong))
	for i, id := range splitAmong {
		display[i] = id
		if name := names[id]; name != "" {
			display[i] = name
		}
	}
	return titleFor(display), nil
}

func titleFor(names []string) string {
	if len(names) <= 3 {
		return fmt.Sprintf("Split with %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("Split with %s and %d others", strings.Join(names[:2], ", "), len(names)-2)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
