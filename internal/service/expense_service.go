package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/idempotency"
	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/money"
)

// ExpenseService implements the Connect ExpenseService
type ExpenseService struct {
	ledger      *ledger.Ledger
	idempotency *idempotency.Store
}

// NewExpenseService creates a new ExpenseService. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewExpenseService(l *ledger.Ledger, idem *idempotency.Store) *ExpenseService {
	return &ExpenseService{ledger: l, idempotency: idem}
}

// CreateExpense records a new expense split equally among the given participants.
func (s *ExpenseService) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[CreateExpenseResponse], error) {
	slog.Info("CreateExpense request received",
		"trip_id", req.Msg.TripID,
		"payer_id", req.Msg.PayerID,
		"split_count", len(req.Msg.SplitAmong),
	)

	in, err := req.Msg.toInput()
	if err != nil {
		return nil, toConnectError(err)
	}

	key := req.Header().Get(IdempotencyKeyHeader)
	if key == "" || s.idempotency == nil {
		expense, err := s.ledger.AddExpense(ctx, in)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&CreateExpenseResponse{Expense: expenseToMessage(expense)}), nil
	}

	// The stored result is the serialized expense, so a retry gets the
	// original response even if the expense has changed since.
	codec := jsonCodec{}
	var created *Expense
	stored, replayed, err := s.idempotency.Do(ctx, in.TripID, key, func(ctx context.Context) (string, error) {
		expense, err := s.ledger.AddExpense(ctx, in)
		if err != nil {
			return "", err
		}
		created = expenseToMessage(expense)
		data, err := codec.Marshal(created)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return nil, toConnectError(err)
	}

	if replayed {
		created = &Expense{}
		if err := codec.Unmarshal([]byte(stored), created); err != nil {
			slog.Error("Failed to decode idempotent result", "trip_id", in.TripID, "error", err)
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		slog.Info("CreateExpense replayed", "trip_id", in.TripID, "expense_id", created.ID)
	}
	return connect.NewResponse(&CreateExpenseResponse{Expense: created, Replayed: replayed}), nil
}

// UpdateExpense replaces an expense and recomputes its shares from scratch.
func (s *ExpenseService) UpdateExpense(ctx context.Context, req *connect.Request[UpdateExpenseRequest]) (*connect.Response[UpdateExpenseResponse], error) {
	slog.Info("UpdateExpense request received", "expense_id", req.Msg.ExpenseID, "trip_id", req.Msg.TripID)

	if req.Msg.ExpenseID == "" {
		return nil, invalidArgument("expenseId is required")
	}
	in, err := req.Msg.toInput()
	if err != nil {
		return nil, toConnectError(err)
	}

	expense, err := s.ledger.ReplaceExpense(ctx, req.Msg.ExpenseID, in)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UpdateExpenseResponse{Expense: expenseToMessage(expense)}), nil
}

// DeleteExpense removes an expense and its shares.
func (s *ExpenseService) DeleteExpense(ctx context.Context, req *connect.Request[DeleteExpenseRequest]) (*connect.Response[DeleteExpenseResponse], error) {
	slog.Info("DeleteExpense request received", "expense_id", req.Msg.ExpenseID)

	if err := s.ledger.RemoveExpense(ctx, req.Msg.ExpenseID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&DeleteExpenseResponse{}), nil
}

// GetExpense retrieves one expense with its shares.
func (s *ExpenseService) GetExpense(ctx context.Context, req *connect.Request[GetExpenseRequest]) (*connect.Response[GetExpenseResponse], error) {
	expense, err := s.ledger.GetExpense(ctx, req.Msg.ExpenseID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetExpenseResponse{Expense: expenseToMessage(expense)}), nil
}

// ListExpenses returns a trip's expenses, newest first.
func (s *ExpenseService) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	expenses, err := s.ledger.ListExpenses(ctx, req.Msg.TripID)
	if err != nil {
		return nil, toConnectError(err)
	}

	out := make([]*Expense, len(expenses))
	for i := range expenses {
		out[i] = expenseToMessage(&expenses[i])
	}
	return connect.NewResponse(&ListExpensesResponse{Expenses: out}), nil
}

// GetBalances returns every participant's net position per currency and the
// payments that would settle them.
func (s *ExpenseService) GetBalances(ctx context.Context, req *connect.Request[GetBalancesRequest]) (*connect.Response[GetBalancesResponse], error) {
	var currency string
	if req.Msg.Currency != "" {
		c, err := money.NormalizeCurrency(req.Msg.Currency)
		if err != nil {
			return nil, toConnectError(err)
		}
		currency = c
	}

	reports, err := s.ledger.Balances(ctx, req.Msg.TripID)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &GetBalancesResponse{
		Balances:          make(map[string]map[string]string),
		SuggestedPayments: []Payment{},
	}
	for _, r := range reports {
		if currency != "" && r.Currency != currency {
			continue
		}
		balances := make(map[string]string, len(r.Balances))
		for id, amount := range r.Balances {
			balances[id] = amount.Format(r.Currency)
		}
		resp.Balances[r.Currency] = balances

		for _, p := range r.Payments {
			resp.SuggestedPayments = append(resp.SuggestedPayments, Payment{
				From:        p.From,
				To:          p.To,
				Amount:      p.Amount.Format(p.Currency),
				AmountMinor: int64(p.Amount),
				Currency:    p.Currency,
			})
		}
	}

	slog.Debug("GetBalances successful",
		"trip_id", req.Msg.TripID,
		"currencies", len(resp.Balances),
		"payments", len(resp.SuggestedPayments),
	)
	return connect.NewResponse(resp), nil
}
