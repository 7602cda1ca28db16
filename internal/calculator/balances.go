package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
)

// Balances maps participant ID to net position in minor units.
// Positive = the group owes this participant, Negative = this participant owes the group.
type Balances map[string]money.Amount

// Sum adds every balance. A consistent ledger sums to zero.
func (b Balances) Sum() money.Amount {
	var sum money.Amount
	for _, v := range b {
		sum += v
	}
	return sum
}

// ParticipantIDs returns the participants in ascending ID order.
func (b Balances) ParticipantIDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ComputeBalances folds expenses of a single currency into net balances.
//
// Algorithm:
//   - every payer and sharer starts at zero
//   - the payer is credited the full amount
//   - each share is debited from its participant, the payer's own share included
//
// The fold is order independent. Expenses whose shares do not add up to the
// amount, mixed currencies, a non-zero total and int64 overflow all yield
// ErrLedgerInconsistency.
func ComputeBalances(expenses []models.Expense) (Balances, error) {
	balances := make(Balances)
	currency := ""

	for i := range expenses {
		e := &expenses[i]
		if currency == "" {
			currency = e.Currency
		} else if e.Currency != currency {
			return nil, fmt.Errorf("%w: expense %s is in %s, expected %s",
				models.ErrLedgerInconsistency, e.ID, e.Currency, currency)
		}
		if err := checkShares(e); err != nil {
			return nil, err
		}

		var ok bool
		if balances[e.PayerID], ok = money.Add(balances[e.PayerID], e.Amount); !ok {
			return nil, overflow(e)
		}
		for _, share := range e.Shares {
			if balances[share.ParticipantID], ok = money.Sub(balances[share.ParticipantID], share.Amount); !ok {
				return nil, overflow(e)
			}
		}
	}

	if sum := balances.Sum(); sum != 0 {
		return nil, fmt.Errorf("%w: balances sum to %d", models.ErrLedgerInconsistency, sum)
	}
	return balances, nil
}

// checkShares verifies that the shares of e add up to its amount without
// wrapping around.
func checkShares(e *models.Expense) error {
	var total money.Amount
	for _, share := range e.Shares {
		var ok bool
		if total, ok = money.Add(total, share.Amount); !ok {
			return overflow(e)
		}
	}
	if total != e.Amount {
		return fmt.Errorf("%w: expense %s shares sum to %d, amount is %d",
			models.ErrLedgerInconsistency, e.ID, total, e.Amount)
	}
	return nil
}

func overflow(e *models.Expense) error {
	return fmt.Errorf("%w: balances overflow at expense %s", models.ErrLedgerInconsistency, e.ID)
}

// ComputeBalancesByCurrency partitions expenses by currency and computes
// balances for each ledger independently.
func ComputeBalancesByCurrency(expenses []models.Expense) (map[string]Balances, error) {
	byCurrency := make(map[string][]models.Expense)
	for _, e := range expenses {
		byCurrency[e.Currency] = append(byCurrency[e.Currency], e)
	}

	result := make(map[string]Balances, len(byCurrency))
	for currency, group := range byCurrency {
		balances, err := ComputeBalances(group)
		if err != nil {
			return nil, fmt.Errorf("currency %s: %w", currency, err)
		}
		result[currency] = balances
	}
	return result, nil
}
