package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
)

// Transfer represents a payment from a debtor to a creditor.
type Transfer struct {
	From   string // Person who owes
	To     string // Person who is owed
	Amount money.Amount
}

// settledBelow is one minor unit: a party whose remaining amount is below it
// is considered settled. With integer amounts that means exactly zero.
const settledBelow money.Amount = 1

type party struct {
	id     string
	amount money.Amount
}

// Settle derives a list of transfers that, once executed, zero every balance.
//
// Algorithm (greedy two-pointer matching):
//   - split participants into debtors (owe) and creditors (are owed)
//   - order both lists by amount descending, ties by participant ID
//   - pay min(owed, due) from the current debtor to the current creditor
//   - move past whichever side is fully settled
//
// The plan has at most |debtors| + |creditors| - 1 transfers. Input that does
// not sum to zero is rejected with ErrLedgerInconsistency.
func Settle(balances Balances) ([]Transfer, error) {
	if sum := balances.Sum(); sum != 0 {
		return nil, fmt.Errorf("%w: cannot settle balances summing to %d", models.ErrLedgerInconsistency, sum)
	}

	var debtors, creditors []party
	for _, id := range balances.ParticipantIDs() {
		bal := balances[id]
		switch {
		case bal <= -settledBelow:
			debtors = append(debtors, party{id: id, amount: -bal})
		case bal >= settledBelow:
			creditors = append(creditors, party{id: id, amount: bal})
		}
	}
	sortByAmount(debtors)
	sortByAmount(creditors)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		debtor := &debtors[i]
		creditor := &creditors[j]

		amount := money.Min(debtor.amount, creditor.amount)
		if amount > 0 {
			transfers = append(transfers, Transfer{
				From:   debtor.id,
				To:     creditor.id,
				Amount: amount,
			})
		}

		debtor.amount -= amount
		creditor.amount -= amount

		if debtor.amount < settledBelow {
			i++
		}
		if creditor.amount < settledBelow {
			j++
		}
	}

	if i != len(debtors) || j != len(creditors) {
		return nil, fmt.Errorf("%w: settlement left residual balances", models.ErrLedgerInconsistency)
	}
	return transfers, nil
}

// sortByAmount orders parties by amount descending. The stable sort keeps the
// ascending ID order of equal amounts.
func sortByAmount(parties []party) {
	sort.SliceStable(parties, func(a, b int) bool {
		return parties[a].amount > parties[b].amount
	})
}

// Apply replays transfers against balances and returns the remainder.
// Replaying a plan from Settle leaves every participant at zero.
func Apply(balances Balances, transfers []Transfer) Balances {
	out := make(Balances, len(balances))
	for id, bal := range balances {
		out[id] = bal
	}
	for _, t := range transfers {
		out[t.From] += t.Amount
		out[t.To] -= t.Amount
	}
	return out
}
