package calculator

import (
	"fmt"

	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
)

// Share represents the calculated portion of a total for one participant.
type Share struct {
	ParticipantID string
	Amount        money.Amount
}

// Allocate splits total equally among participantIDs without losing minor units.
//
// Algorithm:
//   - base = total / N (integer division)
//   - remainder = total - base*N, always in [0, N)
//   - the first remainder participants, in the given order, receive base+1
//
// The result is in input order and always sums to total.
func Allocate(total money.Amount, participantIDs []string) ([]Share, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total %d must be positive", models.ErrInvalidAmount, total)
	}
	if total > money.MaxAmount {
		return nil, fmt.Errorf("%w: total %d exceeds the per-expense limit", models.ErrInvalidAmount, total)
	}
	if len(participantIDs) == 0 {
		return nil, fmt.Errorf("%w: must split among at least one participant", models.ErrInvalidSplit)
	}

	seen := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty participant id", models.ErrInvalidSplit)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate participant %q", models.ErrInvalidSplit, id)
		}
		seen[id] = true
	}

	n := money.Amount(len(participantIDs))
	base := total / n
	remainder := total - base*n

	shares := make([]Share, len(participantIDs))
	for i, id := range participantIDs {
		amount := base
		if money.Amount(i) < remainder {
			amount++
		}
		shares[i] = Share{ParticipantID: id, Amount: amount}
	}
	return shares, nil
}
