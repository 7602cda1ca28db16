package service

import (
	"fmt"

	"github.com/mmynk/tripledger/internal/ledger"
	"github.com/mmynk/tripledger/internal/models"
	"github.com/mmynk/tripledger/internal/money"
)

// toInput converts wire fields into a ledger input. The amount is converted
// to minor units of the (normalized) currency without rounding.
func (f *ExpenseFields) toInput() (ledger.ExpenseInput, error) {
	currency, err := money.NormalizeCurrency(f.Currency)
	if err != nil {
		return ledger.ExpenseInput{}, err
	}

	var amount money.Amount
	switch {
	case f.Amount != "" && f.AmountMinor != 0:
		return ledger.ExpenseInput{}, fmt.Errorf("%w: set either amount or amountMinor", models.ErrInvalidAmount)
	case f.Amount != "":
		amount, err = money.ParsePositive(f.Amount, currency)
		if err != nil {
			return ledger.ExpenseInput{}, err
		}
	default:
		amount = money.Amount(f.AmountMinor)
	}

	return ledger.ExpenseInput{
		TripID:            f.TripID,
		Title:             f.Title,
		Amount:            amount,
		Currency:          currency,
		PayerID:           f.PayerID,
		SplitAmong:        f.SplitAmong,
		Timestamp:         f.Timestamp,
		SettledExternally: f.SettledExternally,
	}, nil
}

func expenseToMessage(e *models.Expense) *Expense {
	msg := &Expense{
		ID:          e.ID,
		TripID:      e.TripID,
		Title:       e.Title,
		Amount:      e.Amount.Format(e.Currency),
		AmountMinor: int64(e.Amount),
		Currency:    e.Currency,
		PayerID:     e.PayerID,
		Timestamp:   e.Timestamp,
		SplitAmong:  e.SplitAmong,
		Shares:      make([]Share, len(e.Shares)),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	for i, s := range e.Shares {
		msg.Shares[i] = Share{
			ParticipantID:     s.ParticipantID,
			Amount:            s.Amount.Format(e.Currency),
			AmountMinor:       int64(s.Amount),
			SettledExternally: s.SettledExternally,
		}
	}
	return msg
}

func tripToMessage(t *models.Trip) *Trip {
	return &Trip{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func participantToMessage(p models.Participant) Participant {
	return Participant{
		ID:          p.ID,
		TripID:      p.TripID,
		DisplayName: p.DisplayName,
		AccountRef:  p.AccountRef,
		IsOwner:     p.IsOwner,
	}
}

func participantsToMessage(ps []models.Participant) []Participant {
	out := make([]Participant, len(ps))
	for i, p := range ps {
		out[i] = participantToMessage(p)
	}
	return out
}
