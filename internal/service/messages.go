package service

// Wire messages. Amounts are decimal strings in the currency's major unit
// ("12.34"); the *Minor fields carry the same value as integer minor units.

type Trip struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

type Participant struct {
	ID          string `json:"id"`
	TripID      string `json:"tripId"`
	DisplayName string `json:"displayName"`
	AccountRef  string `json:"accountRef,omitempty"`
	IsOwner     bool   `json:"isOwner,omitempty"`
}

type Share struct {
	ParticipantID     string `json:"participantId"`
	Amount            string `json:"amount"`
	AmountMinor       int64  `json:"amountMinor"`
	SettledExternally bool   `json:"settledExternally,omitempty"`
}

type Expense struct {
	ID          string   `json:"id"`
	TripID      string   `json:"tripId"`
	Title       string   `json:"title"`
	Amount      string   `json:"amount"`
	AmountMinor int64    `json:"amountMinor"`
	Currency    string   `json:"currency"`
	PayerID     string   `json:"payerId"`
	Timestamp   int64    `json:"timestamp"`
	SplitAmong  []string `json:"splitAmong"`
	Shares      []Share  `json:"shares"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// ExpenseFields is the caller-supplied part of an expense.
// Exactly one of Amount and AmountMinor must be set.
type ExpenseFields struct {
	TripID            string   `json:"tripId"`
	Title             string   `json:"title,omitempty"`
	Amount            string   `json:"amount,omitempty"`
	AmountMinor       int64    `json:"amountMinor,omitempty"`
	Currency          string   `json:"currency"`
	PayerID           string   `json:"payerId"`
	SplitAmong        []string `json:"splitAmong"`
	Timestamp         int64    `json:"timestamp,omitempty"`
	SettledExternally []string `json:"settledExternally,omitempty"`
}

type Payment struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
}

type CreateExpenseRequest struct {
	ExpenseFields
}

type CreateExpenseResponse struct {
	Expense *Expense `json:"expense"`
	// Replayed is set when the response repeats an earlier request with the same Idempotency-Key.
	Replayed bool `json:"replayed,omitempty"`
}

type UpdateExpenseRequest struct {
	ExpenseID string `json:"expenseId"`
	ExpenseFields
}

type UpdateExpenseResponse struct {
	Expense *Expense `json:"expense"`
}

type DeleteExpenseRequest struct {
	ExpenseID string `json:"expenseId"`
}

type DeleteExpenseResponse struct{}

type GetExpenseRequest struct {
	ExpenseID string `json:"expenseId"`
}

type GetExpenseResponse struct {
	Expense *Expense `json:"expense"`
}

type ListExpensesRequest struct {
	TripID string `json:"tripId"`
}

type ListExpensesResponse struct {
	Expenses []*Expense `json:"expenses"`
}

type GetBalancesRequest struct {
	TripID string `json:"tripId"`
	// Currency optionally restricts the response to one ledger.
	Currency string `json:"currency,omitempty"`
}

type GetBalancesResponse struct {
	// Balances maps currency to participant to signed decimal balance.
	Balances          map[string]map[string]string `json:"balances"`
	SuggestedPayments []Payment                    `json:"suggestedPayments"`
}

type CreateTripRequest struct {
	Name         string        `json:"name"`
	Participants []Participant `json:"participants,omitempty"`
}

type CreateTripResponse struct {
	Trip         *Trip         `json:"trip"`
	Participants []Participant `json:"participants"`
}

type GetTripRequest struct {
	TripID string `json:"tripId"`
}

type GetTripResponse struct {
	Trip         *Trip         `json:"trip"`
	Participants []Participant `json:"participants"`
}

type AddParticipantRequest struct {
	TripID string `json:"tripId"`
	// ID is generated when empty.
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	AccountRef  string `json:"accountRef,omitempty"`
	IsOwner     bool   `json:"isOwner,omitempty"`
}

type AddParticipantResponse struct {
	Participant *Participant `json:"participant"`
}

type RemoveParticipantRequest struct {
	TripID        string `json:"tripId"`
	ParticipantID string `json:"participantId"`
}

type RemoveParticipantResponse struct{}

type ListParticipantsRequest struct {
	TripID string `json:"tripId"`
}

type ListParticipantsResponse struct {
	Participants []Participant `json:"participants"`
}
