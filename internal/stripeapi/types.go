package stripeapi

// ExpressAccountRequest holds the fields for a new connected account
type ExpressAccountRequest struct {
	Email string
}

// AccountStatus summarizes a connected account's onboarding state
type AccountStatus struct {
	ID             string
	EventuallyDue  []string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// VerificationCompleted reports whether nothing is left to collect.
func (a AccountStatus) VerificationCompleted() bool {
	return len(a.EventuallyDue) == 0
}

// PaymentLinkRequest describes a single-product payment link on a seller account
type PaymentLinkRequest struct {
	AccountID   string
	ProductName string
	AmountMinor int64
	// RedirectURL may contain the {CHECKOUT_SESSION_ID} placeholder.
	RedirectURL string
}

// Money is an amount in minor units for one currency
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Balance is a connected account balance
type Balance struct {
	Available []Money `json:"available"`
	Pending   []Money `json:"pending"`
}

// Payout is one payout to a seller's bank account
type Payout struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	ArrivalDate int64  `json:"arrival_date"`
	Created     int64  `json:"created"`
}

// WebhookEndpoint is a registered provider webhook endpoint
type WebhookEndpoint struct {
	ID            string
	URL           string
	EnabledEvents []string
	Status        string
	// Secret is only returned when the endpoint is created.
	Secret string
}
