package storage

import "time"

// Device is one buyer's client and its running paid total
type Device struct {
	DeviceID      string
	BalanceMinor  int64 // minor currency units
	LastSessionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Credit is the outcome of applying a settled session to a device
type Credit struct {
	BalanceMinor int64
	// Applied is false when the session had already been credited.
	Applied bool
}

// SettledSession records a checkout session credited to a device
type SettledSession struct {
	SessionID   string
	DeviceID    string
	AmountMinor int64
	SettledAt   time.Time
}

// Seller is a connected account owner
type Seller struct {
	ID          string // provider account id
	Name        string
	Email       string
	PaymentLink string
	IsOnboarded bool
	CreatedAt   time.Time
}
