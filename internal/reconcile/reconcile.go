// Package reconcile applies settled payment amounts to device balances.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/suspectuso/paylink-relay/internal/storage"
)

// ErrReconciliation is returned when a credit could not be persisted.
var ErrReconciliation = errors.New("reconciliation failed")

// minorUnitExp converts provider minor units (cents, bani) into major units.
const minorUnitExp = -2

// BalanceStore persists device balances keyed by settled session.
type BalanceStore interface {
	CreditDevice(ctx context.Context, deviceID, sessionID string, amountMinor int64, at time.Time) (storage.Credit, error)
}

// Result describes one reconcile call.
type Result struct {
	DeviceID  string
	SessionID string
	Credited  decimal.Decimal
	Balance   decimal.Decimal
	// Applied is false when the session had already been credited and the
	// balance was left unchanged.
	Applied bool
}

type Reconciler struct {
	store BalanceStore
	log   *slog.Logger
	nowF  func() time.Time
}

func New(store BalanceStore, log *slog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log, nowF: time.Now}
}

// Reconcile credits amountMinor to the device once per session id,
// regardless of whether a webhook or a poll triggered it.
func (r *Reconciler) Reconcile(ctx context.Context, deviceID, sessionID string, amountMinor int64) (Result, error) {
	if deviceID == "" || sessionID == "" {
		return Result{}, fmt.Errorf("%w: device and session id are required", ErrReconciliation)
	}
	if amountMinor < 0 {
		return Result{}, fmt.Errorf("%w: negative amount %d", ErrReconciliation, amountMinor)
	}

	credit, err := r.store.CreditDevice(ctx, deviceID, sessionID, amountMinor, r.nowF())
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("%w: device %s not found", ErrReconciliation, deviceID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	res := Result{
		DeviceID:  deviceID,
		SessionID: sessionID,
		Balance:   MinorToMajor(credit.BalanceMinor),
		Applied:   credit.Applied,
	}
	if credit.Applied {
		res.Credited = MinorToMajor(amountMinor)
		r.log.Info("Balance credited",
			"device_id", deviceID,
			"session_id", sessionID,
			"amount", res.Credited.StringFixed(2),
			"balance", res.Balance.StringFixed(2),
		)
	} else {
		res.Credited = decimal.Zero
		r.log.Info("Session already credited", "device_id", deviceID, "session_id", sessionID)
	}

	return res, nil
}

// MinorToMajor converts an integer minor-unit amount to a decimal major-unit amount.
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, minorUnitExp)
}

// MajorToMinor converts a major-unit amount to minor units, rounding half away from zero.
func MajorToMinor(major decimal.Decimal) int64 {
	return major.Shift(-minorUnitExp).Round(0).IntPart()
}
