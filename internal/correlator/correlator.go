// Package correlator routes payment outcomes to device connections.
//
// Two paths feed it: signed webhook deliveries pushed by the provider, and
// client-initiated polls of a checkout session. Both resolve the device
// identity from the client reference id, credit settled sessions through the
// reconciler and hand the outcome to the dispatcher. Webhook deliveries are
// deduplicated by event id; settled sessions are credited at most once
// whichever path reaches them first.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/suspectuso/paylink-relay/internal/dedup"
	"github.com/suspectuso/paylink-relay/internal/metrics"
	"github.com/suspectuso/paylink-relay/internal/notifier"
	"github.com/suspectuso/paylink-relay/internal/payment"
	"github.com/suspectuso/paylink-relay/internal/reconcile"
	"github.com/suspectuso/paylink-relay/internal/registry"
)

// ErrSignature is returned when a webhook payload fails verification.
var ErrSignature = errors.New("invalid webhook signature")

// Redirect targets for polled sessions.
const (
	RedirectSuccess = "/success"
	RedirectCancel  = "/cancel"
)

type Verifier interface {
	Verify(payload []byte, header string) (payment.Event, error)
}

type SessionFetcher interface {
	GetCheckoutSession(ctx context.Context, sessionID, accountID string) (payment.Session, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, deviceID, sessionID string, amountMinor int64) (reconcile.Result, error)
}

type Dispatcher interface {
	Notify(ctx context.Context, deviceID string, o notifier.Outcome) notifier.Delivery
}

type Resolver interface {
	Resolve(deviceID string) (registry.Conn, bool)
}

type Alerter interface {
	PaymentSettled(ctx context.Context, s notifier.Settlement)
}

// Status is the terminal state of one webhook delivery.
type Status int

const (
	// StatusDispatched: identity resolved, credited if paid, outcome sent.
	StatusDispatched Status = iota
	// StatusDuplicate: event id already processed, nothing done.
	StatusDuplicate
	// StatusUnresolved: no device bound, not-paid outcome dispatched.
	StatusUnresolved
	// StatusIgnored: event type not handled.
	StatusIgnored
)

func (s Status) String() string {
	switch s {
	case StatusDispatched:
		return "dispatched"
	case StatusDuplicate:
		return "duplicate"
	case StatusUnresolved:
		return "unresolved"
	case StatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Result describes how a webhook delivery was handled.
type Result struct {
	Status    Status
	EventID   string
	EventType string
	DeviceID  string
	Outcome   notifier.Outcome
	Delivery  notifier.Delivery
	// Credit is set when a settled session went through the reconciler.
	Credit *reconcile.Result
}

// PollResult describes how a session poll was handled.
type PollResult struct {
	Paid     bool
	Redirect string
	DeviceID string
	Delivery notifier.Delivery
	Credit   *reconcile.Result
}

// Deps are the collaborators of a Correlator. Alerts may be nil.
type Deps struct {
	Verifier   Verifier
	Sessions   SessionFetcher
	Dedup      dedup.Deduplicator
	Reconciler Reconciler
	Dispatcher Dispatcher
	Resolver   Resolver
	Alerts     Alerter
	Currency   string
}

type Correlator struct {
	deps Deps
	log  *slog.Logger

	alerts sync.WaitGroup
}

func New(deps Deps, log *slog.Logger) *Correlator {
	return &Correlator{deps: deps, log: log}
}

// HandleDelivery processes one raw webhook delivery.
func (c *Correlator) HandleDelivery(ctx context.Context, payload []byte, signature string) (Result, error) {
	evt, err := c.deps.Verifier.Verify(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("rejected").Inc()
		c.log.Warn("webhook rejected", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	res, err := c.handleEvent(ctx, evt)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return res, err
	}
	metrics.WebhookEvents.WithLabelValues(res.Status.String()).Inc()
	return res, nil
}

func (c *Correlator) handleEvent(ctx context.Context, evt payment.Event) (Result, error) {
	res := Result{
		EventID:   evt.ID,
		EventType: evt.Type,
		DeviceID:  evt.ClientReferenceID,
	}
	log := c.log.With("event_id", evt.ID, "event_type", evt.Type)

	// Marked before any side effect: a failure further down is not retried
	// on redelivery.
	isNew, err := c.deps.Dedup.MarkIfNew(ctx, evt.ID)
	if err != nil {
		return res, fmt.Errorf("dedup %s: %w", evt.ID, err)
	}
	if !isNew {
		log.Info("duplicate event received")
		res.Status = StatusDuplicate
		return res, nil
	}

	paid, handled := outcomeFor(evt)
	if !handled {
		log.Info("unhandled event type")
		res.Status = StatusIgnored
		return res, nil
	}

	deviceID := evt.ClientReferenceID
	if _, bound := c.deps.Resolver.Resolve(deviceID); deviceID == "" || !bound {
		res.Status = StatusUnresolved
		res.Outcome = notifier.NotPaid("")
		res.Delivery = c.deps.Dispatcher.Notify(ctx, deviceID, res.Outcome)
		log.Info("event identity unresolved", "device_id", deviceID)
		return res, nil
	}

	if paid && evt.IsCheckoutSession() {
		credit, err := c.credit(ctx, "webhook", deviceID, evt.SessionID, evt.AmountMinor, evt.Account)
		if err != nil {
			return res, err
		}
		res.Credit = &credit
	}

	res.Status = StatusDispatched
	res.Outcome = notifier.Outcome{Paid: paid, SessionID: evt.ObjectID}
	res.Delivery = c.deps.Dispatcher.Notify(ctx, deviceID, res.Outcome)
	return res, nil
}

// outcomeFor maps a handled event type to paid/not paid.
func outcomeFor(evt payment.Event) (paid, handled bool) {
	switch evt.Type {
	case payment.EventCheckoutCompleted:
		// completed sessions paid by a delayed method are not settled yet
		return !evt.IsCheckoutSession() || evt.PaymentStatus == payment.StatusPaid, true
	case payment.EventPaymentSucceeded:
		return true, true
	case payment.EventCheckoutExpired, payment.EventPaymentFailed:
		return false, true
	default:
		return false, false
	}
}

// HandlePoll looks a checkout session up at the provider and reports the
// outcome to the device that initiated it.
func (c *Correlator) HandlePoll(ctx context.Context, sessionID, accountID string) (PollResult, error) {
	s, err := c.deps.Sessions.GetCheckoutSession(ctx, sessionID, accountID)
	if err != nil {
		return PollResult{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	res := PollResult{DeviceID: s.ClientReferenceID}
	log := c.log.With("session_id", sessionID, "device_id", s.ClientReferenceID)

	if !s.Paid() {
		res.Redirect = RedirectCancel
		res.Delivery = c.deps.Dispatcher.Notify(ctx, s.ClientReferenceID, notifier.NotPaid(sessionID))
		log.Info("polled session not paid", "status", string(s.PaymentStatus))
		return res, nil
	}

	credit, err := c.credit(ctx, "poll", s.ClientReferenceID, sessionID, s.AmountMinor, accountID)
	if err != nil {
		return PollResult{}, err
	}

	res.Paid = true
	res.Redirect = RedirectSuccess
	res.Credit = &credit
	res.Delivery = c.deps.Dispatcher.Notify(ctx, s.ClientReferenceID, notifier.Paid(sessionID))
	return res, nil
}

func (c *Correlator) credit(ctx context.Context, source, deviceID, sessionID string, amountMinor int64, account string) (reconcile.Result, error) {
	credit, err := c.deps.Reconciler.Reconcile(ctx, deviceID, sessionID, amountMinor)
	metrics.RecordReconciliation(source, credit.Applied, err)
	if err != nil {
		c.log.Error("reconcile", "source", source, "device_id", deviceID, "session_id", sessionID, "error", err)
		return reconcile.Result{}, err
	}

	if credit.Applied && c.deps.Alerts != nil {
		settlement := notifier.Settlement{
			DeviceID:  deviceID,
			SessionID: sessionID,
			Account:   account,
			Amount:    credit.Credited,
			Balance:   credit.Balance,
			Currency:  c.deps.Currency,
		}
		actx := context.WithoutCancel(ctx)
		c.alerts.Add(1)
		go func() {
			defer c.alerts.Done()
			c.deps.Alerts.PaymentSettled(actx, settlement)
		}()
	}
	return credit, nil
}

// Wait blocks until pending seller alerts have been sent.
func (c *Correlator) Wait() {
	c.alerts.Wait()
}
