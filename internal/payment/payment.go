// Package payment holds provider-neutral payment event and session types.
package payment

// Event types handled by the correlator.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventPaymentSucceeded  = "payment_intent.succeeded"
)

// HandledEvents lists every event type the webhook endpoint subscribes to.
var HandledEvents = []string{
	EventCheckoutCompleted,
	EventCheckoutExpired,
	EventPaymentFailed,
	EventPaymentSucceeded,
}

// Object types carried in an event's data.object.
const (
	ObjectCheckoutSession = "checkout.session"
	ObjectPaymentIntent   = "payment_intent"
)

// Status is the payment outcome of a session.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusUnpaid  Status = "unpaid"
	StatusPending Status = "pending"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// Event is one verified webhook delivery.
type Event struct {
	ID      string
	Type    string
	Account string // connected account the event originated from, if any

	Object            string // data.object type
	ObjectID          string // checkout session or payment intent id
	SessionID         string // checkout session id; empty for payment intents
	ClientReferenceID string
	PaymentStatus     Status
	AmountMinor       int64
}

// IsCheckoutSession reports whether the event carries a checkout session.
func (e Event) IsCheckoutSession() bool {
	return e.Object == ObjectCheckoutSession
}

// Session is a checkout session fetched from the provider.
type Session struct {
	ID                string
	ClientReferenceID string
	Account           string
	PaymentStatus     Status
	AmountMinor       int64
}

// Paid reports whether the session has settled.
func (s Session) Paid() bool {
	return s.PaymentStatus == StatusPaid
}
