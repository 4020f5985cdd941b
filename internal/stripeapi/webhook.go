package stripeapi

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/suspectuso/paylink-relay/internal/payment"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// eventObject is the subset of data.object the relay reads. Checkout
// sessions and payment intents share the envelope.
type eventObject struct {
	ID                string `json:"id"`
	Object            string `json:"object"`
	ClientReferenceID string `json:"client_reference_id"`
	PaymentStatus     string `json:"payment_status"`
	Status            string `json:"status"`
	AmountTotal       int64  `json:"amount_total"`
	AmountReceived    int64  `json:"amount_received"`
}

// Verifier checks webhook signatures against the endpoint secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates the raw payload and decodes it into a payment event.
func (v *Verifier) Verify(payload []byte, header string) (payment.Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payment.Event{}, err
	}

	out := payment.Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Account: evt.Account,
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	var obj eventObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return payment.Event{}, fmt.Errorf("decode event object: %w", err)
	}

	out.Object = obj.Object
	out.ObjectID = obj.ID
	out.ClientReferenceID = obj.ClientReferenceID

	switch obj.Object {
	case payment.ObjectCheckoutSession:
		out.SessionID = obj.ID
		out.PaymentStatus = sessionStatus(obj.PaymentStatus, obj.Status)
		out.AmountMinor = obj.AmountTotal
	case payment.ObjectPaymentIntent:
		out.PaymentStatus = intentStatus(obj.Status)
		out.AmountMinor = obj.AmountReceived
	}

	return out, nil
}

func intentStatus(status string) payment.Status {
	switch status {
	case "succeeded":
		return payment.StatusPaid
	case "requires_payment_method", "canceled":
		return payment.StatusFailed
	default:
		return payment.StatusPending
	}
}
