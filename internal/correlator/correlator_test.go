package correlator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/paylink-relay/internal/dedup"
	"github.com/suspectuso/paylink-relay/internal/notifier"
	"github.com/suspectuso/paylink-relay/internal/payment"
	"github.com/suspectuso/paylink-relay/internal/reconcile"
	"github.com/suspectuso/paylink-relay/internal/registry"
	"github.com/suspectuso/paylink-relay/internal/storage"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
)

const secret = "whsec_correlator"

type frame struct {
	event string
	msg   notifier.Message
}

type recordingConn struct {
	id string

	mu     sync.Mutex
	frames []frame
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Emit(event string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, _ := payload.(notifier.Message)
	c.frames = append(c.frames, frame{event, msg})
	return true
}

func (c *recordingConn) Frames() []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame(nil), c.frames...)
}

type countingReconciler struct {
	inner Reconciler
	err   error

	mu    sync.Mutex
	calls int
}

func (r *countingReconciler) Reconcile(ctx context.Context, deviceID, sessionID string, amountMinor int64) (reconcile.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return reconcile.Result{}, r.err
	}
	return r.inner.Reconcile(ctx, deviceID, sessionID, amountMinor)
}

func (r *countingReconciler) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeSessions map[string]payment.Session

func (f fakeSessions) GetCheckoutSession(_ context.Context, sessionID, _ string) (payment.Session, error) {
	s, ok := f[sessionID]
	if !ok {
		return payment.Session{}, stripeapi.ErrResourceMissing
	}
	return s, nil
}

type fakeAlerts struct {
	mu   sync.Mutex
	sent []notifier.Settlement
}

func (a *fakeAlerts) PaymentSettled(_ context.Context, s notifier.Settlement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, s)
}

type harness struct {
	c          *Correlator
	store      *storage.Storage
	registry   *registry.Registry
	dedup      *dedup.Window
	reconciler *countingReconciler
	sessions   fakeSessions
	alerts     *fakeAlerts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.New(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "correlator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		store:      store,
		registry:   registry.New(store, log),
		dedup:      dedup.NewWindow(72*time.Hour, 1000),
		reconciler: &countingReconciler{inner: reconcile.New(store, log)},
		sessions:   fakeSessions{},
		alerts:     &fakeAlerts{},
	}
	h.c = New(Deps{
		Verifier:   stripeapi.NewVerifier(secret, 5*time.Minute),
		Sessions:   h.sessions,
		Dedup:      h.dedup,
		Reconciler: h.reconciler,
		Dispatcher: notifier.New(h.registry, log),
		Resolver:   h.registry,
		Alerts:     h.alerts,
		Currency:   "ron",
	}, log)
	return h
}

func (h *harness) connect(t *testing.T, deviceID string) *recordingConn {
	t.Helper()
	conn := &recordingConn{id: "conn-" + deviceID}
	require.NoError(t, h.registry.Register(context.Background(), deviceID, conn))
	return conn
}

func (h *harness) balance(t *testing.T, deviceID string) string {
	t.Helper()
	d, err := h.store.GetDevice(context.Background(), deviceID)
	require.NoError(t, err)
	return reconcile.MinorToMajor(d.BalanceMinor).StringFixed(2)
}

func signed(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func sessionEvent(eventID, eventType, sessionID, deviceID, paymentStatus string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"data": {"object": {
			"id": %q,
			"object": "checkout.session",
			"client_reference_id": %q,
			"payment_status": %q,
			"status": "complete",
			"amount_total": %d
		}}
	}`, eventID, eventType, sessionID, deviceID, paymentStatus, amount))
}

func TestHandleDelivery_CompletedCreditsAndDispatches(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", "D1", "paid", 500)

	res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	h.c.Wait()

	assert.Equal(t, StatusDispatched, res.Status)
	assert.Equal(t, notifier.Delivered, res.Delivery)
	require.NotNil(t, res.Credit)
	assert.True(t, res.Credit.Applied)
	assert.Equal(t, "5.00", h.balance(t, "D1"))

	frames := conn.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, notifier.EventSuccess, frames[0].event)
	assert.Equal(t, notifier.ActionCreate, frames[0].msg.Action)
	assert.Equal(t, notifier.MessageData{Value: true, SessionID: "cs_1"}, frames[0].msg.Data)

	require.Len(t, h.alerts.sent, 1)
	assert.Equal(t, "5.00", h.alerts.sent[0].Amount.StringFixed(2))
}

func TestHandleDelivery_RedeliveryIsNoop(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", "D1", "paid", 500)
	ctx := context.Background()

	_, err := h.c.HandleDelivery(ctx, payload, signed(payload))
	require.NoError(t, err)

	res, err := h.c.HandleDelivery(ctx, payload, signed(payload))
	require.NoError(t, err)

	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, "5.00", h.balance(t, "D1"))
	assert.Len(t, conn.Frames(), 1)
	assert.Equal(t, 1, h.reconciler.Calls())
}

func TestHandleDelivery_BadSignatureTouchesNothing(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", "D1", "paid", 500)

	_, err := h.c.HandleDelivery(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrSignature)

	seen, _ := h.dedup.Seen(context.Background(), "evt_1")
	assert.False(t, seen)
	assert.Equal(t, 0, h.reconciler.Calls())
	assert.Empty(t, conn.Frames())
	assert.Equal(t, "0.00", h.balance(t, "D1"))
}

func TestHandleDelivery_UnresolvedIdentity(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
	}{
		{"empty client reference", ""},
		{"unbound device", "D2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			other := h.connect(t, "D1")
			payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", tc.deviceID, "paid", 500)

			res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
			require.NoError(t, err)

			assert.Equal(t, StatusUnresolved, res.Status)
			assert.Equal(t, notifier.DroppedUnbound, res.Delivery)
			assert.False(t, res.Outcome.Paid)
			assert.Equal(t, 0, h.reconciler.Calls())
			assert.Empty(t, other.Frames())
		})
	}
}

func TestHandleDelivery_OutcomeMapping(t *testing.T) {
	tests := []struct {
		eventType string
		status    string
		wantPaid  bool
	}{
		{payment.EventCheckoutExpired, "unpaid", false},
		{payment.EventCheckoutCompleted, "unpaid", false},
	}
	for _, tc := range tests {
		t.Run(tc.eventType+"/"+tc.status, func(t *testing.T) {
			h := newHarness(t)
			conn := h.connect(t, "D1")
			payload := sessionEvent("evt_x", tc.eventType, "cs_1", "D1", tc.status, 500)

			res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
			require.NoError(t, err)

			assert.Equal(t, StatusDispatched, res.Status)
			assert.Nil(t, res.Credit)
			assert.Equal(t, 0, h.reconciler.Calls())
			require.Len(t, conn.Frames(), 1)
			assert.Equal(t, tc.wantPaid, conn.Frames()[0].msg.Data.Value)
		})
	}
}

func TestHandleDelivery_PaymentIntentWithReferenceIsNotCredited(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	payload := []byte(`{"id":"evt_pi","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_1","object":"payment_intent","client_reference_id":"D1","status":"succeeded","amount_received":700}}}`)

	res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
	require.NoError(t, err)

	assert.Equal(t, StatusDispatched, res.Status)
	assert.Equal(t, 0, h.reconciler.Calls())
	require.Len(t, conn.Frames(), 1)
	assert.Equal(t, notifier.MessageData{Value: true, SessionID: "pi_1"}, conn.Frames()[0].msg.Data)
}

func TestHandleDelivery_UnknownTypeIgnored(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	payload := sessionEvent("evt_1", "customer.created", "cs_1", "D1", "paid", 500)

	res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
	require.NoError(t, err)

	assert.Equal(t, StatusIgnored, res.Status)
	assert.Empty(t, conn.Frames())
}

func TestHandleDelivery_ReconcileFailureSkipsDispatch(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	h.reconciler.err = fmt.Errorf("%w: boom", reconcile.ErrReconciliation)
	payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", "D1", "paid", 500)

	_, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
	assert.ErrorIs(t, err, reconcile.ErrReconciliation)
	assert.Empty(t, conn.Frames())

	// the event stays marked, redelivery is not retried
	res, err := h.c.HandleDelivery(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
}

func TestHandlePoll_NotPaid(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	h.sessions["cs_1"] = payment.Session{ID: "cs_1", ClientReferenceID: "D1", PaymentStatus: payment.StatusUnpaid, AmountMinor: 500}

	res, err := h.c.HandlePoll(context.Background(), "cs_1", "acct_1")
	require.NoError(t, err)

	assert.False(t, res.Paid)
	assert.Equal(t, RedirectCancel, res.Redirect)
	assert.Equal(t, 0, h.reconciler.Calls())
	require.Len(t, conn.Frames(), 1)
	assert.Equal(t, notifier.MessageData{Value: false, SessionID: "cs_1"}, conn.Frames()[0].msg.Data)
}

func TestHandlePoll_PaidAfterWebhookCreditsOnce(t *testing.T) {
	h := newHarness(t)
	conn := h.connect(t, "D1")
	ctx := context.Background()
	payload := sessionEvent("evt_1", payment.EventCheckoutCompleted, "cs_1", "D1", "paid", 1999)
	h.sessions["cs_1"] = payment.Session{ID: "cs_1", ClientReferenceID: "D1", PaymentStatus: payment.StatusPaid, AmountMinor: 1999}

	_, err := h.c.HandleDelivery(ctx, payload, signed(payload))
	require.NoError(t, err)

	res, err := h.c.HandlePoll(ctx, "cs_1", "acct_1")
	require.NoError(t, err)
	h.c.Wait()

	assert.True(t, res.Paid)
	assert.Equal(t, RedirectSuccess, res.Redirect)
	require.NotNil(t, res.Credit)
	assert.False(t, res.Credit.Applied)
	assert.Equal(t, "19.99", h.balance(t, "D1"))
	assert.Len(t, conn.Frames(), 2)
	assert.Len(t, h.alerts.sent, 1)
}

func TestHandlePoll_DisjointSessionsSum(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "D1")
	ctx := context.Background()
	h.sessions["cs_1"] = payment.Session{ID: "cs_1", ClientReferenceID: "D1", PaymentStatus: payment.StatusPaid, AmountMinor: 1999}
	h.sessions["cs_2"] = payment.Session{ID: "cs_2", ClientReferenceID: "D1", PaymentStatus: payment.StatusPaid, AmountMinor: 1}

	_, err := h.c.HandlePoll(ctx, "cs_1", "acct_1")
	require.NoError(t, err)
	_, err = h.c.HandlePoll(ctx, "cs_2", "acct_1")
	require.NoError(t, err)

	assert.Equal(t, "20.00", h.balance(t, "D1"))
}

func TestHandlePoll_LookupFailure(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.HandlePoll(context.Background(), "cs_missing", "acct_1")
	assert.True(t, errors.Is(err, stripeapi.ErrResourceMissing))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "dispatched", StatusDispatched.String())
	assert.Equal(t, "duplicate", StatusDuplicate.String())
	assert.Equal(t, "unresolved", StatusUnresolved.String())
	assert.Equal(t, "ignored", StatusIgnored.String())
}
