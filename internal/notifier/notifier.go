package notifier

import (
	"context"
	"log/slog"

	"github.com/suspectuso/paylink-relay/internal/metrics"
	"github.com/suspectuso/paylink-relay/internal/registry"
)

// Frame names and envelope action understood by clients.
const (
	EventSuccess = "success"
	ActionCreate = "create"
)

// Resolver finds the connection bound to a device.
type Resolver interface {
	Resolve(deviceID string) (registry.Conn, bool)
}

// Outcome is the payment result sent to a device.
type Outcome struct {
	Paid      bool
	SessionID string
}

func Paid(sessionID string) Outcome    { return Outcome{Paid: true, SessionID: sessionID} }
func NotPaid(sessionID string) Outcome { return Outcome{Paid: false, SessionID: sessionID} }

// Message is the payload of a success frame.
type Message struct {
	Action string      `json:"action"`
	Data   MessageData `json:"data"`
}

type MessageData struct {
	Value     bool   `json:"value"`
	SessionID string `json:"session_id"`
}

// Delivery reports what happened to a notification.
type Delivery int

const (
	Delivered Delivery = iota
	// DroppedUnbound means no connection was bound to the device.
	DroppedUnbound
	// DroppedBackpressure means the connection could not accept the message.
	DroppedBackpressure
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case DroppedUnbound:
		return "dropped_unbound"
	case DroppedBackpressure:
		return "dropped_backpressure"
	default:
		return "unknown"
	}
}

// Dropped reports whether the message never reached a connection.
func (d Delivery) Dropped() bool { return d != Delivered }

// Dispatcher delivers outcomes to the connection bound to a device.
// Delivery is at most once: nothing is queued or retried.
type Dispatcher struct {
	resolver Resolver
	log      *slog.Logger
}

// New creates a new Dispatcher
func New(resolver Resolver, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		log:      log,
	}
}

// Notify sends the outcome to the single connection bound to deviceID.
func (d *Dispatcher) Notify(ctx context.Context, deviceID string, o Outcome) Delivery {
	res := d.notify(deviceID, o)
	metrics.Deliveries.WithLabelValues(res.String()).Inc()

	d.log.Info("outcome dispatched",
		"device_id", deviceID,
		"session_id", o.SessionID,
		"paid", o.Paid,
		"delivery", res.String(),
	)
	return res
}

func (d *Dispatcher) notify(deviceID string, o Outcome) Delivery {
	conn, ok := d.resolver.Resolve(deviceID)
	if !ok {
		return DroppedUnbound
	}

	msg := Message{
		Action: ActionCreate,
		Data:   MessageData{Value: o.Paid, SessionID: o.SessionID},
	}
	if !conn.Emit(EventSuccess, msg) {
		return DroppedBackpressure
	}
	return Delivered
}
