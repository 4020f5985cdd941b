// Package registry binds stable device identities to live connections.
//
// Bindings live only in process memory. At most one connection is bound to a
// device at a time; a later registration replaces the earlier one. The table
// is split into shards keyed by a hash of the device id so that operations on
// different devices do not contend on one lock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 32

// ErrRegistration is returned when a device could not be registered.
var ErrRegistration = errors.New("registration failed")

// Conn is a live connection that can receive events.
type Conn interface {
	// ID identifies the connection for the lifetime of the transport.
	ID() string
	// Emit queues an event without blocking. It returns false when the
	// event could not be queued.
	Emit(event string, payload any) bool
}

// DeviceStore persists device records.
type DeviceStore interface {
	EnsureDevice(ctx context.Context, deviceID string) (bool, error)
}

type shard struct {
	mu       sync.Mutex
	bindings map[string]Conn
}

type Registry struct {
	store  DeviceStore
	log    *slog.Logger
	shards []*shard
}

func New(store DeviceStore, log *slog.Logger) *Registry {
	r := &Registry{
		store:  store,
		log:    log,
		shards: make([]*shard, defaultShards),
	}
	for i := range r.shards {
		r.shards[i] = &shard{bindings: make(map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(deviceID string) *shard {
	return r.shards[xxhash.Sum64String(deviceID)%uint64(len(r.shards))]
}

// Register makes sure the device exists in the store and binds it to conn.
// Any connection previously bound to the same device is replaced.
func (r *Registry) Register(ctx context.Context, deviceID string, conn Conn) error {
	if deviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrRegistration)
	}
	if conn == nil {
		return fmt.Errorf("%w: nil connection", ErrRegistration)
	}

	created, err := r.store.EnsureDevice(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}
	if created {
		r.log.Info("Device created", "device_id", deviceID)
	}

	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	prev, had := sh.bindings[deviceID]
	sh.bindings[deviceID] = conn
	sh.mu.Unlock()

	if had && prev.ID() != conn.ID() {
		r.log.Debug("Device binding superseded", "device_id", deviceID, "old_conn_id", prev.ID(), "conn_id", conn.ID())
	}
	r.log.Info("Device registered", "device_id", deviceID, "conn_id", conn.ID())
	return nil
}

// Unbind removes every binding held by conn and returns the affected
// device ids. It is a no-op when conn is not bound.
func (r *Registry) Unbind(conn Conn) []string {
	if conn == nil {
		return nil
	}
	id := conn.ID()

	var removed []string
	for _, sh := range r.shards {
		sh.mu.Lock()
		for deviceID, c := range sh.bindings {
			if c.ID() == id {
				delete(sh.bindings, deviceID)
				removed = append(removed, deviceID)
			}
		}
		sh.mu.Unlock()
	}

	for _, deviceID := range removed {
		r.log.Info("Device unbound", "device_id", deviceID, "conn_id", id)
	}
	return removed
}

// Resolve returns the connection currently bound to deviceID.
func (r *Registry) Resolve(deviceID string) (Conn, bool) {
	if deviceID == "" {
		return nil, false
	}
	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.bindings[deviceID]
	return c, ok
}

// Len returns the number of bound devices.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.bindings)
		sh.mu.Unlock()
	}
	return n
}
