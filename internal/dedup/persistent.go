package dedup

import (
	"context"
	"time"
)

// EventStore persists processed event ids.
type EventStore interface {
	MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error)
	IsEventProcessed(ctx context.Context, eventID string, since time.Time) (bool, error)
	PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}

// Persistent keeps processed ids in the database so they survive restarts.
// Ids older than the window stay recorded until the next Sweep.
type Persistent struct {
	store EventStore
	ttl   time.Duration
	nowF  func() time.Time
}

func NewPersistent(store EventStore, ttl time.Duration) *Persistent {
	return &Persistent{store: store, ttl: ttl, nowF: time.Now}
}

func (p *Persistent) Seen(ctx context.Context, id string) (bool, error) {
	return p.store.IsEventProcessed(ctx, id, p.nowF().Add(-p.ttl))
}

func (p *Persistent) Mark(ctx context.Context, id string) error {
	_, err := p.store.MarkEventProcessed(ctx, id, p.nowF())
	return err
}

func (p *Persistent) MarkIfNew(ctx context.Context, id string) (bool, error) {
	return p.store.MarkEventProcessed(ctx, id, p.nowF())
}

func (p *Persistent) Sweep(ctx context.Context) (int, error) {
	n, err := p.store.PruneProcessedEvents(ctx, p.nowF().Add(-p.ttl))
	return int(n), err
}
