// Package dedup tracks provider event ids that were already processed so
// that webhook redeliveries cause no second side effect.
//
// Ids are remembered for a bounded window, sized to the provider's webhook
// retry period, and the in-memory set is capped at a maximum entry count.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduplicator is implemented by Window and Persistent.
type Deduplicator interface {
	// Seen reports whether id was marked within the window.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as processed.
	Mark(ctx context.Context, id string) error
	// MarkIfNew atomically records id and reports whether it was new.
	MarkIfNew(ctx context.Context, id string) (bool, error)
	// Sweep drops expired ids and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

type entry struct {
	id       string
	markedAt time.Time
}

// Window is an in-memory expiring id set.
type Window struct {
	ttl        time.Duration
	maxEntries int
	nowF       func() time.Time

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // oldest first
}

// NewWindow returns a set that forgets ids after ttl. When maxEntries is
// positive the oldest ids are evicted once the cap is reached.
func NewWindow(ttl time.Duration, maxEntries int) *Window {
	return &Window{
		ttl:        ttl,
		maxEntries: maxEntries,
		nowF:       time.Now,
		index:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

func (w *Window) Seen(_ context.Context, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.liveLocked(id, w.nowF()), nil
}

func (w *Window) Mark(ctx context.Context, id string) error {
	_, err := w.MarkIfNew(ctx, id)
	return err
}

func (w *Window) MarkIfNew(_ context.Context, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowF()
	if w.liveLocked(id, now) {
		return false, nil
	}
	if el, ok := w.index[id]; ok {
		// expired but not yet swept
		w.order.Remove(el)
		delete(w.index, id)
	}

	w.index[id] = w.order.PushBack(&entry{id: id, markedAt: now})
	for w.maxEntries > 0 && w.order.Len() > w.maxEntries {
		w.removeLocked(w.order.Front())
	}
	return true, nil
}

func (w *Window) Sweep(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.nowF().Add(-w.ttl)
	n := 0
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if el.Value.(*entry).markedAt.After(cutoff) {
			break
		}
		w.removeLocked(el)
		n++
	}
	return n, nil
}

// Len returns the number of ids held, including expired ones not yet swept.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

func (w *Window) liveLocked(id string, now time.Time) bool {
	el, ok := w.index[id]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry).markedAt) < w.ttl
}

func (w *Window) removeLocked(el *list.Element) {
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).id)
}
