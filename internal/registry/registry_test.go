package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ id string }

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) Emit(string, any) bool { return true }

type fakeStore struct {
	mu      sync.Mutex
	devices map[string]bool
	err     error
}

func (s *fakeStore) EnsureDevice(_ context.Context, deviceID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices == nil {
		s.devices = make(map[string]bool)
	}
	if s.devices[deviceID] {
		return false, nil
	}
	s.devices[deviceID] = true
	return true, nil
}

func newTestRegistry(store DeviceStore) *Registry {
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister_CreatesDeviceAndBinds(t *testing.T) {
	store := &fakeStore{}
	r := newTestRegistry(store)
	conn := &fakeConn{id: "c1"}

	require.NoError(t, r.Register(context.Background(), "D1", conn))

	got, ok := r.Resolve("D1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())
	assert.True(t, store.devices["D1"])
}

func TestRegister_LaterConnectionSupersedes(t *testing.T) {
	r := newTestRegistry(&fakeStore{})
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "D1", &fakeConn{id: "c1"}))
	require.NoError(t, r.Register(ctx, "D1", &fakeConn{id: "c2"}))

	got, ok := r.Resolve("D1")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())
	assert.Equal(t, 1, r.Len())
}

func TestRegister_StoreFailure(t *testing.T) {
	r := newTestRegistry(&fakeStore{err: errors.New("db down")})

	err := r.Register(context.Background(), "D1", &fakeConn{id: "c1"})
	assert.ErrorIs(t, err, ErrRegistration)

	_, ok := r.Resolve("D1")
	assert.False(t, ok)
}

func TestRegister_EmptyDeviceID(t *testing.T) {
	r := newTestRegistry(&fakeStore{})
	assert.ErrorIs(t, r.Register(context.Background(), "", &fakeConn{id: "c1"}), ErrRegistration)
}

func TestUnbind(t *testing.T) {
	r := newTestRegistry(&fakeStore{})
	ctx := context.Background()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	require.NoError(t, r.Register(ctx, "D1", c1))
	require.NoError(t, r.Register(ctx, "D2", c1))
	require.NoError(t, r.Register(ctx, "D3", c2))

	removed := r.Unbind(c1)
	assert.ElementsMatch(t, []string{"D1", "D2"}, removed)

	_, ok := r.Resolve("D1")
	assert.False(t, ok)
	_, ok = r.Resolve("D3")
	assert.True(t, ok)

	assert.Empty(t, r.Unbind(c1))
}

func TestUnbind_SupersededConnectionKeepsNewBinding(t *testing.T) {
	r := newTestRegistry(&fakeStore{})
	ctx := context.Background()
	old := &fakeConn{id: "old"}
	cur := &fakeConn{id: "new"}

	require.NoError(t, r.Register(ctx, "D1", old))
	require.NoError(t, r.Register(ctx, "D1", cur))

	assert.Empty(t, r.Unbind(old))
	got, ok := r.Resolve("D1")
	require.True(t, ok)
	assert.Equal(t, "new", got.ID())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := newTestRegistry(&fakeStore{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: fmt.Sprintf("c%d", i)}
			deviceID := fmt.Sprintf("D%d", i%10)
			_ = r.Register(ctx, deviceID, conn)
			r.Resolve(deviceID)
			if i%3 == 0 {
				r.Unbind(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 10)
}
