package reconcile

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/paylink-relay/internal/storage"
)

func newTestReconciler(t *testing.T) (*Reconciler, *storage.Storage) {
	t.Helper()
	store, err := storage.New(context.Background(), storage.DriverSQLite, filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestReconcile_SingleSession(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	_, err := store.EnsureDevice(ctx, "D1")
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "D1", "cs_1", 500)
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, "5.00", res.Balance.StringFixed(2))
	assert.Equal(t, "5.00", res.Credited.StringFixed(2))
}

func TestReconcile_DisjointSessionsSum(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	_, err := store.EnsureDevice(ctx, "D1")
	require.NoError(t, err)

	_, err = r.Reconcile(ctx, "D1", "cs_1", 1999)
	require.NoError(t, err)
	res, err := r.Reconcile(ctx, "D1", "cs_2", 500)
	require.NoError(t, err)

	assert.Equal(t, "24.99", res.Balance.StringFixed(2))
}

func TestReconcile_SameSessionFromTwoPaths(t *testing.T) {
	r, store := newTestReconciler(t)
	ctx := context.Background()
	_, err := store.EnsureDevice(ctx, "D1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Reconcile(ctx, "D1", "cs_1", 500)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.NotEqual(t, results[0].Applied, results[1].Applied)
	d, err := store.GetDevice(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), d.BalanceMinor)
}

func TestReconcile_Errors(t *testing.T) {
	r, _ := newTestReconciler(t)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "ghost", "cs_1", 500)
	assert.ErrorIs(t, err, ErrReconciliation)

	_, err = r.Reconcile(ctx, "", "cs_1", 500)
	assert.ErrorIs(t, err, ErrReconciliation)

	_, err = r.Reconcile(ctx, "D1", "cs_1", -1)
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestMinorMajorConversion(t *testing.T) {
	assert.Equal(t, "19.99", MinorToMajor(1999).StringFixed(2))
	assert.Equal(t, "0.05", MinorToMajor(5).StringFixed(2))
	assert.Equal(t, int64(1999), MajorToMinor(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), MajorToMinor(decimal.RequireFromString("9.999")))
}
