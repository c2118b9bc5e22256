package archiver

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/testutil"
	"streamrelay/pkg/types"
)

// blockingStore holds every StoreAlert call until release is closed
type blockingStore struct {
	*testutil.MemoryStore
	release chan struct{}
}

func (s *blockingStore) StoreAlert(ctx context.Context, alert *types.Alert) error {
	<-s.release
	return s.MemoryStore.StoreAlert(ctx, alert)
}

func alert(i int) *types.Alert {
	return &types.Alert{ID: fmt.Sprintf("a%d", i), StreamID: "s1", UserID: "ml",
		Severity: types.SeverityLow, Message: "m", Timestamp: int64(i)}
}

func TestArchiver_StartStopLifecycle(t *testing.T) {
	a := New(testutil.NewMemoryStore())

	assert.ErrorIs(t, a.PersistAlert(alert(1)), ErrNotRunning)
	assert.ErrorIs(t, a.Stop(), ErrNotRunning)

	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyRunning)
	require.NoError(t, a.Stop())
	assert.ErrorIs(t, a.PersistAlert(alert(2)), ErrNotRunning)
}

func TestArchiver_OutlivesCancelledStartContext(t *testing.T) {
	store := testutil.NewMemoryStore()
	a := New(store)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	cancel()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, a.PersistAlert(alert(1)))
	at := time.Now()
	require.NoError(t, a.TouchStream("s1", at))
	require.NoError(t, a.Stop())

	assert.Len(t, store.Alerts(), 1, "accepted alert is stored after the start context ends")
	touched, ok := store.Touched("s1")
	require.True(t, ok)
	assert.True(t, touched.Equal(at))
}

func TestArchiver_PersistsAlertsAndTouches(t *testing.T) {
	store := testutil.NewMemoryStore()
	a := New(store)
	require.NoError(t, a.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, a.PersistAlert(alert(i)))
	}
	at := time.Now()
	require.NoError(t, a.TouchStream("s1", at))
	require.NoError(t, a.Stop())

	assert.Len(t, store.Alerts(), 10, "stop flushes pending writes")
	touched, ok := store.Touched("s1")
	require.True(t, ok)
	assert.True(t, touched.Equal(at))
}

func TestArchiver_QueueFullDropsAndCounts(t *testing.T) {
	store := &blockingStore{MemoryStore: testutil.NewMemoryStore(), release: make(chan struct{})}
	var dropped atomic.Int32
	a := New(store, WithQueueSize(2), WithDropHook(func() { dropped.Add(1) }))
	require.NoError(t, a.Start(context.Background()))

	// First alert is taken by the worker and blocks; two more fill the queue
	require.NoError(t, a.PersistAlert(alert(0)))
	require.Eventually(t, func() bool { return a.QueueLength() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, a.PersistAlert(alert(1)))
	require.NoError(t, a.PersistAlert(alert(2)))

	assert.ErrorIs(t, a.PersistAlert(alert(3)), ErrQueueFull)
	assert.Equal(t, int32(1), dropped.Load())

	close(store.release)
	require.NoError(t, a.Stop())
	assert.Len(t, store.Alerts(), 3)
}

func TestArchiver_StoreErrorsAreLogged(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SetErr(fmt.Errorf("read-only filesystem"))
	a := New(store)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.PersistAlert(alert(1)), "enqueue succeeds even if the write later fails")
	require.NoError(t, a.Stop())
	assert.Equal(t, 1, store.Calls("StoreAlert"))
}

func TestArchiver_NilAlert(t *testing.T) {
	a := New(testutil.NewMemoryStore())
	assert.ErrorIs(t, a.PersistAlert(nil), ErrNilAlert)
}
