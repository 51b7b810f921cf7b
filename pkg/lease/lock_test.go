package lease

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	s, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAcquireIsExclusive(t *testing.T) {
	store := newTestStore(t)

	a := New(store, "check_indexing_beat_lock", time.Minute)
	b := New(store, "check_indexing_beat_lock", time.Minute)

	ok, err := a.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseIsNoopWhenNotOwned(t *testing.T) {
	store := newTestStore(t)
	l := New(store, "db_lock_key", time.Minute)

	assert.NoError(t, l.Release())
}

func TestReacquireFailsAfterLoss(t *testing.T) {
	store := newTestStore(t)
	l := New(store, "generator_lock_key", time.Millisecond)

	ok, err := l.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	err = l.Reacquire()
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestAcquireWaitTimesOut(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "filestore_lock_key", time.Minute)
	b := New(store, "filestore_lock_key", time.Minute)

	ok, err := a.Acquire()
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err = b.AcquireWait(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseThenReacquireByOther(t *testing.T) {
	store := newTestStore(t)
	a := New(store, "lock_key_by_batch_2", time.Minute)
	b := New(store, "lock_key_by_batch_2", time.Minute)

	ok, _ := a.Acquire()
	require.True(t, ok)
	require.NoError(t, a.Release())

	ok, err := b.Acquire()
	require.NoError(t, err)
	assert.True(t, ok)
}
