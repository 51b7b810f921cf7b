package fence

import (
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFenceStore(t *testing.T) *Store {
	t.Helper()
	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return New(k, "acme")
}

func TestFenceCreateAndReadPayload(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	payload := types.FencePayload{Submitted: time.Now(), IndexAttemptID: 100}
	require.NoError(t, s.SetFence(ns, payload, time.Hour))

	exists, err := s.FenceExists(ns)
	require.NoError(t, err)
	assert.True(t, exists)

	got, found, err := s.GetPayload(ns)
	require.NoError(t, err)
	require.True(t, found)
	assert.EqualValues(t, 100, got.IndexAttemptID)
	assert.Nil(t, got.Started)
}

func TestSetStartedUpdatesPayloadInPlace(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}
	require.NoError(t, s.SetFence(ns, types.FencePayload{IndexAttemptID: 100}, time.Hour))

	now := time.Now()
	require.NoError(t, s.SetStarted(ns, now))

	got, _, err := s.GetPayload(ns)
	require.NoError(t, err)
	require.NotNil(t, got.Started)
	assert.WithinDuration(t, now, *got.Started, time.Second)
	assert.EqualValues(t, 100, got.IndexAttemptID)
}

func TestCompletionIsSingleAssignment(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	first, err := s.SetCompletion(ns, 200)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.SetCompletion(ns, 500)
	require.NoError(t, err)
	assert.False(t, second)

	code, found, err := s.GetCompletion(ns)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200, code)
}

func TestResetRemovesFenceAndMembership(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	require.NoError(t, s.SetFence(ns, types.FencePayload{IndexAttemptID: 100}, time.Hour))
	require.NoError(t, s.SetWatchdogActive(ns, time.Minute))
	_, err := s.SetCompletion(ns, 200)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ns))

	exists, err := s.FenceExists(ns)
	require.NoError(t, err)
	assert.False(t, exists)

	members, err := s.ScanActiveFences()
	require.NoError(t, err)
	assert.Empty(t, members)

	_, found, err := s.GetCompletion(ns)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestActiveTTLNegativeWhenAbsent(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	ttl, err := s.ActiveTTL(ns)
	require.NoError(t, err)
	assert.Less(t, ttl, time.Duration(0))

	require.NoError(t, s.SetGeneratorActive(ns, time.Minute))
	ttl, err = s.ActiveTTL(ns)
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestScanActiveFencesReturnsRegisteredNamespaces(t *testing.T) {
	s := newTestFenceStore(t)
	a := Namespace{CCPairID: 7, SearchSettingsID: 2}
	b := Namespace{CCPairID: 8, SearchSettingsID: 2}

	require.NoError(t, s.SetFence(a, types.FencePayload{IndexAttemptID: 100}, time.Hour))
	require.NoError(t, s.SetFence(b, types.FencePayload{IndexAttemptID: 101}, time.Hour))

	namespaces, err := s.ScanActiveFences()
	require.NoError(t, err)
	assert.ElementsMatch(t, []Namespace{a, b}, namespaces)
}

func TestReconcileActiveFencesRecoversFromMissingMembership(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	require.NoError(t, s.SetFence(ns, types.FencePayload{IndexAttemptID: 100}, time.Hour))
	require.NoError(t, s.Deregister(ns))

	members, err := s.ScanActiveFences()
	require.NoError(t, err)
	assert.Empty(t, members)

	added, err := s.ReconcileActiveFences()
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	members, err = s.ScanActiveFences()
	require.NoError(t, err)
	assert.Equal(t, []Namespace{ns}, members)
}

func TestProgressCounterIncrements(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	v, err := s.IncrementProgress(ns, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)

	v, err = s.GetProgress(ns)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestTerminateSignal(t *testing.T) {
	s := newTestFenceStore(t)
	ns := Namespace{CCPairID: 7, SearchSettingsID: 2}

	terminating, err := s.Terminating(ns, "task-1")
	require.NoError(t, err)
	assert.False(t, terminating)

	require.NoError(t, s.SetTerminate(ns, "task-1"))

	terminating, err = s.Terminating(ns, "task-1")
	require.NoError(t, err)
	assert.True(t, terminating)
}
