package monitor

import (
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(t *testing.T) (*Monitor, store.Store, *fence.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	fences := fence.New(k, "acme")
	m := New(st, fences)
	m.crashGrace = time.Millisecond
	return m, st, fences
}

func setupAttempt(t *testing.T, st store.Store, fences *fence.Store, status types.CCPairStatus) (fence.Namespace, int64) {
	t.Helper()
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: status}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1, Status: types.IndexAttemptInProgress})
	require.NoError(t, err)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, fences.SetFence(ns, types.FencePayload{IndexAttemptID: attemptID}, time.Hour))
	return ns, attemptID
}

func TestCheckFenceFinalizesOnCompletionMarker(t *testing.T) {
	m, st, fences := newTestMonitor(t)
	ns, attemptID := setupAttempt(t, st, fences, types.CCPairStatusInitialIndexing)

	_, err := fences.SetCompletion(ns, jobclient.ExitOK)
	require.NoError(t, err)

	require.NoError(t, m.checkFence(ns))

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptSuccess, attempt.Status)

	cc, err := st.GetCCPair(1)
	require.NoError(t, err)
	assert.Equal(t, types.CCPairStatusActive, cc.Status)

	exists, err := fences.FenceExists(ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckFenceLeavesLiveFenceAlone(t *testing.T) {
	m, st, fences := newTestMonitor(t)
	ns, attemptID := setupAttempt(t, st, fences, types.CCPairStatusInitialIndexing)
	require.NoError(t, fences.SetWatchdogActive(ns, time.Hour))

	require.NoError(t, m.checkFence(ns))

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptInProgress, attempt.Status)

	exists, err := fences.FenceExists(ns)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCheckFenceConfirmsCrashAfterDoubleCheck(t *testing.T) {
	m, st, fences := newTestMonitor(t)
	ns, attemptID := setupAttempt(t, st, fences, types.CCPairStatusInitialIndexing)

	require.NoError(t, m.checkFence(ns))

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptFailed, attempt.Status)
	assert.Contains(t, attempt.FailureReason, "crashed")

	cc, err := st.GetCCPair(1)
	require.NoError(t, err)
	assert.True(t, cc.InRepeatedErrorState)

	exists, err := fences.FenceExists(ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckFenceDoesNotConfirmCrashIfHeartbeatRenewedDuringGrace(t *testing.T) {
	m, st, fences := newTestMonitor(t)
	m.crashGrace = 20 * time.Millisecond
	ns, attemptID := setupAttempt(t, st, fences, types.CCPairStatusInitialIndexing)

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = fences.SetWatchdogActive(ns, time.Hour)
	}()

	require.NoError(t, m.checkFence(ns))

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptInProgress, attempt.Status)
}

func TestCycleCountsAndTimesReconciliation(t *testing.T) {
	m, st, fences := newTestMonitor(t)
	setupAttempt(t, st, fences, types.CCPairStatusInitialIndexing)

	require.NoError(t, m.Cycle())
}
