package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/jobclient"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FenceReadinessTimeout = 200 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MemorySampleInterval = time.Hour
	cfg.SpawnGrace = time.Second
	cfg.GeneratorLockTTL = time.Minute
	cfg.HeartbeatTTL = time.Minute
	return cfg
}

func newTestWatchdog(t *testing.T) (*Watchdog, store.Store, *fence.Store, kv.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	fences := fence.New(k, "acme")
	w := New(st, fences, k, testConfig())
	return w, st, fences, k
}

func readyTask(t *testing.T, st store.Store, fences *fence.Store, ccStatus types.CCPairStatus) queue.Task {
	t.Helper()
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: ccStatus}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1, Status: types.IndexAttemptNotStarted})
	require.NoError(t, err)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, fences.SetFence(ns, types.FencePayload{IndexAttemptID: attemptID}, time.Hour))

	task := queue.Task{ID: "task-1", Kind: queue.KindFetch, CCPairID: 1, SearchSettingsID: 1, AttemptID: attemptID}
	require.NoError(t, fences.SetCeleryTaskID(ns, task.ID))
	return task
}

func TestSuperviseRejectsDeletingCCPair(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusDeleting)

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitBlockedByDeletion, code)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	marker, found, err := fences.GetCompletion(ns)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, jobclient.ExitBlockedByDeletion, marker)
}

func TestSuperviseRejectsPausedCCPair(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusPaused)

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitBlockedByStop, code)
}

func TestSuperviseTimesOutWhenFenceNeverReady(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: types.CCPairStatusActive}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1})
	require.NoError(t, err)
	task := queue.Task{ID: "task-1", Kind: queue.KindFetch, CCPairID: 1, SearchSettingsID: 1, AttemptID: attemptID}

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitFenceNotFound, code)
}

func TestSuperviseDetectsFenceMismatch(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusActive)
	task.AttemptID = task.AttemptID + 999 // does not match the fence's payload

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitFenceMismatch, code)
}

func TestSuperviseSucceedsOnCleanExit(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusActive)

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitOK, code)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	payload, found, err := fences.GetPayload(ns)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotNil(t, payload.Started)

	attempt, err := st.GetIndexAttempt(task.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptInProgress, attempt.Status)
}

func TestSupervisePropagatesNonZeroExitCode(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusActive)

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 247"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitValidationError, code)
}

func TestSuperviseRefusesDuplicateRunUnderHeldLock(t *testing.T) {
	w, st, fences, k := newTestWatchdog(t)
	task := readyTask(t, st, fences, types.CCPairStatusActive)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	ok, err := k.SetNX("lock_generator_lock:"+ns.String(), []byte("someone-else"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "exit 0"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitAlreadyRunning, code)
}

func TestSuperviseKillsChildOnExternalTermination(t *testing.T) {
	w, st, fences, _ := newTestWatchdog(t)
	w.cfg.PollInterval = 10 * time.Millisecond
	task := readyTask(t, st, fences, types.CCPairStatusActive)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	go func() {
		time.Sleep(15 * time.Millisecond)
		_ = fences.SetTerminate(ns, task.ID)
	}()

	spec := jobclient.NewSpec("/bin/sh", []string{"-c", "sleep 5"}, nil)
	code, err := w.Supervise(context.Background(), task, spec)
	require.NoError(t, err)
	assert.Equal(t, jobclient.ExitSIGKILL, code)
}

func TestSampleRSSReturnsFalseForInvalidPID(t *testing.T) {
	_, ok := sampleRSS(0)
	assert.False(t, ok)

	_, ok = sampleRSS(1 << 30)
	assert.False(t, ok)
}
