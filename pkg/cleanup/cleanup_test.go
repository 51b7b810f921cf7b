package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/processing"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(t *testing.T) (*Sweeper, store.Store, *fence.Store, *processing.ContextStore, *processing.KVBatchStore) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	fences := fence.New(k, "acme")
	contexts := processing.NewContextStore(k, "acme")
	loader := processing.NewKVBatchStore(k, "acme")
	return New(st, fences, contexts, loader), st, fences, contexts, loader
}

func TestSweepReclaimsAttemptWithNoFence(t *testing.T) {
	s, st, _, contexts, loader := newTestSweeper(t)
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: types.CCPairStatusInitialIndexing}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1, Status: types.IndexAttemptInProgress})
	require.NoError(t, err)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, contexts.PutIndexingContext(ns, types.DocIndexingContext{BatchesDone: 1}))
	require.NoError(t, loader.Put(ns, 0, []processing.Document{{ID: "d1"}}))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptFailed, attempt.Status)
	assert.Equal(t, "unfenced attempt", attempt.FailureReason)

	idx, err := contexts.GetIndexingContext(ns)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.BatchesDone)

	_, found, err := loader.Load(context.Background(), ns, 0)
	require.NoError(t, err)
	assert.False(t, found, "orphaned batch payload should be deleted by the sweep")
}

func TestSweepSkipsAttemptWithLiveFence(t *testing.T) {
	s, st, fences, _, _ := newTestSweeper(t)
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: types.CCPairStatusInitialIndexing}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1, Status: types.IndexAttemptInProgress})
	require.NoError(t, err)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, fences.SetFence(ns, types.FencePayload{IndexAttemptID: attemptID}, time.Hour))

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	attempt, err := st.GetIndexAttempt(attemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptInProgress, attempt.Status)
}
