package processing

import (
	"context"
	"testing"
	"time"

	"github.com/nimbusdata/indexctl/pkg/fence"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/queue"
	"github.com/nimbusdata/indexctl/pkg/store"
	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	docs  []Document
	found bool
	err   error
}

func (s stubLoader) Load(ctx context.Context, ns fence.Namespace, batchNum int) ([]Document, bool, error) {
	return s.docs, s.found, s.err
}

func (s stubLoader) Delete(ctx context.Context, ns fence.Namespace, batchNum int) error {
	return nil
}

type stubPipeline struct {
	result PipelineResult
	err    error
}

func (s stubPipeline) Run(ctx context.Context, docs []Document, renew func() error) (PipelineResult, error) {
	return s.result, s.err
}

func newTestProcessor(t *testing.T, loader BatchLoader, pipeline Pipeline) (*Processor, store.Store, *fence.Store, *ContextStore) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })

	fences := fence.New(k, "acme")
	contexts := NewContextStore(k, "acme")
	p := New(st, fences, contexts, k, loader, pipeline)
	return p, st, fences, contexts
}

func setupBatchTask(t *testing.T, st store.Store, fences *fence.Store, batchNum int) queue.Task {
	t.Helper()
	require.NoError(t, st.CreateCCPair(&types.CCPair{ID: 1, Status: types.CCPairStatusInitialIndexing}))
	attemptID, err := st.CreateIndexAttempt(&types.IndexAttempt{CCPairID: 1, SearchSettingsID: 1, Status: types.IndexAttemptInProgress})
	require.NoError(t, err)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, fences.SetFence(ns, types.FencePayload{IndexAttemptID: attemptID}, time.Hour))

	return queue.Task{ID: "t1", Kind: queue.KindProcess, CCPairID: 1, SearchSettingsID: 1, AttemptID: attemptID, BatchNum: batchNum}
}

func TestProcessBatchSkipsMissingBatch(t *testing.T) {
	p, _, _, _ := newTestProcessor(t, stubLoader{found: false}, stubPipeline{})
	task := queue.Task{CCPairID: 1, SearchSettingsID: 1, AttemptID: 1, BatchNum: 0}
	require.NoError(t, p.ProcessBatch(context.Background(), task))
}

func TestProcessBatchAccumulatesAndDoesNotFinalizeWithoutExtractionCount(t *testing.T) {
	loader := stubLoader{found: true, docs: []Document{{ID: "d1"}, {ID: "d2"}}}
	pipeline := stubPipeline{result: PipelineResult{NewDocs: 2, TotalDocs: 2, TotalChunks: 4}}
	p, st, fences, contexts := newTestProcessor(t, loader, pipeline)
	task := setupBatchTask(t, st, fences, 0)

	require.NoError(t, p.ProcessBatch(context.Background(), task))

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	idx, err := contexts.GetIndexingContext(ns)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.BatchesDone)
	assert.Equal(t, int64(2), idx.NetDocChange)

	attempt, err := st.GetIndexAttempt(task.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptInProgress, attempt.Status)

	exists, err := fences.FenceExists(ns)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessBatchFinalizesSuccessOnLastBatch(t *testing.T) {
	loader := stubLoader{found: true, docs: []Document{{ID: "d1"}}}
	pipeline := stubPipeline{result: PipelineResult{NewDocs: 1, TotalDocs: 1}}
	p, st, fences, contexts := newTestProcessor(t, loader, pipeline)
	task := setupBatchTask(t, st, fences, 0)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	done := 1
	require.NoError(t, contexts.PutExtractionContext(ns, types.DocExtractionContext{DocExtractionCompleteBatchNum: &done}))

	require.NoError(t, p.ProcessBatch(context.Background(), task))

	attempt, err := st.GetIndexAttempt(task.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, types.IndexAttemptSuccess, attempt.Status)

	exists, err := fences.FenceExists(ns)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProcessBatchAbortsOnPipelineError(t *testing.T) {
	loader := stubLoader{found: true, docs: []Document{{ID: "d1"}}}
	pipeline := stubPipeline{err: assertError("boom")}
	p, st, fences, _ := newTestProcessor(t, loader, pipeline)
	task := setupBatchTask(t, st, fences, 0)

	err := p.ProcessBatch(context.Background(), task)
	require.Error(t, err)

	attempt, getErr := st.GetIndexAttempt(task.AttemptID)
	require.NoError(t, getErr)
	assert.Equal(t, types.IndexAttemptFailed, attempt.Status)

	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	exists, existsErr := fences.FenceExists(ns)
	require.NoError(t, existsErr)
	assert.False(t, exists)
}

func TestProcessBatchAbortsOnFailureThreshold(t *testing.T) {
	loader := stubLoader{found: true, docs: []Document{{ID: "d1"}, {ID: "d2"}, {ID: "d3"}, {ID: "d4"}, {ID: "d5"}}}
	failures := make([]Failure, 0, 4)
	for i := 0; i < 4; i++ {
		failures = append(failures, Failure{DocumentID: "d" + string(rune('1'+i)), Reason: "boom"})
	}
	pipeline := stubPipeline{result: PipelineResult{NewDocs: 1, TotalDocs: 5, Failures: failures}}
	p, st, fences, _ := newTestProcessor(t, loader, pipeline)
	task := setupBatchTask(t, st, fences, 0)

	err := p.ProcessBatch(context.Background(), task)
	require.Error(t, err)

	attempt, getErr := st.GetIndexAttempt(task.AttemptID)
	require.NoError(t, getErr)
	assert.Equal(t, types.IndexAttemptFailed, attempt.Status)
}

func TestProcessBatchFinalizeDeletesBatchPayload(t *testing.T) {
	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	batches := NewKVBatchStore(k, "acme")
	fences := fence.New(k, "acme")
	contexts := NewContextStore(k, "acme")
	pipeline := stubPipeline{result: PipelineResult{NewDocs: 1, TotalDocs: 1}}
	p := New(st, fences, contexts, k, batches, pipeline)

	task := setupBatchTask(t, st, fences, 0)
	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, batches.Put(ns, 0, []Document{{ID: "d1"}}))
	done := 1
	require.NoError(t, contexts.PutExtractionContext(ns, types.DocExtractionContext{DocExtractionCompleteBatchNum: &done}))

	require.NoError(t, p.ProcessBatch(context.Background(), task))

	_, found, err := batches.Load(context.Background(), ns, 0)
	require.NoError(t, err)
	assert.False(t, found, "finalize should delete the batch payload it just processed")
}

func TestProcessBatchAbortDeletesBatchPayload(t *testing.T) {
	k, err := kv.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	batches := NewKVBatchStore(k, "acme")
	fences := fence.New(k, "acme")
	contexts := NewContextStore(k, "acme")
	pipeline := stubPipeline{err: assertError("boom")}
	p := New(st, fences, contexts, k, batches, pipeline)

	task := setupBatchTask(t, st, fences, 0)
	ns := fence.Namespace{CCPairID: 1, SearchSettingsID: 1}
	require.NoError(t, batches.Put(ns, 0, []Document{{ID: "d1"}}))

	require.Error(t, p.ProcessBatch(context.Background(), task))

	_, found, err := batches.Load(context.Background(), ns, 0)
	require.NoError(t, err)
	assert.False(t, found, "abort should delete the batch payload that failed")
}

func TestFailureThresholdExceeded(t *testing.T) {
	assert.False(t, failureThresholdExceeded(types.DocIndexingContext{TotalFailures: 3, NetDocChange: 10}))
	assert.True(t, failureThresholdExceeded(types.DocIndexingContext{TotalFailures: 4, NetDocChange: 5}))
	assert.False(t, failureThresholdExceeded(types.DocIndexingContext{TotalFailures: 4, NetDocChange: 1000}))
}

type assertError string

func (e assertError) Error() string { return string(e) }
