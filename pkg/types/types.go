package types

import "time"

// CCPairStatus represents the lifecycle state of a connector-credential pair.
type CCPairStatus string

const (
	CCPairStatusScheduled       CCPairStatus = "SCHEDULED"
	CCPairStatusInitialIndexing CCPairStatus = "INITIAL_INDEXING"
	CCPairStatusActive          CCPairStatus = "ACTIVE"
	CCPairStatusPaused          CCPairStatus = "PAUSED"
	CCPairStatusDeleting        CCPairStatus = "DELETING"
)

// IndexingTrigger is an operator-requested override consulted and cleared
// by the controller's kick-off phase.
type IndexingTrigger string

const (
	IndexingTriggerNone    IndexingTrigger = ""
	IndexingTriggerReindex IndexingTrigger = "REINDEX"
	IndexingTriggerUpdate  IndexingTrigger = "UPDATE"
)

// CCPair binds a connector to a credential and tracks the operational state
// that governs whether the controller may start a new attempt for it.
type CCPair struct {
	ID                    int64
	ConnectorID           int64
	CredentialID          int64
	Status                CCPairStatus
	IndexingTrigger       IndexingTrigger
	InRepeatedErrorState  bool
	LastSuccessfulIndexAt time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IndexAttemptStatus is the lifecycle state of a single indexing run.
type IndexAttemptStatus string

const (
	IndexAttemptNotStarted     IndexAttemptStatus = "NOT_STARTED"
	IndexAttemptInProgress     IndexAttemptStatus = "IN_PROGRESS"
	IndexAttemptSuccess        IndexAttemptStatus = "SUCCESS"
	IndexAttemptPartialSuccess IndexAttemptStatus = "PARTIAL_SUCCESS"
	IndexAttemptFailed         IndexAttemptStatus = "FAILED"
	IndexAttemptCanceled       IndexAttemptStatus = "CANCELED"
)

// IsTerminal reports whether the attempt has reached a final status.
func (s IndexAttemptStatus) IsTerminal() bool {
	switch s {
	case IndexAttemptSuccess, IndexAttemptPartialSuccess, IndexAttemptFailed, IndexAttemptCanceled:
		return true
	default:
		return false
	}
}

// IndexAttempt is a single indexing run of a cc-pair under a specific set of
// search settings, identified by a monotonically increasing integer ID.
type IndexAttempt struct {
	ID               int64
	CCPairID         int64
	SearchSettingsID int64
	Status           IndexAttemptStatus
	FailureReason    string
	FullExceptionTrace string
	TotalDocsIndexed int64
	NewDocsIndexed   int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IndexAttemptError records a per-document failure observed while processing
// a batch of an attempt. Errors are resolved (IsResolved=true) once a later
// batch reports the same document succeeding.
type IndexAttemptError struct {
	ID         int64
	AttemptID  int64
	CCPairID   int64
	DocumentID string
	Failure    string
	IsResolved bool
	CreatedAt  time.Time
}

// SearchSettings is the embedding/model configuration an attempt runs under.
type SearchSettings struct {
	ID                  int64
	IsCurrent           bool
	BackgroundReindex   bool
	ProviderConfigured  bool
	EmbeddingModelName  string
	CreatedAt           time.Time
}

// FencePayload is the value stored at a fence key. Submitted and the two IDs
// are written by the controller when the fence is created; Started is set by
// the fetching worker once it has passed the critical-section lock.
type FencePayload struct {
	Submitted       time.Time
	Started         *time.Time
	IndexAttemptID  int64
	CeleryTaskID    string
}

// DocExtractionContext is the fetcher-side batch bookkeeping struct. Source
// identifies the connector kind; DocExtractionCompleteBatchNum is set once
// the fetcher knows the total batch count (nil while fetching continues).
type DocExtractionContext struct {
	Source                        string
	DocExtractionCompleteBatchNum *int
}

// DocIndexingContext accumulates the processing-side counters shared across
// all doc-processing tasks of one attempt, under the cross-batch state lock.
type DocIndexingContext struct {
	BatchesDone       int
	UnfinishedBatches int
	TotalFailures     int
	NetDocChange      int64
	TotalChunks       int64
}

// Complete reports whether every known batch has finished processing.
func (c *DocIndexingContext) Complete(extraction *DocExtractionContext) bool {
	return extraction.DocExtractionCompleteBatchNum != nil &&
		c.BatchesDone >= *extraction.DocExtractionCompleteBatchNum
}
