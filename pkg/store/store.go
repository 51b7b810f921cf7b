package store

import "github.com/nimbusdata/indexctl/pkg/types"

// Store defines the durable-row persistence surface used by the
// orchestrator. It is implemented by BoltStore.
type Store interface {
	// CC pairs
	CreateCCPair(cc *types.CCPair) error
	GetCCPair(id int64) (*types.CCPair, error)
	ListCCPairs() ([]*types.CCPair, error)
	UpdateCCPair(cc *types.CCPair) error

	// Search settings
	CreateSearchSettings(ss *types.SearchSettings) (int64, error)
	UpdateSearchSettings(ss *types.SearchSettings) error
	GetSearchSettings(id int64) (*types.SearchSettings, error)
	ListSearchSettingsForCCPair(ccPairID int64) ([]*types.SearchSettings, error)
	CurrentSearchSettings() (*types.SearchSettings, error)

	// Index attempts
	CreateIndexAttempt(a *types.IndexAttempt) (int64, error)
	GetIndexAttempt(id int64) (*types.IndexAttempt, error)
	UpdateIndexAttempt(a *types.IndexAttempt) error
	ListNonTerminalAttempts() ([]*types.IndexAttempt, error)
	DeleteIndexAttempt(id int64) error

	// Index attempt errors
	CreateIndexAttemptError(e *types.IndexAttemptError) error
	ListUnresolvedErrors(attemptID int64) ([]*types.IndexAttemptError, error)
	ResolveIndexAttemptError(id int64) error

	Close() error
}
