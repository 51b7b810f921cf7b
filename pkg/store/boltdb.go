package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nimbusdata/indexctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCCPairs        = []byte("cc_pairs")
	bucketSearchSettings = []byte("search_settings")
	bucketAttempts       = []byte("index_attempts")
	bucketAttemptErrors  = []byte("index_attempt_errors")
	bucketSequences      = []byte("sequences")
)

// BoltStore implements Store using an embedded BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the indexctl database file under
// dataDir and ensures all buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "indexctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCCPairs, bucketSearchSettings, bucketAttempts, bucketAttemptErrors, bucketSequences} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// CC pairs

func (s *BoltStore) CreateCCPair(cc *types.CCPair) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCCPairs)
		data, err := json.Marshal(cc)
		if err != nil {
			return err
		}
		return b.Put(itob(cc.ID), data)
	})
}

func (s *BoltStore) GetCCPair(id int64) (*types.CCPair, error) {
	var cc types.CCPair
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCCPairs)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("cc-pair not found: %d", id)
		}
		return json.Unmarshal(data, &cc)
	})
	if err != nil {
		return nil, err
	}
	return &cc, nil
}

func (s *BoltStore) ListCCPairs() ([]*types.CCPair, error) {
	var ccs []*types.CCPair
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCCPairs)
		return b.ForEach(func(k, v []byte) error {
			var cc types.CCPair
			if err := json.Unmarshal(v, &cc); err != nil {
				return err
			}
			ccs = append(ccs, &cc)
			return nil
		})
	})
	return ccs, err
}

func (s *BoltStore) UpdateCCPair(cc *types.CCPair) error {
	return s.CreateCCPair(cc)
}

// Search settings

// CreateSearchSettings persists ss, assigning it the next sequence ID.
func (s *BoltStore) CreateSearchSettings(ss *types.SearchSettings) (int64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		seqBucket := tx.Bucket(bucketSequences)
		id, err := seqBucket.NextSequence()
		if err != nil {
			return err
		}
		ss.ID = int64(id)

		b := tx.Bucket(bucketSearchSettings)
		data, err := json.Marshal(ss)
		if err != nil {
			return err
		}
		return b.Put(itob(ss.ID), data)
	})
	if err != nil {
		return 0, err
	}
	return ss.ID, nil
}

func (s *BoltStore) UpdateSearchSettings(ss *types.SearchSettings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSearchSettings)
		data, err := json.Marshal(ss)
		if err != nil {
			return err
		}
		return b.Put(itob(ss.ID), data)
	})
}

func (s *BoltStore) GetSearchSettings(id int64) (*types.SearchSettings, error) {
	var ss types.SearchSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSearchSettings)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("search settings not found: %d", id)
		}
		return json.Unmarshal(data, &ss)
	})
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

// ListSearchSettingsForCCPair returns every search-settings row a cc-pair
// should be evaluated against: the current settings plus any older ones
// with BackgroundReindex enabled.
func (s *BoltStore) ListSearchSettingsForCCPair(ccPairID int64) ([]*types.SearchSettings, error) {
	var all []*types.SearchSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSearchSettings)
		return b.ForEach(func(k, v []byte) error {
			var ss types.SearchSettings
			if err := json.Unmarshal(v, &ss); err != nil {
				return err
			}
			if ss.IsCurrent || ss.BackgroundReindex {
				all = append(all, &ss)
			}
			return nil
		})
	})
	return all, err
}

func (s *BoltStore) CurrentSearchSettings() (*types.SearchSettings, error) {
	var found *types.SearchSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSearchSettings)
		return b.ForEach(func(k, v []byte) error {
			var ss types.SearchSettings
			if err := json.Unmarshal(v, &ss); err != nil {
				return err
			}
			if ss.IsCurrent {
				found = &ss
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("no current search settings configured")
	}
	return found, nil
}

// Index attempts

// CreateIndexAttempt inserts a new attempt, assigning it the next
// monotonic ID from the sequences bucket, and returns the assigned ID.
func (s *BoltStore) CreateIndexAttempt(a *types.IndexAttempt) (int64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		seqBucket := tx.Bucket(bucketSequences)
		id, err := seqBucket.NextSequence()
		if err != nil {
			return err
		}
		a.ID = int64(id)

		b := tx.Bucket(bucketAttempts)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(itob(a.ID), data)
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func (s *BoltStore) GetIndexAttempt(id int64) (*types.IndexAttempt, error) {
	var a types.IndexAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("index attempt not found: %d", id)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) UpdateIndexAttempt(a *types.IndexAttempt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(itob(a.ID), data)
	})
}

func (s *BoltStore) ListNonTerminalAttempts() ([]*types.IndexAttempt, error) {
	var attempts []*types.IndexAttempt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		return b.ForEach(func(k, v []byte) error {
			var a types.IndexAttempt
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if !a.Status.IsTerminal() {
				attempts = append(attempts, &a)
			}
			return nil
		})
	})
	return attempts, err
}

func (s *BoltStore) DeleteIndexAttempt(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttempts)
		return b.Delete(itob(id))
	})
}

// Index attempt errors

func (s *BoltStore) CreateIndexAttemptError(e *types.IndexAttemptError) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		seqBucket := tx.Bucket(bucketSequences)
		id, err := seqBucket.NextSequence()
		if err != nil {
			return err
		}
		e.ID = int64(id)

		b := tx.Bucket(bucketAttemptErrors)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(itob(e.ID), data)
	})
}

func (s *BoltStore) ListUnresolvedErrors(attemptID int64) ([]*types.IndexAttemptError, error) {
	var errs []*types.IndexAttemptError
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttemptErrors)
		return b.ForEach(func(k, v []byte) error {
			var e types.IndexAttemptError
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.AttemptID == attemptID && !e.IsResolved {
				errs = append(errs, &e)
			}
			return nil
		})
	})
	return errs, err
}

func (s *BoltStore) ResolveIndexAttemptError(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAttemptErrors)
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("index attempt error not found: %d", id)
		}
		var e types.IndexAttemptError
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		e.IsResolved = true
		out, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return b.Put(itob(id), out)
	})
}
