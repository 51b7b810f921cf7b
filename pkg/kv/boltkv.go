package kv

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("kv_entries")
	bucketSets    = []byte("kv_sets")
)

// entry is the on-disk representation of a KV value.
type entry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e *entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// BoltKV implements Store on an embedded BoltDB file of its own
// (indexctl-kv.db), separate from the row-store database.
type BoltKV struct {
	db *bolt.DB
}

// NewBoltKV opens (creating if absent) the KV database file under dataDir.
func NewBoltKV(dataDir string) (*BoltKV, error) {
	path := filepath.Join(dataDir, "indexctl-kv.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketSets} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

func (s *BoltKV) Close() error { return s.db.Close() }

func (s *BoltKV) Set(key string, value []byte, ttl time.Duration) error {
	e := entry{Value: value}
	if ttl > 0 {
		t := time.Now().Add(ttl)
		e.ExpiresAt = &t
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), data)
	})
}

func (s *BoltKV) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	written := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		existing := b.Get([]byte(key))
		if existing != nil {
			var e entry
			if err := json.Unmarshal(existing, &e); err != nil {
				return err
			}
			if !e.expired(time.Now()) {
				return nil
			}
		}

		ne := entry{Value: value}
		if ttl > 0 {
			t := time.Now().Add(ttl)
			ne.ExpiresAt = &t
		}
		data, err := json.Marshal(&ne)
		if err != nil {
			return err
		}
		written = true
		return b.Put([]byte(key), data)
	})
	return written, err
}

func (s *BoltKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if e.expired(time.Now()) {
			return nil
		}
		value = e.Value
		found = true
		return nil
	})
	return value, found, err
}

func (s *BoltKV) TTL(key string) (time.Duration, error) {
	var ttl time.Duration = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if e.ExpiresAt == nil {
			ttl = time.Hour * 24 * 365 // effectively unbounded
			return nil
		}
		remaining := time.Until(*e.ExpiresAt)
		if remaining > 0 {
			ttl = remaining
		}
		return nil
	})
	return ttl, err
}

func (s *BoltKV) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

func (s *BoltKV) Incr(key string, delta int64, ttl time.Duration) (int64, error) {
	var result int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		data := b.Get([]byte(key))

		var e entry
		var current int64
		if data != nil {
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			if !e.expired(time.Now()) {
				if err := json.Unmarshal(e.Value, &current); err != nil {
					return fmt.Errorf("incr: value at %q is not an integer: %w", key, err)
				}
			} else {
				e = entry{}
			}
		}

		current += delta
		result = current

		valBytes, err := json.Marshal(current)
		if err != nil {
			return err
		}
		e.Value = valBytes
		if e.ExpiresAt == nil && ttl > 0 {
			t := time.Now().Add(ttl)
			e.ExpiresAt = &t
		}
		out, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), out)
	})
	return result, err
}

func (s *BoltKV) Keys(prefix string) ([]string, error) {
	var keys []string
	now := time.Now()
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.expired(now) {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	return keys, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *BoltKV) setBucketName(set string) []byte {
	return []byte("set:" + set)
}

func (s *BoltKV) SAdd(set, member string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketSets).CreateBucketIfNotExists(s.setBucketName(set))
		if err != nil {
			return err
		}
		return b.Put([]byte(member), []byte{1})
	})
}

func (s *BoltKV) SRem(set, member string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSets).Bucket(s.setBucketName(set))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(member))
	})
}

func (s *BoltKV) SMembers(set string) ([]string, error) {
	var members []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSets).Bucket(s.setBucketName(set))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			members = append(members, string(k))
			return nil
		})
	})
	return members, err
}

// Sweep deletes every expired entry and reports how many it removed.
func (s *BoltKV) Sweep() (int, error) {
	removed := 0
	now := time.Now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
