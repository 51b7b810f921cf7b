package kv

import "time"

// Store is the TTL-aware KV interface used throughout the fence and lease
// packages. Implementations must treat an expired key as absent on read.
type Store interface {
	// Set writes key=value. If ttl > 0 the key expires after ttl elapses;
	// ttl <= 0 means the key never expires on its own.
	Set(key string, value []byte, ttl time.Duration) error

	// SetNX writes key=value only if the key does not currently exist (or
	// has expired). It reports whether the write happened.
	SetNX(key string, value []byte, ttl time.Duration) (bool, error)

	// Get returns the value and true if key exists and has not expired.
	Get(key string) ([]byte, bool, error)

	// TTL returns the remaining time-to-live for key. A non-existent or
	// expired key returns a negative duration, matching the
	// active_ttl() contract ("negative if absent").
	TTL(key string) (time.Duration, error)

	// Delete removes key unconditionally. Deleting an absent key is a
	// no-op, not an error.
	Delete(key string) error

	// Incr atomically adds delta to the integer stored at key (treating an
	// absent or expired key as 0) and returns the new value. An existing
	// expiry is left unchanged; ttl applies only when the key has none.
	Incr(key string, delta int64, ttl time.Duration) (int64, error)

	// Keys returns all non-expired keys with the given prefix.
	Keys(prefix string) ([]string, error)

	// SAdd adds member to the named set.
	SAdd(set, member string) error

	// SRem removes member from the named set.
	SRem(set, member string) error

	// SMembers returns all members of the named set.
	SMembers(set string) ([]string, error)

	// Sweep deletes all expired keys. Safe to call concurrently and on a
	// timer; callers are not required to call it for correctness.
	Sweep() (int, error)

	Close() error
}
