package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdata/indexctl/pkg/kv"
	"github.com/nimbusdata/indexctl/pkg/log"
)

// Lock is a named, TTL-leased mutex. The zero value is not usable; create
// one with New.
type Lock struct {
	store kv.Store
	name  string
	ttl   time.Duration
	token string
}

// New creates a Lock for the given key name with the given lease TTL. The
// lock is not acquired until Acquire or AcquireWait is called.
func New(store kv.Store, name string, ttl time.Duration) *Lock {
	return &Lock{store: store, name: name, ttl: ttl}
}

func (l *Lock) key() string {
	return "lock_" + l.name
}

// Acquire attempts to take the lock without blocking. It reports whether
// the lock was acquired.
func (l *Lock) Acquire() (bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(l.key(), []byte(token), l.ttl)
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", l.name, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// AcquireWait polls Acquire at the given interval until it succeeds or ctx
// is done, whichever comes first.
func (l *Lock) AcquireWait(ctx context.Context, pollInterval time.Duration) (bool, error) {
	for {
		ok, err := l.Acquire()
		if err != nil || ok {
			return ok, err
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-time.After(pollInterval):
		}
	}
}

// Owned reports whether this Lock instance currently holds the lease,
// i.e. the stored token still matches the token this holder wrote.
func (l *Lock) Owned() (bool, error) {
	if l.token == "" {
		return false, nil
	}
	val, found, err := l.store.Get(l.key())
	if err != nil {
		return false, fmt.Errorf("lease: owned %s: %w", l.name, err)
	}
	if !found {
		return false, nil
	}
	return string(val) == l.token, nil
}

// Reacquire extends the lease TTL if this holder still owns it. It must be
// called before each long sub-step of a critical section. It is a no-op
// error (ErrNotOwned) if ownership was lost, e.g. to lease expiry.
func (l *Lock) Reacquire() error {
	owned, err := l.Owned()
	if err != nil {
		return err
	}
	if !owned {
		return ErrNotOwned
	}
	if err := l.store.Set(l.key(), []byte(l.token), l.ttl); err != nil {
		return fmt.Errorf("lease: reacquire %s: %w", l.name, err)
	}
	return nil
}

// Release drops the lock if owned by this holder. Calling Release when not
// owned (already expired, or never acquired) is a safe no-op; it only logs
// a diagnostic; releasing a lock you don't own is always safe.
func (l *Lock) Release() error {
	owned, err := l.Owned()
	if err != nil {
		log.WithComponent("lease").Warn().Err(err).Str("lock", l.name).Msg("release: could not verify ownership")
		return nil
	}
	if !owned {
		log.WithComponent("lease").Debug().Str("lock", l.name).Msg("release called without ownership, ignoring")
		return nil
	}
	l.token = ""
	return l.store.Delete(l.key())
}

// ErrNotOwned is returned by Reacquire when the lease was lost before the
// reacquire attempt, e.g. because its TTL expired.
var ErrNotOwned = fmt.Errorf("lease: lock not owned")
