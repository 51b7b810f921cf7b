/*
Package lease implements a distributed lock primitive:
a named, lease-bound mutex backed by pkg/kv's SetNX/TTL semantics.

A Lock is acquired non-blocking (Acquire) or with a bounded wait
(AcquireWait), extended before long sub-steps (Reacquire), checked for
ownership (Owned), and released in a deferred cleanup (Release, safe to
call whether or not the lease is still held). Every holder carries a
random token so that reacquire/release can tell its own lease apart from
one a crashed holder's expired lease was handed to next.
*/
package lease
