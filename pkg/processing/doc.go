/*
Package processing implements the per-batch doc-processing task
duplicate suppression by batch number, a cross-batch
state lock guarding the attempt's shared DocIndexingContext, a
failure-threshold abort check, and the completion check that finalizes
the attempt once every known batch has settled.

Document loading and the embedding/indexing pipeline itself are
out-of-scope external collaborators; they are modeled
as the BatchLoader and Pipeline interfaces so this package owns only
the coordination logic, the same narrow role pkg/controller and
pkg/monitor play around the fence protocol.

Locking is built from pkg/lease the same way pkg/watchdog's generator
lock is: a named, TTL-leased mutex keyed per batch number and,
separately, per attempt, both stored in the shared pkg/kv substrate.
*/
package processing
