/*
Package store provides BoltDB-backed persistence for indexctl's durable
rows: cc-pairs, index attempts, per-document attempt errors, and search
settings.

It follows the same idiom as a typical embedded-database Go service: one
bucket per entity, JSON-encoded values, ACID transactions via bbolt's
db.View/db.Update, and a thin Store interface so callers (the controller,
the watchdog, the processing task, the monitor) depend on behavior rather
than on BoltDB directly.
*/
package store
