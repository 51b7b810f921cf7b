/*
Package kv provides a small TTL-aware key-value substrate on top of BoltDB,
playing the role a shared Redis/etcd deployment would in production:
the single cross-process coordination medium for fences, heartbeats,
completion markers, and named locks (pkg/fence, pkg/lease).

Unlike the row buckets in pkg/store, values here carry an optional
expiry. Get treats an expired key as absent without requiring a
background sweep to run first (lazy expiry). Sweep deletes expired
entries to reclaim space; no indexctl loop calls it, so expired
entries stay on disk until something does.

Keys also support membership sets (SAdd/SMembers/SRem) implemented as a
dedicated bucket per set name, used by fence.Store's active-fences set
(ScanActiveFences).
*/
package kv
