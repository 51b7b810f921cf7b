/*
Package fence implements the fence protocol: the
typed distributed state primitives that give at-most-one-active-attempt
semantics per (cc-pair, search-settings) pair, plus the liveness
heartbeats, the single-assignment completion marker, and the progress
counter.

A Store wraps a pkg/kv.Store with the tenant-prefixed key layout from
the shared KV substrate:

	tenant:<t>:connectorindexing_fence_<cc>/<ss>          fence payload
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_watchdog_active
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_generator_active
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_connector_active
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_progress
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_completion
	tenant:<t>:connectorindexing_fence_<cc>/<ss>_terminate_<task_id>
	tenant:<t>:active_fences                              membership set

Completion is single-assignment: SetCompletion uses the underlying store's
SetNX so the first writer wins and later writers are silently ignored,
exactly the lock-free coordination
primitive between the fetcher, the doc-processors, the watchdog, and the
monitor.
*/
package fence
