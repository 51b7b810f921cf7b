/*
Package clusterlock gates the controller beat tick behind Raft leader
election, so only one node in a multi-replica indexctl deployment runs
the beat loop at a time. It wires up a hashicorp/raft cluster with a
raft-boltdb log/stable store, tuned with faster-than-default
heartbeat/election timeouts, but driving a no-op FSM — indexctl's
durable state lives in the BoltDB store and KV store (pkg/store,
pkg/kv), not in the Raft log, so the FSM here has nothing to apply.
Raft is used purely for its leader-election guarantee, a common
minimal use of the library.

A single-node deployment can skip Raft entirely and use Standalone,
which always reports itself as leader; this keeps local development and
tests working without standing up a cluster.
*/
package clusterlock
