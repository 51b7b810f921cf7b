/*
Package controller implements the beat tick: the
periodic, leader-gated loop that decides which connector-credential
pairs are due for a new indexing attempt, creates their fence and
IndexAttempt row, and dispatches the fetch task that starts the
watchdog-supervised worker.

A single background goroutine alternates on a time.Ticker and a stop
channel, with each tick timed and counted through pkg/metrics. Each
tick first asks pkg/clusterlock whether this node holds Raft
leadership and skips the tick entirely if not, so only one replica of
a multi-node deployment runs the beat at a time.
*/
package controller
