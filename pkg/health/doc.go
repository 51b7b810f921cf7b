/*
Package health provides a small Checker abstraction (Check(ctx) Result)
with HTTP, TCP, and exec-command implementations, plus a Registry that
polls a set of named Checkers on an interval and exposes their
aggregate status as liveness and readiness HTTP handlers for the serve
command.

Readiness reports the last result of every registered Checker; the
serve command registers a single "store" probe that lists cc-pairs
from the BoltDB row store (no KV or Raft probe is registered).
Liveness only reports that the process is running. Operators
may also register an HTTPChecker or TCPChecker against an external
dependency (a source system's API, a reachable database host) the
indexing pipeline depends on.
*/
package health
