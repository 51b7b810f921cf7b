/*
Package jobclient implements the job client: it spawns a
named entrypoint as a child OS process with serializable arguments and
exposes liveness, exit code, cancellation, and exception text to the
watchdog that supervises it.

Processes are spawned with exec.CommandContext using a spawn-based start
(a plain fork+exec into a fresh binary invocation, never a fork() of the
parent's address space), so the child never inherits open file
descriptors or in-process global state — it re-initializes its own
telemetry, DB pool, and HTTP client pool on startup. The child's
invocation is described with an OCI runtime-spec Process struct
(argv/env/cwd) rather than an ad-hoc argument struct, reusing a type
the rest of the Go ecosystem already has tooling for.
*/
package jobclient
