/*
Package watchdog implements the per-attempt supervisor:
it takes a fetch task off pkg/queue, spawns the fetch worker as a child
OS process through pkg/jobclient, and supervises it end to end —
pre-flight validation against the fence payload, a generator-lock
critical section around marking the fence started, a poll loop that
renews the watchdog and generator heartbeats and watches for an
external termination signal or an expired connector heartbeat, and finally
writes the fence's single-assignment completion marker with the job's
classified exit code.

The supervisor loop's shape (ticker plus stop channel, periodic
renewal, a best-effort resource sample) follows the same idiom
pkg/monitor's reconciliation cycle uses elsewhere in this module.
*/
package watchdog
