/*
Package monitor implements the crash-detection reconciliation cycle: a
periodic pass over every active fence that either finalizes an attempt
whose completion marker has been written, or applies the double-check
pattern to confirm a watchdog crash before finalizing as failed.

The double-check exists because a single dead-heartbeat read can be a
false positive: the watchdog may be mid-renewal. monitor re-reads both
the watchdog and generator heartbeats after a grace period and only
finalizes as a crash if both reads agree the fence is abandoned and no
completion marker appeared in between.

The ticker loop (time.Ticker/stopCh shape, metrics.Timer plus cycle
counter) follows the same pattern pkg/controller's beat loop uses, and
it reuses pkg/jobclient's exit-code registry to classify a completion
code into a terminal IndexAttemptStatus.
*/
package monitor
