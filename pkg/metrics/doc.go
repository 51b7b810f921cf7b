/*
Package metrics defines and registers indexctl's Prometheus metrics and
exposes them over HTTP for scraping, in the same package-init
registration style the rest of the ambient stack uses.

Metrics are grouped by the pipeline stage that produces them: beat ticks
(pkg/controller), active fences and watchdog outcomes (pkg/watchdog),
batch processing (pkg/processing), and crash-recovery cycles
(pkg/monitor). Collector, once started, periodically samples
gauge-shaped state (active fence count, non-terminal attempt count) from
the store and fence layers so those numbers stay current even between
beat ticks; no indexctl command starts a Collector, so serve does not
set those two gauges.
*/
package metrics
