/*
Package queue provides an in-process work queue for dispatching tasks
to pools of worker goroutines without requiring an external broker:
the controller enqueues one fetch task per attempt for pkg/watchdog's
Dispatcher, and pkg/processing's Dispatcher drains doc-processing tasks.

It is a work queue, not a pub/sub bus: each enqueued Task is delivered
to exactly one Dequeue caller, not broadcast to every subscriber. The
buffered-channel-plus-stop-channel shape follows the same idiom
indexctl's other background loops use.
*/
package queue
