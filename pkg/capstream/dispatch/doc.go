/*
Package dispatch delivers a session's bus to its sinks.

Each attached sink gets its own bus subscription and worker goroutine, so a
slow or failing sink never delays the others. A worker fetches a batch
bounded by the sink's BatchLimits, checks delivery order, writes with
bounded exponential backoff, then acknowledges the batch and saves the
sink's cursor.

# Degradation

When retries are exhausted the sink is marked degraded and a HealthEvent is
emitted. The worker keeps the failed batch, which keeps the bus from
trimming it, and re-attempts it every ProbeInterval. Nothing is dropped
while a degraded sink is merely slow to recover.

When a publisher blocks for room the bus calls NotifyPressure. The
dispatcher then detaches every degraded sink still holding entries and
records the abandoned range as a Loss with reason degraded_detached.
Healthy sinks are never detached for pressure; a healthy but slow sink
pushes back on producers instead.

# Shutdown

Drain closes the bus and waits, up to a timeout, for workers to deliver
what remains. Stragglers are cancelled and their remaining range recorded
as drain_timeout losses. Abort cancels everything immediately. Both close
the sinks and persist final cursors.

# Resume

Attach loads the sink's stored cursor, if any, and skips envelopes whose ID
is not after the cursor's LastID. Cursors are saved after the sink
accepted a batch, so a crash between the two re-delivers at most one batch.
*/
package dispatch
