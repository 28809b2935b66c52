// Package bus implements the per-session event bus: a bounded,
// multi-producer multi-consumer queue that stamps envelopes at admission
// and hands them to subscribers in one total order.
//
// # Ordering
//
// Publish validates an envelope, waits for room, then under the bus lock
// assigns a UUIDv7 ID and a CapturedAt timestamp from the session clock
// and appends it. Admission order is therefore the order of IDs, the order
// of timestamps, and the order every subscriber observes.
//
// # Capacity
//
// The bus is bounded by envelope count and by payload bytes. A publisher
// that finds no room waits up to PublishTimeout, firing OnPressure once,
// and then fails with an *errors.OverflowError. Entries are trimmed only
// after every subscriber has acknowledged them; with no subscribers nothing
// is trimmed so a late subscriber starting from the oldest entry sees the
// full retained history.
//
// # Subscriptions
//
// Each subscriber owns a cursor. Fetch returns the next entries in order and
// blocks while none are available. Ack releases everything up to an offset.
// After Close, Fetch keeps returning retained entries until the subscriber
// has seen them all and then reports ErrClosed.
package bus
