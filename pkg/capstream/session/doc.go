/*
Package session runs capture sessions: it owns a session's bus, dispatcher
and producer adapters and moves them through the lifecycle

	created -> active <-> paused -> stopping -> stopped
	           active|paused -> failed

A Manager creates sessions and persists a checkpoint.SessionRecord on every
transition. Terminal states are final; any further transition returns a
*StateError.

Stop is orderly: producers are cancelled (bounded by the drain timeout),
the bus is closed and the dispatcher drains the remainder to every sink.
A fatal error (a permanent capture failure or a delivery-order violation)
moves the session to failed instead: producers stop, the bus closes and
delivery is aborted. What sinks already accepted stays valid and
Session.Cursors reports the last good position of each.

After a crash, Manager.Recover marks sessions that were left running as
failed with "process terminated". They are never restarted; their
cursors remain readable from the store.
*/
package session
