// Package syncclient is the sync engine: it wires a storage.Store and
// a set of repositories to one or more background Strategy
// implementations that push locally-produced events to a remote
// authority and pull remote events back into the local store.
//
// Client owns the wiring; Strategy is the pluggable transport.
// WSStrategy is the only Strategy shipped today, built on
// gorilla/websocket, but any transport satisfying the interface
// (long-poll, bluetooth mesh, a relay over a message broker) can be
// attached the same way.
//
// # Connection state machine
//
// A WSStrategy instance is always in one of five states:
//
//	Disconnected -> Connecting -> Authenticating -> Connected -> Reconnecting -> Connecting -> ...
//
// Reconnects happen on a constant delay (Config.ReconnectDelay,
// default 3s). A heartbeat ping is sent every Config.HeartbeatInterval
// (default 30s); a connection that misses its pong past the heartbeat
// interval plus a short grace period is treated as dropped and the
// loop reconnects.
//
// # Push path
//
// Repository[T].Upsert/Delete call Client.Dispatch for every event
// they produce, which hands the event to every attached strategy's
// OnPushToRemote. A WSStrategy sends push_event immediately when
// Connected; otherwise the event is queued in memory and in the
// durable event log (syncStatus=pending), to be flushed as a single
// push_events_batch per repository the next time the connection
// reaches Connected.
//
// # Pull path
//
// Client.PullChanges applies an inbound batch idempotently (an event
// already present in the local event log is skipped), resolves
// conflicts through the owning repository's ConflictResolver, and
// never regresses a record's lastEventId for an event whose
// serverSequence is behind the record's current one.
package syncclient
