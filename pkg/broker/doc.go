/*
Package broker provides an in-memory generic publish/subscribe bus used
throughout meridian to fan out local state changes to interested
listeners without coupling the producer to the consumer.

# Architecture

The broker is intentionally simple: one Broker[T] holds a set of
subscriber channels and Publish walks that set, delivering to each one
on a best-effort basis.

	┌──────────────────────── BROKER[T] ─────────────────────────┐
	│                                                              │
	│   Publish(value T)                                          │
	│        │                                                    │
	│        ▼                                                    │
	│   for each subscriber channel:                              │
	│        select {                                              │
	│        case sub <- value:   // delivered                    │
	│        default:             // buffer full, skipped         │
	│        }                                                     │
	│                                                              │
	└──────────────────────────────────────────────────────────────┘

Publish never blocks: a subscriber that stops reading (a disconnected
WebSocket client, a closed live-query watcher) is simply skipped rather
than stalling every other subscriber or the publisher itself. This
matters on the accept path, where a flood of subscribers must never
slow down the commit of an incoming event.

# Instantiations

pkg/syncclient instantiates Broker[bool] to fan connection-state
transitions out to callers watching ConnectionChanges. pkg/storage's
live-query watchers do not use Broker[T]: they are kept in the store's
own watch registry, which re-evaluates each watched query and delivers
the full result set every time a write touches the watched repository.

pkg/server's WebSocket broadcast follows the same non-blocking,
best-effort fan-out rule but is not built on Broker[T] directly: a
broadcast must skip the connection that originated the event, a
per-subscriber exclusion Broker's plain Publish-to-every-subscriber
model doesn't express, so the server loops its own connection registry
instead and applies the identical skip-on-failure discipline inline.

# Lifecycle

Callers Subscribe to obtain a channel, range over it for delivered
values, and Unsubscribe when done (closing the returned channel).
Unsubscribe is idempotent with respect to a channel that was never
subscribed or already removed; subscribing the same channel value
twice is not supported since channels are created fresh by Subscribe.

# Buffering

The bufferSize passed to New determines how many pending values a slow
subscriber can accumulate before Publish starts dropping values for
it. Buffer sizes should be picked per use: a live-query watcher only
cares about the most recent result so a small buffer is fine; a
WebSocket broadcast channel typically wants more headroom to absorb
bursts while the per-connection writer drains it.
*/
package broker
