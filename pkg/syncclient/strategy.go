package syncclient

import "github.com/meridian-sync/meridian/pkg/types"

// Strategy is the contract every background sync transport implements
// (websocket today; a long-poll or bluetooth-mesh strategy tomorrow
// would satisfy the same interface).
type Strategy interface {
	// Start ignites the strategy's background work. It must not block;
	// connection attempts, retries and heartbeats run on goroutines the
	// strategy manages itself.
	Start() error

	// Stop halts background work but leaves the strategy usable; Start
	// may be called again.
	Stop()

	// Dispose stops the strategy and releases any resources it holds.
	// The strategy is not reusable after Dispose.
	Dispose()

	// OnPushToRemote is called synchronously from the write path
	// whenever a repository produces a new event. It returns the
	// resulting sync status; final resolution to Synced happens later,
	// asynchronously, once the remote side acknowledges the event.
	OnPushToRemote(event types.Event) types.SyncStatus

	// PullChangesToLocal is a convenience pass-through to
	// Client.PullChanges for strategies that receive change batches
	// out of band from their own read loop.
	PullChangesToLocal(repository string, remoteChanges []types.Event) error

	// MarkEventsAsSynced persists the synced state transition for a
	// batch of events, used once the remote side has acknowledged them.
	MarkEventsAsSynced(repository string, events []types.Event) error

	// ConnectionChanges subscribes to this strategy's connection state
	// transitions.
	ConnectionChanges() (<-chan bool, func())

	// LatestConnectionState returns the strategy's last reported
	// connection state.
	LatestConnectionState() bool
}
