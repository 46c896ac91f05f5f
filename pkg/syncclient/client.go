// Package syncclient wires a storage.Store and a set of repositories
// to one or more background sync strategies, the way pkg/client wired
// a connection to the teacher's generated API stubs — here the thing
// being wired is a local store instead of a gRPC channel.
package syncclient

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/meridian-sync/meridian/pkg/broker"
	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/repository"
	"github.com/meridian-sync/meridian/pkg/security"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
)

// authTokenConfigKey is the config bucket key the auth token is
// persisted under, encrypted if a SecretsManager is configured.
const authTokenConfigKey = "authToken"

// Client owns the local store, the repositories registered against
// it, and the sync strategies that push/pull events in the
// background.
type Client struct {
	store storage.Store

	mu    sync.RWMutex
	repos map[string]repository.Handle

	strategies []Strategy

	connState     atomic.Bool
	connChanges   *broker.Broker[bool]

	secrets *security.SecretsManager
}

// New builds a Client over an already-initialized store.
func New(store storage.Store) *Client {
	return &Client{
		store:       store,
		repos:       make(map[string]repository.Handle),
		connChanges: broker.New[bool](8),
	}
}

// RegisterRepository attaches a repository to the client and wires its
// event handoff to the client's dispatch path. h's schema is assumed
// to already be declared (repository.New calls EnsureSchema).
func (c *Client) RegisterRepository(h repository.Handle) {
	c.mu.Lock()
	c.repos[h.Name()] = h
	c.mu.Unlock()
}

// Dispatch forwards a freshly produced event to every attached
// strategy's push path. Repository[T] calls this via SetEventHandoff.
func (c *Client) Dispatch(repo string, event types.Event) {
	c.mu.RLock()
	strategies := append([]Strategy(nil), c.strategies...)
	c.mu.RUnlock()

	for _, s := range strategies {
		status := s.OnPushToRemote(event)
		log.WithRepository(repo).Debug().
			Str("event_id", event.EventID).
			Str("sync_status", string(status)).
			Msg("dispatched event to strategy")
	}
}

// AttachStrategy registers a background sync strategy and starts it.
func (c *Client) AttachStrategy(s Strategy) error {
	c.mu.Lock()
	c.strategies = append(c.strategies, s)
	c.mu.Unlock()
	return s.Start()
}

// Strategies returns the currently attached strategies.
func (c *Client) Strategies() []Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Strategy(nil), c.strategies...)
}

// Close stops every attached strategy and closes the store.
func (c *Client) Close() error {
	c.mu.RLock()
	strategies := append([]Strategy(nil), c.strategies...)
	c.mu.RUnlock()

	for _, s := range strategies {
		s.Dispose()
	}
	return c.store.Close()
}

// handle looks up a registered repository by name.
func (c *Client) handle(repo string) (repository.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.repos[repo]
	return h, ok
}

// PullChanges applies a batch of remote events to the local store, in
// order. At-most-once-apply per eventId is enforced by checking the
// event log before applying; _lasteventId is never regressed for an
// event whose serverSequence is strictly less than the record's
// current one.
func (c *Client) PullChanges(repo string, changes []types.Event) error {
	h, ok := c.handle(repo)
	if !ok {
		return fmt.Errorf("syncclient: unknown repository %q", repo)
	}

	for _, evt := range changes {
		if _, err := c.store.GetEventByID(repo, evt.EventID); err == nil {
			continue // already applied
		}

		existing, err := c.store.GetByID(repo, evt.DataID)
		var existingFound = err == nil

		mergedData, err := h.ApplyRemoteData(evt.DataID, evt.Data)
		if err != nil {
			return fmt.Errorf("syncclient: applying remote change to %s/%s: %w", repo, evt.DataID, err)
		}

		lastEventID := evt.EventID
		if existingFound && existing.LastEventID != "" {
			if curEvt, err := c.store.GetEventByID(repo, existing.LastEventID); err == nil {
				if curEvt.ServerSequence != nil && evt.ServerSequence != nil &&
					*evt.ServerSequence < *curEvt.ServerSequence {
					lastEventID = existing.LastEventID
				}
			}
		}

		rec := types.Record{ID: evt.DataID, Data: mergedData, LastEventID: lastEventID}
		if err := c.store.Insert(repo, rec); err != nil {
			return fmt.Errorf("syncclient: applying remote change to %s/%s: %w", repo, evt.DataID, err)
		}

		synced := evt
		synced.SyncStatus = types.SyncSynced
		if err := c.store.InsertEvent(repo, synced); err != nil {
			return fmt.Errorf("syncclient: recording remote event %s: %w", evt.EventID, err)
		}
	}
	return nil
}

// GetAllPendingEvents returns every event in repo's event log whose
// syncStatus is still pending.
func (c *Client) GetAllPendingEvents(repo string) ([]types.Event, error) {
	events, err := c.store.GetAllEvents(repo)
	if err != nil {
		return nil, fmt.Errorf("syncclient: listing pending events for %s: %w", repo, err)
	}

	pending := make([]types.Event, 0, len(events))
	for _, e := range events {
		if e.SyncStatus == types.SyncPending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// MarkEventsAsSynced stamps syncStatus=synced (and serverSequence, if
// carried on the event) for each event in the local event log.
func (c *Client) MarkEventsAsSynced(repo string, events []types.Event) error {
	for _, e := range events {
		e.SyncStatus = types.SyncSynced
		if err := c.store.UpdateEvent(repo, e); err != nil {
			return fmt.Errorf("syncclient: marking event %s synced: %w", e.EventID, err)
		}
	}
	return nil
}

// ReportConnectionState records the latest transport connection state
// and broadcasts the change to any ConnectionChanges subscriber.
func (c *Client) ReportConnectionState(connected bool) {
	if c.connState.Swap(connected) != connected {
		c.connChanges.Publish(connected)
	}
}

// LatestConnectionState returns the most recently reported connection
// state.
func (c *Client) LatestConnectionState() bool {
	return c.connState.Load()
}

// ConnectionChanges subscribes to a broadcast of connection state
// transitions. Call the returned cancel func to unsubscribe.
func (c *Client) ConnectionChanges() (<-chan bool, func()) {
	sub := c.connChanges.Subscribe()
	return sub, func() { c.connChanges.Unsubscribe(sub) }
}

// SetKeyValue stores a small piece of client-side state in the
// store's config bucket.
func (c *Client) SetKeyValue(key string, value types.ConfigValue) error {
	return c.store.SetConfigValue(key, value)
}

// GetMeta reads back a piece of client-side state.
func (c *Client) GetMeta(key string) (types.ConfigValue, bool, error) {
	return c.store.GetConfigValue(key)
}

// Store exposes the underlying storage.Store, primarily so strategies
// constructed outside the client can share it.
func (c *Client) Store() storage.Store {
	return c.store
}

// SetSecretsManager configures the SecretsManager used to encrypt the
// auth token at rest. Without one, PersistAuthToken stores the token
// in plaintext.
func (c *Client) SetSecretsManager(sm *security.SecretsManager) {
	c.secrets = sm
}

// PersistAuthToken saves token to the local config bucket, encrypted
// under the configured SecretsManager if one is set.
func (c *Client) PersistAuthToken(token string) error {
	if c.secrets == nil {
		return c.store.SetConfigValue(authTokenConfigKey, types.NewConfigString(token))
	}

	encrypted, err := c.secrets.EncryptToken(token)
	if err != nil {
		return fmt.Errorf("syncclient: encrypting auth token: %w", err)
	}
	return c.store.SetConfigValue(authTokenConfigKey, types.NewConfigString(encrypted))
}

// LoadAuthToken reads back the token persisted by PersistAuthToken,
// decrypting it if a SecretsManager is configured. Returns false if no
// token has ever been persisted.
func (c *Client) LoadAuthToken() (string, bool, error) {
	val, found, err := c.store.GetConfigValue(authTokenConfigKey)
	if err != nil || !found {
		return "", found, err
	}

	if c.secrets == nil {
		return val.String, true, nil
	}

	token, err := c.secrets.DecryptToken(val.String)
	if err != nil {
		return "", true, fmt.Errorf("syncclient: decrypting auth token: %w", err)
	}
	return token, true, nil
}
