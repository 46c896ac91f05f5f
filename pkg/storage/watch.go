package storage

import (
	"sync"

	"github.com/meridian-sync/meridian/pkg/types"
)

// watchRegistry tracks per-repository live watchers: channels that
// receive a fresh snapshot every time a write touches their
// repository. Grounded on the non-blocking, isolated fan-out pattern
// in pkg/broker, specialized here to deliver a freshly computed
// snapshot rather than a replayed published value.
type watchRegistry struct {
	mu       sync.Mutex
	byRepo   map[string]map[chan []types.Record]func() []types.Record
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{byRepo: make(map[string]map[chan []types.Record]func() []types.Record)}
}

// subscribe registers a watcher for repository. snapshot is called to
// compute the current result set, both immediately and after every
// subsequent notify(repository).
func (w *watchRegistry) subscribe(repository string, snapshot func() []types.Record) (<-chan []types.Record, func()) {
	ch := make(chan []types.Record, 1)

	w.mu.Lock()
	if w.byRepo[repository] == nil {
		w.byRepo[repository] = make(map[chan []types.Record]func() []types.Record)
	}
	w.byRepo[repository][ch] = snapshot
	w.mu.Unlock()

	deliver(ch, snapshot())

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if subs, ok := w.byRepo[repository]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(w.byRepo, repository)
			}
		}
	}
	return ch, cancel
}

// notify re-computes and re-delivers every watcher bound to
// repository. A panic inside one watcher's snapshot function is
// recovered so it cannot take down the write path or any other
// watcher.
func (w *watchRegistry) notify(repository string) {
	w.mu.Lock()
	subs := make(map[chan []types.Record]func() []types.Record, len(w.byRepo[repository]))
	for ch, snap := range w.byRepo[repository] {
		subs[ch] = snap
	}
	w.mu.Unlock()

	for ch, snap := range subs {
		deliverSafely(ch, snap)
	}
}

func deliverSafely(ch chan []types.Record, snapshot func() []types.Record) {
	defer func() { _ = recover() }()
	deliver(ch, snapshot())
}

// deliver is a non-blocking send: a watcher that hasn't drained its
// previous snapshot yet has it replaced rather than stalling the
// writer.
func deliver(ch chan []types.Record, records []types.Record) {
	select {
	case ch <- records:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- records:
		default:
		}
	}
}

// cancelAll closes every registered watcher, used when the store
// switches namespaces or closes.
func (w *watchRegistry) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for repo, subs := range w.byRepo {
		for ch := range subs {
			close(ch)
		}
		delete(w.byRepo, repo)
	}
}
