/*
Package storage implements meridian's embedded local store on top of
BoltDB: one database file per namespace, one bucket pair per
repository, and a handful of shared buckets for schemas, sequence
counters and small key-value config.

# Architecture

	┌─────────────────────── BOLTSTORE ────────────────────────┐
	│                                                            │
	│  <dataDir>/<namespace>.db                                 │
	│                                                            │
	│    schemas              repository -> declared Schema     │
	│    sequences            repository -> monotonic counter   │
	│    config               key -> ConfigValue                │
	│                                                            │
	│    <repo>                id -> Record                     │
	│    <repo>__events         eventId -> Event                 │
	│    <repo>__events__by_data  dataId -> eventId              │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

Every mutation is a single bolt.Update transaction: there is no
intermediate state a concurrent reader can observe between a record
write and its corresponding event write landing.

# Namespaces

UseNamespace closes the active *bolt.DB handle and opens a different
file, giving each namespace (for example, one per signed-in user) a
fully disjoint storage space without sharing a single set of buckets
keyed by namespace prefix. Every watcher registered against the
previous namespace is cancelled when the handle is swapped.

# Queries and watches

Query is a pure, in-process filter/sort/limit pipeline (query.go) run
over the repository's current rows; there is no query language to
parse. WatchQuery (watch.go) layers a live registry on top of Query:
every write that touches a repository recomputes and redelivers a
snapshot to each of that repository's watchers. A watcher that hasn't
drained its previous snapshot has it replaced rather than blocking the
writer, and a panic inside one watcher's recompute can never take down
another watcher or the write path.

# Reuse by the server authority

The server authority's raft-backed FSM (pkg/server) uses the very same
BoltStore as its applied-state engine: NextSequence gives the FSM an
atomic, repository-scoped counter to stamp onto accepted events,
keyed by the repository name rather than by any document id, so the
counter can never collide with or be coerced by a record's own id
field.
*/
package storage
