/*
Package types defines the data model shared by every meridian component:
the local store, the repository facade, the sync client and the server
authority all exchange values of these types rather than raw JSON.

# Core types

Data model:
  - Record: one row of application data, identified by ID, carrying its
    document as raw JSON plus the id of the event that last touched it.
  - Schema: the set of field names a repository indexes, and the type
    each one holds.
  - Event: the append-only unit of change. Every insert, update or
    delete produces one Event; ServerSequence is nil until the server
    authority has accepted it.
  - Query / Filter / SortKey: the read-side language a caller uses to
    page through a repository's records without writing SQL.
  - ConfigValue: a small tagged union for the handful of scalar types
    the local config bucket stores (sync endpoint, auth token, device
    id, feature flags).

# Validation

Schema.Validate rejects field names that collide with the reserved
columns every record is stored under (id, data, _lasteventId) or that
contain characters outside [A-Za-z0-9_], before any storage bucket for
the repository is created.
*/
package types
