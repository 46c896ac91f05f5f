// Package repository is the typed layer application code talks to:
// Repository[T] wraps a storage.Store collection with Upsert/Delete/
// Get/Query, translating to and from an application struct T while
// producing the event log entries the sync engine needs underneath.
//
// Repository[T] is generic over T, so it cannot itself satisfy an
// interface a non-generic caller (syncclient.Client) can hold. Handle
// is the narrow, type-erased view that makes that possible: Name and
// ApplyRemoteData are the only two operations the client needs to
// merge a pulled remote change into whichever repository it belongs
// to, without knowing T.
package repository
