// Package wire is the shared vocabulary between pkg/syncclient and
// pkg/server: the JSON message types exchanged over the sync
// WebSocket connection, plus the REST request/response envelopes
// exchanged over the server's HTTP API. Both sides import this
// package so the wire format can never drift between them.
package wire
