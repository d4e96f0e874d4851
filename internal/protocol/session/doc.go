// Package session owns the bridge<->viewer session engine.
//
// Ownership boundary:
// - handshake sequencing and the client hello
// - inbound dispatch to registered handlers
// - the single-writer outbound queue
// - redial backoff primitives
//
// One session runs one reader and one writer. Handshake and dispatch
// state belong to the reader; every outbound frame leaves in a single
// Write call.
package session
