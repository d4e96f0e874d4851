// Package transport owns how desktop sessions reach the wire.
//
// Ownership boundary:
// - security modes and TLS/mTLS validation
// - TCP and TLS listeners and dialers
// - the websocket byte-stream adapter
//
// The session engine sees only a Conn; everything here exists to hand
// it one.
package transport
