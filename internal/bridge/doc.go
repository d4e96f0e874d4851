// Package bridge owns the desktop bridge daemon.
//
// Ownership boundary:
//   - session listeners (raw TCP and websocket) and per-connection
//     server-role session setup
//   - the Backend boundary between the wire session and the desktop host
//   - MFA challenge issuance and expiry
//   - clipboard and input-rate policy
//
// The daemon lifecycle follows the usual shape: Run blocks on process
// signals, bootstrap validates config and opens stores, serve supervises
// the listeners and periodic work. Everything below the listeners speaks
// protocol.Message; raw bytes never cross this package's boundary.
package bridge
