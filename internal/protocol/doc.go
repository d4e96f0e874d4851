// Package protocol owns the desktop session wire contract.
//
// Ownership boundary:
// - message tag table and typed variants
// - frame encode/decode (one tag byte + positional fields)
// - decode error taxonomy
//
// Frames are not self-describing: a frame is one tag byte followed by the
// fields its layout dictates, so an unknown tag makes the remainder of the
// stream unrecoverable.
package protocol
