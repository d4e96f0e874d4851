package protocol

import (
	"errors"

	"github.com/danmuck/deskwire/internal/protocol/wire"
)

// Field-level failures surface unchanged from the wire package so callers
// can match the whole taxonomy through this one import.
var (
	ErrTruncated       = wire.ErrTruncated
	ErrLengthOverflow  = wire.ErrLengthOverflow
	ErrInvalidEncoding = wire.ErrInvalidEncoding

	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrEmptyMessage       = errors.New("protocol: decoded empty message")
)
