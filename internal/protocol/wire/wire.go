// Package wire owns the primitive field layer of the desktop session
// wire contract.
//
// Ownership boundary:
// - big-endian integer fields
// - uint32 length-prefixed byte/string fields
// - decode-side allocation limits
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"unicode/utf8"
)

var (
	ErrTruncated       = errors.New("wire: truncated field")
	ErrLengthOverflow  = errors.New("wire: length prefix exceeds limit")
	ErrValueTooLarge   = errors.New("wire: value too large for length prefix")
	ErrInvalidEncoding = errors.New("wire: invalid utf-8 text")
)

// Limits constrains decode-side behavior. Every uint32 length prefix is
// checked against MaxVariableLen before allocation. StrictText rejects
// text fields that are not well-formed UTF-8; the default is lenient,
// carrying the bytes verbatim.
type Limits struct {
	MaxVariableLen uint32
	StrictText     bool
}

func DefaultLimits() Limits {
	return Limits{
		MaxVariableLen: 8 * 1024 * 1024,
	}
}

// ReadUint8 reads one unsigned byte field.
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncated
	}
	return buf[0], nil
}

// ReadUint16 reads one big-endian uint16 field.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadUint32 reads one big-endian uint32 field.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadInt16 reads one big-endian two's-complement int16 field.
func ReadInt16(r io.Reader) (int16, error) {
	v, err := ReadUint16(r)
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

// ReadBytes reads one uint32 length-prefixed byte field. The length prefix
// is validated against limits before any allocation.
func ReadBytes(r io.Reader, limits Limits) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if n > limits.MaxVariableLen {
		return nil, ErrLengthOverflow
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrTruncated
	}
	return buf, nil
}

// ReadString reads one length-prefixed UTF-8 text field. Under lenient
// limits the bytes are carried into the string verbatim; with StrictText
// set, malformed UTF-8 fails with ErrInvalidEncoding.
func ReadString(r io.Reader, limits Limits) (string, error) {
	buf, err := ReadBytes(r, limits)
	if err != nil {
		return "", err
	}
	if limits.StrictText && !utf8.Valid(buf) {
		return "", ErrInvalidEncoding
	}
	return string(buf), nil
}

func AppendUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

func AppendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

func AppendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func AppendInt16(buf []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(buf, uint16(v))
}

// AppendBytes appends one length-prefixed byte field. Callers guard
// oversized values with CheckVariableLen first.
func AppendBytes(buf []byte, v []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

// AppendString appends one length-prefixed text field.
func AppendString(buf []byte, v string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
	return append(buf, v...)
}

// CheckVariableLen reports whether a value fits a uint32 length prefix.
func CheckVariableLen(n int) error {
	if uint64(n) > math.MaxUint32 {
		return ErrValueTooLarge
	}
	return nil
}

// ValidString rejects text that is not well-formed UTF-8.
func ValidString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidEncoding
	}
	return nil
}
