package mcproto

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer means the window ended before a field was complete.
	// More bytes from the peer may turn it into a success.
	ErrShortBuffer = errors.New("mcproto: short buffer")

	ErrVarIntTooLong  = errors.New("mcproto: varint too long")
	ErrNegativeLength = errors.New("mcproto: negative length")
	ErrNotHandshake   = errors.New("mcproto: packet is not a handshake")
	ErrAddressTooLong = errors.New("mcproto: server address too long")

	// ErrShortDst is returned by copy-out helpers when the destination
	// cannot hold the whole value. Nothing is written in that case.
	ErrShortDst = errors.New("mcproto: destination too small")
)

// ErrVarIntEOF is kept for stream readers; it wraps ErrShortBuffer.
var ErrVarIntEOF = fmt.Errorf("mcproto: unexpected EOF: %w", ErrShortBuffer)

// IsTruncated reports whether err only means the input ended early.
func IsTruncated(err error) bool {
	return errors.Is(err, ErrShortBuffer)
}

func fieldErr(field string, err error) error {
	return fmt.Errorf("mcproto: %s: %w", field, err)
}
