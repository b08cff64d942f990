package mcproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DecodeString decodes a VarInt length-prefixed string at the start of b.
// The returned view borrows from b; n is prefix length plus string length.
func DecodeString(b []byte) (v View, n int, err error) {
	l, err := DecodeVarInt(b)
	if err != nil {
		return View{}, 0, err
	}
	if l.Value < 0 {
		return View{}, 0, ErrNegativeLength
	}
	if int(l.Value) > len(b)-l.Len {
		return View{}, 0, ErrShortBuffer
	}
	return viewOf(b, l.Len, int(l.Value)), l.Len + int(l.Value), nil
}

// DecodeUShort decodes a big-endian uint16 at the start of b.
func DecodeUShort(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint16(b), nil
}

// AppendString appends s with its VarInt length prefix.
func AppendString(dst []byte, s string) []byte {
	dst = AppendVarInt(dst, int32(len(s)))
	return append(dst, s...)
}

// AppendUShort appends v big-endian.
func AppendUShort(dst []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(dst, v)
}

// ReadString reads a length-prefixed string from a stream, refusing
// anything longer than maxLen bytes.
func ReadString(r io.Reader, maxLen int) (string, int, error) {
	ln, n1, err := ReadVarInt(r)
	if err != nil {
		return "", n1, err
	}
	if ln < 0 {
		return "", n1, ErrNegativeLength
	}
	if maxLen > 0 && int(ln) > maxLen {
		return "", n1, fmt.Errorf("mcproto: string length %d exceeds %d", ln, maxLen)
	}
	buf := make([]byte, int(ln))
	n2, err := io.ReadFull(r, buf)
	if err != nil {
		return "", n1 + n2, err
	}
	return string(buf), n1 + n2, nil
}
