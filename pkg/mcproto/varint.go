package mcproto

import (
	"errors"
	"io"
)

// MaxVarIntLen is the longest legal encoding of a 32-bit VarInt.
const MaxVarIntLen = 5

// VarInt is a decoded value together with the number of bytes it occupied.
type VarInt struct {
	Value int32
	Len   int
}

// DecodeVarInt decodes a Minecraft VarInt (signed 32-bit, little-endian
// 7-bit groups) from the start of b. Only len(b) bytes are ever examined.
func DecodeVarInt(b []byte) (VarInt, error) {
	var ux uint32
	for i := 0; ; i++ {
		if 7*i >= 32 {
			return VarInt{}, ErrVarIntTooLong
		}
		if i >= len(b) {
			return VarInt{}, ErrShortBuffer
		}
		c := b[i]
		ux |= uint32(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			return VarInt{Value: int32(ux), Len: i + 1}, nil
		}
	}
}

// VarIntSize returns the encoded length of v.
func VarIntSize(v int32) int {
	ux := uint32(v)
	n := 1
	for ux >= 0x80 {
		ux >>= 7
		n++
	}
	return n
}

// AppendVarInt appends the encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	ux := uint32(v)
	for ux >= 0x80 {
		dst = append(dst, byte(ux)|0x80)
		ux >>= 7
	}
	return append(dst, byte(ux))
}

// ReadVarInt reads a VarInt from a stream, one byte at a time.
// It returns the decoded value and the number of bytes consumed.
func ReadVarInt(r io.Reader) (int32, int, error) {
	var ux uint32
	for numRead := 0; ; numRead++ {
		if numRead >= MaxVarIntLen {
			return 0, numRead, ErrVarIntTooLong
		}

		b, err := readOneByte(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, numRead, ErrVarIntEOF
			}
			return 0, numRead, err
		}

		ux |= uint32(b&0x7F) << (7 * numRead)
		if b&0x80 == 0 {
			return int32(ux), numRead + 1, nil
		}
	}
}

func readOneByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var one [1]byte
	_, err := io.ReadFull(r, one[:])
	return one[0], err
}

// WriteVarInt writes v to w.
func WriteVarInt(w io.Writer, v int32) (int, error) {
	var out [MaxVarIntLen]byte
	return w.Write(AppendVarInt(out[:0], v))
}
