package proxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"craftgate/pkg/mcproto"
)

// Status state packet ids.
const (
	statusRequestID  = 0x00
	statusResponseID = 0x00
	statusPingID     = 0x01
)

// readFrame reads one length-prefixed packet from r and returns the whole
// frame (length prefix included) along with its packet id.
// A clean EOF before the first byte is reported as io.EOF.
func readFrame(r io.Reader, maxPacketLen int) (frame []byte, packetID int32, err error) {
	if maxPacketLen <= 0 {
		maxPacketLen = 512 * 1024
	}

	ln, n, err := mcproto.ReadVarInt(r)
	if err != nil {
		if n == 0 && errors.Is(err, mcproto.ErrVarIntEOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, err
	}
	if ln < 0 {
		return nil, 0, mcproto.ErrNegativeLength
	}
	if int(ln) > maxPacketLen {
		return nil, 0, fmt.Errorf("proxy: packet too large: %d", ln)
	}

	frame = mcproto.AppendVarInt(make([]byte, 0, mcproto.VarIntSize(ln)+int(ln)), ln)
	body := frame[len(frame) : len(frame)+int(ln)]
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, 0, err
	}
	frame = frame[:len(frame)+int(ln)]

	id, err := mcproto.DecodeVarInt(body)
	if err != nil {
		return nil, 0, err
	}
	return frame, id.Value, nil
}

// pingPayload extracts the 8-byte payload of a status ping frame.
func pingPayload(frame []byte) (int64, error) {
	env, err := mcproto.DecodeEnvelope(frame)
	if err != nil {
		return 0, err
	}
	p := env.Payload.Bytes()
	if len(p) < 8 {
		return 0, mcproto.ErrShortBuffer
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func appendPong(dst []byte, v int64) []byte {
	body := mcproto.AppendVarInt(make([]byte, 0, 9), statusPingID)
	body = binary.BigEndian.AppendUint64(body, uint64(v))
	return mcproto.AppendPacket(dst, body)
}
