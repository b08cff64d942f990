package mcproto

// Envelope is the outer framing of one packet: declared length, packet id
// and whatever follows in the buffer.
//
// Payload runs to the end of the decoded window. DeclaredLength is reported
// but never used to slice, so a lying peer cannot move the payload bounds.
type Envelope struct {
	DeclaredLength VarInt
	PacketID       VarInt
	Payload        View
}

// DecodeEnvelope decodes the length prefix and packet id at the start of b.
func DecodeEnvelope(b []byte) (Envelope, error) {
	length, err := DecodeVarInt(b)
	if err != nil {
		return Envelope{}, fieldErr("packet length", err)
	}
	rest := b[length.Len:]
	id, err := DecodeVarInt(rest)
	if err != nil {
		return Envelope{}, fieldErr("packet id", err)
	}
	off := length.Len + id.Len
	return Envelope{
		DeclaredLength: length,
		PacketID:       id,
		Payload:        viewOf(b, off, len(b)-off),
	}, nil
}

// FrameLen is the number of bytes the packet claims to occupy including its
// length prefix. It is 0 for a negative declared length.
func (e Envelope) FrameLen() int {
	if e.DeclaredLength.Value < 0 {
		return 0
	}
	return e.DeclaredLength.Len + int(e.DeclaredLength.Value)
}

// Complete reports whether the decoded window already holds the whole
// declared frame.
func (e Envelope) Complete() bool {
	if e.DeclaredLength.Value < 0 {
		return false
	}
	have := e.PacketID.Len + e.Payload.Len()
	return have >= int(e.DeclaredLength.Value)
}

// AppendPacket frames body (packet id + fields) with its length prefix.
func AppendPacket(dst []byte, body []byte) []byte {
	dst = AppendVarInt(dst, int32(len(body)))
	return append(dst, body...)
}
