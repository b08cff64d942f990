package mcproto

// LoginDisconnectPacketID is the clientbound disconnect packet in the login state.
const LoginDisconnectPacketID = 0x00

// DisconnectPacketSize returns the exact number of bytes EncodeDisconnect
// writes for a reason of textLen bytes.
func DisconnectPacketSize(textLen int) int {
	body := disconnectBodySize(textLen)
	return VarIntSize(int32(body)) + body
}

func disconnectBodySize(textLen int) int {
	return VarIntSize(LoginDisconnectPacketID) + VarIntSize(int32(textLen)) + textLen
}

// EncodeDisconnect writes a login Disconnect packet carrying text into dst.
// text is sent as is; callers wrap plain messages as chat JSON first.
func EncodeDisconnect(dst []byte, text []byte) (int, error) {
	size := DisconnectPacketSize(len(text))
	if len(dst) < size {
		return 0, ErrShortDst
	}
	out := AppendDisconnect(dst[:0], text)
	return len(out), nil
}

// AppendDisconnect appends a login Disconnect packet carrying text to dst.
func AppendDisconnect(dst []byte, text []byte) []byte {
	dst = AppendVarInt(dst, int32(disconnectBodySize(len(text))))
	dst = AppendVarInt(dst, LoginDisconnectPacketID)
	dst = AppendVarInt(dst, int32(len(text)))
	return append(dst, text...)
}
