package mcproto

// HandshakePacketID is the id of the serverbound handshake packet.
const HandshakePacketID = 0x00

// MaxAddressBytes caps the encoded server address (length prefix plus bytes).
const MaxAddressBytes = 255

const (
	StateStatus   int32 = 1
	StateLogin    int32 = 2
	StateTransfer int32 = 3
)

// NextStateName returns a readable name for a handshake next state.
func NextStateName(s int32) string {
	switch s {
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StateTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Handshake is a decoded serverbound handshake. ServerAddress borrows from
// the buffer that was decoded.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   View
	ServerPort      uint16
	NextState       int32

	// Consumed is the number of bytes from the start of the buffer up to and
	// including the next state field. Anything after it is pipelined data.
	Consumed int
}

// ParseHandshake decodes a framed handshake packet at the start of buf.
// Trailing bytes after the next state are accepted.
func ParseHandshake(buf []byte) (Handshake, error) {
	env, err := DecodeEnvelope(buf)
	if err != nil {
		return Handshake{}, err
	}
	return DecodeHandshake(env)
}

// DecodeHandshake decodes the handshake fields from an already decoded
// envelope.
func DecodeHandshake(env Envelope) (Handshake, error) {
	if env.PacketID.Value != HandshakePacketID {
		return Handshake{}, ErrNotHandshake
	}

	p := env.Payload.Bytes()
	base := env.Payload.Offset()
	pos := 0

	version, err := DecodeVarInt(p)
	if err != nil {
		return Handshake{}, fieldErr("protocol version", err)
	}
	pos += version.Len

	addr, n, err := DecodeString(p[pos:])
	if err != nil {
		return Handshake{}, fieldErr("server address", err)
	}
	if n > MaxAddressBytes {
		return Handshake{}, ErrAddressTooLong
	}
	addrOff := base + pos + (n - addr.Len())
	pos += n

	port, err := DecodeUShort(p[pos:])
	if err != nil {
		return Handshake{}, fieldErr("server port", err)
	}
	pos += 2

	next, err := DecodeVarInt(p[pos:])
	if err != nil {
		return Handshake{}, fieldErr("next state", err)
	}
	pos += next.Len

	return Handshake{
		ProtocolVersion: version.Value,
		ServerAddress:   viewOf(env.Payload.src, addrOff, addr.Len()),
		ServerPort:      port,
		NextState:       next.Value,
		Consumed:        base + pos,
	}, nil
}

// AppendHandshake appends a framed handshake packet to dst.
func AppendHandshake(dst []byte, version int32, addr string, port uint16, nextState int32) []byte {
	body := AppendVarInt(nil, HandshakePacketID)
	body = AppendVarInt(body, version)
	body = AppendString(body, addr)
	body = AppendUShort(body, port)
	body = AppendVarInt(body, nextState)
	return AppendPacket(dst, body)
}
