package protocol

import (
	"strconv"

	"craftgate/internal/hostname"
	"craftgate/pkg/mcproto"
)

// HandshakeMetadata is an owned copy of a decoded Minecraft handshake.
type HandshakeMetadata struct {
	// Host is the normalized server address; RawHost is the address as sent.
	Host            string
	RawHost         string
	Port            uint16
	ProtocolVersion int32
	NextState       int32

	// Length is the number of prelude bytes occupied by the handshake packet.
	Length int
}

// TryParseMinecraftHandshake decodes a handshake at the start of prelude.
//
// Truncated input maps to ErrNeedMoreData; every other decode failure
// (malformed VarInt, wrong packet id, oversized address) maps to ErrNoMatch.
// Only a failed address copy is returned as a fatal error.
func TryParseMinecraftHandshake(prelude []byte) (*HandshakeMetadata, error) {
	hs, err := mcproto.ParseHandshake(prelude)
	if err != nil {
		if mcproto.IsTruncated(err) {
			return nil, ErrNeedMoreData
		}
		return nil, ErrNoMatch
	}

	raw := make([]byte, hs.ServerAddress.Len())
	if _, err := hs.ServerAddress.CopyTo(raw); err != nil {
		return nil, err
	}
	return &HandshakeMetadata{
		Host:            hostname.Normalize(string(raw)),
		RawHost:         string(raw),
		Port:            hs.ServerPort,
		ProtocolVersion: hs.ProtocolVersion,
		NextState:       hs.NextState,
		Length:          hs.Consumed,
	}, nil
}

// Vars returns the minecraft_* request variables for md.
func (md *HandshakeMetadata) Vars() Vars {
	return Vars{
		VarMinecraftServer:    md.Host,
		VarMinecraftPort:      strconv.Itoa(int(md.Port)),
		VarMinecraftVersion:   strconv.Itoa(int(md.ProtocolVersion)),
		VarMinecraftNextState: mcproto.NextStateName(md.NextState),
	}
}
