package protocol

import (
	"slices"

	"craftgate/pkg/mcproto"
)

// MinecraftHostParser extracts the server address from a Minecraft handshake packet.
//
// It expects the packet framing: [packet_length VarInt][packet_id VarInt=0][protocol_version VarInt]
// [server_address String][server_port UnsignedShort][next_state VarInt].
//
// This is used only to route the connection; all captured bytes are forwarded upstream unchanged.
type MinecraftHostParser struct {
	// MaxProtocolVersion rejects newer clients when > 0.
	MaxProtocolVersion int32
	// AllowedNextStates limits which handshake intents match. Empty allows all.
	AllowedNextStates []int32
}

func NewMinecraftHostParser() *MinecraftHostParser { return &MinecraftHostParser{} }

func (p *MinecraftHostParser) Name() string { return "minecraft_handshake" }

func (p *MinecraftHostParser) Parse(prelude []byte) (*Metadata, error) {
	md, err := TryParseMinecraftHandshake(prelude)
	if err != nil {
		return nil, err
	}
	if p.MaxProtocolVersion > 0 && md.ProtocolVersion > p.MaxProtocolVersion {
		return nil, ErrNoMatch
	}
	if len(p.AllowedNextStates) > 0 && !slices.Contains(p.AllowedNextStates, md.NextState) {
		return nil, ErrNoMatch
	}
	if md.Host == "" {
		return nil, ErrNoMatch
	}
	return &Metadata{Parser: p.Name(), Host: md.Host, Vars: md.Vars()}, nil
}

// ParseNextState maps "status", "login" or "transfer" to its handshake value.
func ParseNextState(s string) (int32, bool) {
	for _, st := range []int32{mcproto.StateStatus, mcproto.StateLogin, mcproto.StateTransfer} {
		if mcproto.NextStateName(st) == s {
			return st, true
		}
	}
	return 0, false
}

var _ HostParser = (*MinecraftHostParser)(nil)
