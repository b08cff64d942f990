package protocol

import (
	"errors"
	"testing"

	"craftgate/pkg/mcproto"
)

func TestMinecraftHostParser(t *testing.T) {
	p := NewMinecraftHostParser()
	data := buildHandshakePacket("Play.Example.com", 25565, 763, 2)

	for i := 0; i < len(data); i++ {
		if _, err := p.Parse(data[:i]); !errors.Is(err, ErrNeedMoreData) {
			t.Fatalf("prefix %d: want ErrNeedMoreData, got %v", i, err)
		}
	}

	md, err := p.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if md.Host != "play.example.com" || md.Parser != "minecraft_handshake" {
		t.Fatalf("metadata: %+v", md)
	}
	if md.Vars[VarMinecraftPort] != "25565" || md.Vars[VarMinecraftVersion] != "763" {
		t.Fatalf("vars: %v", md.Vars)
	}
}

func TestMinecraftHostParserFilters(t *testing.T) {
	p := &MinecraftHostParser{MaxProtocolVersion: 760, AllowedNextStates: []int32{mcproto.StateLogin}}

	if _, err := p.Parse(buildHandshakePacket("a.example", 25565, 763, 2)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("newer protocol: want ErrNoMatch, got %v", err)
	}
	if _, err := p.Parse(buildHandshakePacket("a.example", 25565, 754, 1)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("status intent: want ErrNoMatch, got %v", err)
	}
	if _, err := p.Parse(buildHandshakePacket("a.example", 25565, 754, 2)); err != nil {
		t.Fatalf("allowed handshake: %v", err)
	}
	if _, err := p.Parse(buildHandshakePacket("\x00FML\x00", 25565, 754, 2)); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("empty host: want ErrNoMatch, got %v", err)
	}
}

func TestParseNextState(t *testing.T) {
	if s, ok := ParseNextState("login"); !ok || s != mcproto.StateLogin {
		t.Fatalf("login: %d %v", s, ok)
	}
	if _, ok := ParseNextState("play"); ok {
		t.Fatalf("play accepted")
	}
}
