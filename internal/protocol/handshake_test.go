package protocol

import (
	"errors"
	"strings"
	"testing"

	"craftgate/pkg/mcproto"
)

func buildHandshakePacket(host string, port uint16, protoVer int32, nextState int32) []byte {
	return mcproto.AppendHandshake(nil, protoVer, host, port, nextState)
}

func TestTryParseMinecraftHandshake(t *testing.T) {
	data := buildHandshakePacket("Play.Example.com\x00FML\x00", 25566, 763, 2)
	md, err := TryParseMinecraftHandshake(append(data, 0x02, 0x00))
	if err != nil {
		t.Fatalf("TryParseMinecraftHandshake: %v", err)
	}
	if md.Host != "play.example.com" || md.RawHost != "Play.Example.com\x00FML\x00" {
		t.Fatalf("host: %q raw %q", md.Host, md.RawHost)
	}
	if md.Port != 25566 || md.ProtocolVersion != 763 || md.NextState != 2 {
		t.Fatalf("fields: %+v", md)
	}
	if md.Length != len(data) {
		t.Fatalf("length %d want %d", md.Length, len(data))
	}

	vars := md.Vars()
	want := Vars{
		VarMinecraftServer:    "play.example.com",
		VarMinecraftPort:      "25566",
		VarMinecraftVersion:   "763",
		VarMinecraftNextState: "login",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Fatalf("var %s=%q want %q", k, vars[k], v)
		}
	}
}

func TestTryParseMinecraftHandshakeOutcomes(t *testing.T) {
	full := buildHandshakePacket("play.example.com", 25565, 763, 1)
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{"empty", nil, ErrNeedMoreData},
		{"truncated", full[:len(full)-3], ErrNeedMoreData},
		{"wrong id", []byte{0x03, 0x05, 0x00, 0x00}, ErrNoMatch},
		{"overlong varint", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, ErrNoMatch},
		{"address too long", buildHandshakePacket(strings.Repeat("a", 300), 25565, 763, 2), ErrNoMatch},
	}
	for _, tc := range cases {
		if _, err := TryParseMinecraftHandshake(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}
}
