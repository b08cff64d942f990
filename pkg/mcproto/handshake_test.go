package mcproto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// localhostHandshake is VarInt(16) VarInt(0) VarInt(754) String("localhost") UInt16(25565) VarInt(1).
var localhostHandshake = []byte{
	0x10, 0x00, 0xf2, 0x05,
	0x09, 'l', 'o', 'c', 'a', 'l', 'h', 'o', 's', 't',
	0x63, 0xdd, 0x01,
}

// equalHandshake compares two parses field by field. Views are equal when
// they cover the same window and the same bytes.
func equalHandshake(a, b Handshake) bool {
	return a.ProtocolVersion == b.ProtocolVersion &&
		a.ServerPort == b.ServerPort &&
		a.NextState == b.NextState &&
		a.Consumed == b.Consumed &&
		a.ServerAddress.Offset() == b.ServerAddress.Offset() &&
		a.ServerAddress.Len() == b.ServerAddress.Len() &&
		bytes.Equal(a.ServerAddress.Bytes(), b.ServerAddress.Bytes())
}

func isZeroHandshake(hs Handshake) bool {
	return hs.ServerAddress.IsZero() && equalHandshake(hs, Handshake{})
}

func TestParseHandshakeLocalhost(t *testing.T) {
	hs, err := ParseHandshake(localhostHandshake)
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	if hs.ProtocolVersion != 754 {
		t.Fatalf("version: %d", hs.ProtocolVersion)
	}
	if got := hs.ServerAddress.String(); got != "localhost" {
		t.Fatalf("address: %q", got)
	}
	if hs.ServerPort != 25565 || hs.NextState != StateStatus {
		t.Fatalf("port/state: %d/%d", hs.ServerPort, hs.NextState)
	}
	if hs.Consumed != len(localhostHandshake) {
		t.Fatalf("consumed: %d want %d", hs.Consumed, len(localhostHandshake))
	}
	if got := AppendHandshake(nil, 754, "localhost", 25565, StateStatus); !bytes.Equal(got, localhostHandshake) {
		t.Fatalf("AppendHandshake mismatch:\n got %x\nwant %x", got, localhostHandshake)
	}
}

func TestParseHandshakeTruncated(t *testing.T) {
	for cut := 0; cut < len(localhostHandshake); cut++ {
		hs, err := ParseHandshake(localhostHandshake[:cut])
		if !IsTruncated(err) {
			t.Fatalf("cut=%d: want truncation, got %v", cut, err)
		}
		if !isZeroHandshake(hs) {
			t.Fatalf("cut=%d: partially populated handshake %+v", cut, hs)
		}
	}
}

func TestParseHandshakeFirstThreeBytes(t *testing.T) {
	_, err := ParseHandshake(localhostHandshake[:3])
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("want ErrShortBuffer, got %v", err)
	}
}

func TestParseHandshakeWrongPacketID(t *testing.T) {
	// Login-start style id 5 followed by a payload that would otherwise be
	// truncated; the id check must win.
	buf := []byte{0x10, 0x05, 0xf2}
	_, err := ParseHandshake(buf)
	if !errors.Is(err, ErrNotHandshake) {
		t.Fatalf("want ErrNotHandshake, got %v", err)
	}
	if IsTruncated(err) {
		t.Fatalf("wrong id reported as truncation")
	}
}

func TestParseHandshakeAddressCap(t *testing.T) {
	ok := AppendHandshake(nil, 763, strings.Repeat("a", 253), 25565, StateLogin)
	hs, err := ParseHandshake(ok)
	if err != nil {
		t.Fatalf("253-byte address (255 encoded) rejected: %v", err)
	}
	if hs.ServerAddress.Len() != 253 {
		t.Fatalf("address len %d", hs.ServerAddress.Len())
	}

	tooLong := AppendHandshake(nil, 763, strings.Repeat("a", 256), 25565, StateLogin)
	_, err = ParseHandshake(tooLong)
	if !errors.Is(err, ErrAddressTooLong) {
		t.Fatalf("want ErrAddressTooLong, got %v", err)
	}
	if IsTruncated(err) {
		t.Fatalf("oversized address reported as truncation")
	}
}

func TestParseHandshakeTrailingBytes(t *testing.T) {
	buf := append([]byte(nil), localhostHandshake...)
	buf = append(buf, 0x01, 0x00) // pipelined status request
	hs, err := ParseHandshake(buf)
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	if hs.Consumed != len(localhostHandshake) {
		t.Fatalf("consumed %d want %d", hs.Consumed, len(localhostHandshake))
	}
	if rest := buf[hs.Consumed:]; !bytes.Equal(rest, []byte{0x01, 0x00}) {
		t.Fatalf("rest: %x", rest)
	}
}

func TestParseHandshakeIdempotent(t *testing.T) {
	a, errA := ParseHandshake(localhostHandshake)
	b, errB := ParseHandshake(localhostHandshake)
	if errA != nil || errB != nil {
		t.Fatalf("errors: %v %v", errA, errB)
	}
	if !equalHandshake(a, b) {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
}

// The decoder must judge a buffer by its length, never by what happens to
// sit in the backing array past it.
func TestParseHandshakeIgnoresCapacity(t *testing.T) {
	backing := make([]byte, 0, 512)
	backing = append(backing, localhostHandshake...)
	full := backing[:cap(backing)]
	for i := len(localhostHandshake); i < len(full); i++ {
		full[i] = 0xff
	}

	for n := 0; n < len(localhostHandshake); n++ {
		if _, err := ParseHandshake(full[:n]); err == nil {
			t.Fatalf("n=%d: parsed a handshake from a truncated window", n)
		}
	}

	// A short declared address whose bytes only exist beyond the window.
	hdr := []byte{0x10, 0x00, 0xf2, 0x05, 0x09, 'l', 'o'}
	backing = append(backing[:0], hdr...)
	backing = append(backing, "calhost"...)
	backing = append(backing, 0x63, 0xdd, 0x01)
	if _, err := ParseHandshake(backing[:len(hdr)]); !IsTruncated(err) {
		t.Fatalf("want truncation for window of %d, got %v", len(hdr), err)
	}
	if _, _, err := DecodeString(backing[4:len(hdr)]); !IsTruncated(err) {
		t.Fatalf("string read past its window: %v", err)
	}
}

func TestHandshakeAddressCopyOut(t *testing.T) {
	hs, err := ParseHandshake(localhostHandshake)
	if err != nil {
		t.Fatalf("ParseHandshake: %v", err)
	}
	dst := make([]byte, hs.ServerAddress.Len())
	if _, err := hs.ServerAddress.CopyTo(dst); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	if _, err := hs.ServerAddress.CopyTo(dst[:len(dst)-1]); !errors.Is(err, ErrShortDst) {
		t.Fatalf("want ErrShortDst, got %v", err)
	}
}

func TestEnvelopeComplete(t *testing.T) {
	env, err := DecodeEnvelope(localhostHandshake)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if !env.Complete() || env.FrameLen() != len(localhostHandshake) {
		t.Fatalf("complete=%v frame=%d", env.Complete(), env.FrameLen())
	}
	env, err = DecodeEnvelope(localhostHandshake[:6])
	if err != nil {
		t.Fatalf("DecodeEnvelope prefix: %v", err)
	}
	if env.Complete() {
		t.Fatalf("prefix reported complete")
	}
	if env.Payload.Len() != 4 {
		t.Fatalf("payload len %d", env.Payload.Len())
	}
}

func TestNextStateName(t *testing.T) {
	for s, want := range map[int32]string{1: "status", 2: "login", 3: "transfer", 9: "unknown"} {
		if got := NextStateName(s); got != want {
			t.Fatalf("NextStateName(%d)=%q", s, got)
		}
	}
}
