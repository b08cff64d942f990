package protocol

import (
	"slices"
	"strings"

	"golang.org/x/crypto/cryptobyte"

	"craftgate/internal/hostname"
)

const (
	recordTypeHandshake  = 0x16
	handshakeClientHello = 0x01
	extServerName        = 0x0000
	extALPN              = 0x0010
	sniTypeHostName      = 0x00
)

// TLSSNIHostParser routes TLS connections by the server_name extension of
// the ClientHello. The ClientHello may be split across several records.
type TLSSNIHostParser struct{}

func NewTLSSNIHostParser() *TLSSNIHostParser { return &TLSSNIHostParser{} }

func (p *TLSSNIHostParser) Name() string { return "tls_sni" }

func (p *TLSSNIHostParser) Parse(prelude []byte) (*Metadata, error) {
	hello, err := reassembleClientHello(prelude)
	if err != nil {
		return nil, err
	}
	info, ok := parseClientHello(hello)
	if !ok || info.serverName == "" {
		return nil, ErrNoMatch
	}

	vars := Vars{VarSSLServerName: info.serverName}
	if info.alpn != nil {
		vars[VarSSLALPNProtocols] = strings.Join(info.alpn, ",")
	}
	return &Metadata{Parser: p.Name(), Host: info.serverName, Vars: vars}, nil
}

// reassembleClientHello returns the ClientHello body once every record
// carrying it has arrived.
func reassembleClientHello(prelude []byte) (cryptobyte.String, error) {
	if len(prelude) > 0 && prelude[0] != recordTypeHandshake {
		return nil, ErrNoMatch
	}

	in := cryptobyte.String(prelude)
	var msg []byte
	for {
		if len(in) < 5 {
			return nil, ErrNeedMoreData
		}
		var (
			typ      uint8
			version  uint16
			fragment cryptobyte.String
		)
		in.ReadUint8(&typ)
		in.ReadUint16(&version)
		if typ != recordTypeHandshake || version < 0x0301 || version > 0x0304 {
			return nil, ErrNoMatch
		}
		if !in.ReadUint16LengthPrefixed(&fragment) {
			return nil, ErrNeedMoreData
		}
		if len(fragment) == 0 {
			return nil, ErrNoMatch
		}

		// The first fragment aliases prelude; later ones force a copy so the
		// input is never written to.
		if msg == nil {
			msg = fragment
		} else {
			msg = append(slices.Clip(msg), fragment...)
		}

		if len(msg) < 4 {
			continue
		}
		if msg[0] != handshakeClientHello {
			return nil, ErrNoMatch
		}
		n := int(msg[1])<<16 | int(msg[2])<<8 | int(msg[3])
		if n == 0 {
			return nil, ErrNoMatch
		}
		if len(msg) >= 4+n {
			return cryptobyte.String(msg[4 : 4+n]), nil
		}
	}
}

type clientHelloInfo struct {
	serverName string
	alpn       []string
}

// parseClientHello walks a complete ClientHello body. ok is false when the
// body is malformed.
func parseClientHello(hello cryptobyte.String) (info clientHelloInfo, ok bool) {
	var sessionID, suites, compression, exts cryptobyte.String
	if !hello.Skip(2+32) || // legacy_version, random
		!hello.ReadUint8LengthPrefixed(&sessionID) ||
		!hello.ReadUint16LengthPrefixed(&suites) ||
		!hello.ReadUint8LengthPrefixed(&compression) {
		return info, false
	}
	if len(suites) < 2 || len(suites)%2 != 0 {
		return info, false
	}
	if hello.Empty() {
		// No extensions, so no SNI.
		return info, true
	}
	if !hello.ReadUint16LengthPrefixed(&exts) {
		return info, false
	}

	for !exts.Empty() {
		var (
			typ  uint16
			data cryptobyte.String
		)
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return info, false
		}
		switch typ {
		case extServerName:
			if info.serverName, ok = readServerName(data); !ok {
				return info, false
			}
		case extALPN:
			if info.alpn, ok = readALPN(data); !ok {
				return info, false
			}
		}
	}
	return info, true
}

// readServerName returns the first host_name entry, normalized.
func readServerName(data cryptobyte.String) (string, bool) {
	var names cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&names) {
		return "", false
	}
	for !names.Empty() {
		var (
			nameType uint8
			name     cryptobyte.String
		)
		if !names.ReadUint8(&nameType) || !names.ReadUint16LengthPrefixed(&name) {
			return "", false
		}
		if nameType == sniTypeHostName {
			return hostname.Normalize(string(name)), true
		}
	}
	return "", true
}

func readALPN(data cryptobyte.String) ([]string, bool) {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) || list.Empty() {
		return nil, false
	}
	protos := []string{}
	for !list.Empty() {
		var proto cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&proto) || proto.Empty() {
			return nil, false
		}
		protos = append(protos, string(proto))
	}
	return protos, true
}

var _ HostParser = (*TLSSNIHostParser)(nil)
