package protocol

import (
	"errors"
	"testing"
)

type stubParser struct {
	name string
	host string
	err  error
}

func (s stubParser) Name() string { return s.name }

func (s stubParser) Parse([]byte) (*Metadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Metadata{Host: s.host}, nil
}

func TestChainHostParser(t *testing.T) {
	fatal := errors.New("boom")
	cases := []struct {
		name    string
		parsers []HostParser
		host    string
		parser  string
		err     error
	}{
		{"first match wins", []HostParser{stubParser{name: "a", err: ErrNoMatch}, stubParser{name: "b", host: "x"}, stubParser{name: "c", host: "y"}}, "x", "b", nil},
		{"need more beats no match", []HostParser{stubParser{name: "a", err: ErrNeedMoreData}, stubParser{name: "b", err: ErrNoMatch}}, "", "", ErrNeedMoreData},
		{"all no match", []HostParser{stubParser{name: "a", err: ErrNoMatch}}, "", "", ErrNoMatch},
		{"empty host skipped", []HostParser{stubParser{name: "a"}, stubParser{name: "b", host: "z"}}, "z", "b", nil},
		{"fatal aborts", []HostParser{stubParser{name: "a", err: fatal}, stubParser{name: "b", host: "z"}}, "", "", fatal},
		{"nil parsers dropped", []HostParser{nil, stubParser{name: "b", host: "z"}}, "z", "b", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			md, err := NewChainHostParser(tc.parsers...).Parse(nil)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("want %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if md.Host != tc.host || md.Parser != tc.parser {
				t.Fatalf("got %+v", md)
			}
		})
	}
}

func TestChainRoutesMixedProtocols(t *testing.T) {
	chain := NewChainHostParser(NewMinecraftHostParser(), NewTLSSNIHostParser(), NewHTTPHostParser())

	md, err := chain.Parse(buildHandshakePacket("mc.example.com", 25565, 763, 2))
	if err != nil || md.Host != "mc.example.com" || md.Parser != "minecraft_handshake" {
		t.Fatalf("minecraft: %+v %v", md, err)
	}
	md, err = chain.Parse(buildClientHello(helloOpts{sni: "tls.example.com"}))
	if err != nil || md.Host != "tls.example.com" || md.Parser != "tls_sni" {
		t.Fatalf("tls: %+v %v", md, err)
	}
	md, err = chain.Parse([]byte("GET / HTTP/1.1\r\nHost: web.example.com\r\n\r\n"))
	if err != nil || md.Host != "web.example.com" || md.Parser != "http_host" {
		t.Fatalf("http: %+v %v", md, err)
	}
}

func TestVarsExpand(t *testing.T) {
	v := Vars{VarMinecraftServer: "mc.example.com", VarMinecraftVersion: "763"}
	got := v.Expand("$minecraft_server is closed (v${minecraft_version}) $unknown.")
	if got != "mc.example.com is closed (v763) ." {
		t.Fatalf("Expand: %q", got)
	}
	merged := v.With(Vars{"remote_addr": "203.0.113.7"})
	if merged["remote_addr"] != "203.0.113.7" || len(v) != 2 {
		t.Fatalf("With mutated receiver or lost data: %v %v", v, merged)
	}
	if names := merged.Names(); len(names) != 3 || names[0] != VarMinecraftServer {
		t.Fatalf("Names: %v", names)
	}
}
