package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFileConfigProvider_Load_ListenersYAML(t *testing.T) {
	path := writeConfig(t, "craftgate.yaml", `
listeners:
  - listen_addr: ":25565"
  - listen_addr: ":25575"
    upstream: "127.0.0.1:25575"
    max_connections: 64

routes:
  play.example.com: "127.0.0.1:25566"
`)

	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 2 {
		t.Fatalf("Listeners len=%d want 2", len(cfg.Listeners))
	}
	if cfg.Listeners[0].ListenAddr != ":25565" || cfg.Listeners[0].Upstream != "" {
		t.Fatalf("Listeners[0]=%+v", cfg.Listeners[0])
	}
	if want := (ListenerConfig{ListenAddr: ":25575", Upstream: "127.0.0.1:25575", MaxConnections: 64}); cfg.Listeners[1] != want {
		t.Fatalf("Listeners[1]=%+v", cfg.Listeners[1])
	}
}

func TestFileConfigProvider_Load_LegacyListenAddr(t *testing.T) {
	path := writeConfig(t, "craftgate.toml", `listen_addr = ":25570"`)
	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].ListenAddr != ":25570" {
		t.Fatalf("Listeners=%+v", cfg.Listeners)
	}
}

func TestFileConfigProvider_Load_RouteFormsTOML(t *testing.T) {
	path := writeConfig(t, "craftgate.toml", `
[routes]
"a.example.com" = "10.0.0.1:25565"
"b.example.com" = ["10.0.0.2:25565", "10.0.0.3:25565"]

[routes."c.example.com"]
upstream = "10.0.0.4"
upstreams = ["10.0.0.5"]
cache_ping_ttl_ms = 2500

[routes."closed.example.com"]
return = "Closed for maintenance"

[routes."off.example.com"]
upstream = "10.0.0.6:25565"
disabled = true

[default_route]
return = "Unknown host $minecraft_server"
`)

	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkRouteForms(t, cfg)
}

func TestFileConfigProvider_Load_RouteFormsYAML(t *testing.T) {
	path := writeConfig(t, "craftgate.yml", `
routes:
  a.example.com: "10.0.0.1:25565"
  b.example.com: ["10.0.0.2:25565", "10.0.0.3:25565"]
  c.example.com:
    upstream: "10.0.0.4"
    upstreams: ["10.0.0.5"]
    cache_ping_ttl_ms: 2500
  closed.example.com:
    return: "Closed for maintenance"
  off.example.com:
    upstream: "10.0.0.6:25565"
    disabled: true
default_route:
  return: "Unknown host $minecraft_server"
`)

	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkRouteForms(t, cfg)
}

func checkRouteForms(t *testing.T, cfg *Config) {
	t.Helper()
	if rc := cfg.Routes["a.example.com"]; len(rc.Upstreams) != 1 || rc.Upstreams[0] != "10.0.0.1:25565" {
		t.Fatalf("a=%+v", rc)
	}
	if rc := cfg.Routes["b.example.com"]; len(rc.Upstreams) != 2 || rc.Upstreams[1] != "10.0.0.3:25565" {
		t.Fatalf("b=%+v", rc)
	}
	rc := cfg.Routes["c.example.com"]
	if len(rc.Upstreams) != 2 || rc.Upstreams[0] != "10.0.0.4" || rc.Upstreams[1] != "10.0.0.5" || rc.CachePingTTL != 2500*time.Millisecond {
		t.Fatalf("c=%+v", rc)
	}
	if rc := cfg.Routes["closed.example.com"]; rc.Return != "Closed for maintenance" || len(rc.Upstreams) != 0 {
		t.Fatalf("closed=%+v", rc)
	}
	if rc := cfg.Routes["off.example.com"]; !rc.Disabled {
		t.Fatalf("off=%+v", rc)
	}
	if cfg.DefaultRoute == nil || cfg.DefaultRoute.Return != "Unknown host $minecraft_server" {
		t.Fatalf("default=%+v", cfg.DefaultRoute)
	}
}

func TestFileConfigProvider_Load_Validation(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
		want string
	}{
		"route without target": {"craftgate.toml", `
[routes."x.example.com"]
cache_ping_ttl_ms = 10
`, "needs upstreams or return"},
		"unknown parser": {"craftgate.toml", `
[[routing_parsers]]
type = "builtin"
name = "bedrock"
`, "unknown builtin parser"},
		"wasm without path": {"craftgate.yaml", `
routing_parsers:
  - type: wasm
`, "requires path"},
		"bad next state": {"craftgate.yaml", `
routing_parsers:
  - name: minecraft_handshake
    next_states: [play]
`, "unknown next state"},
		"unknown route key": {"craftgate.toml", `
[routes."x.example.com"]
upstreem = "10.0.0.1"
`, "unknown route key"},
		"ini":          {"craftgate.ini", "routes = x", "unsupported config extension"},
		"broken jsonc": {"craftgate.jsonc", "{\"routes\": {,} // trailing\n}", "invalid JSON"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, tc.name, tc.body)
			_, err := NewFileConfigProvider(path).Load(context.Background())
			if err == nil {
				t.Fatalf("Load: expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFileConfigProvider_Load_RateLimitBurstDefault(t *testing.T) {
	path := writeConfig(t, "craftgate.toml", `
[rate_limit]
per_second = 2.5
`)
	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.PerSecond != 2.5 || cfg.RateLimit.Burst != 3 {
		t.Fatalf("rate_limit=%+v", cfg.RateLimit)
	}
}

func TestFileConfigProvider_Load_ParserAliases(t *testing.T) {
	path := writeConfig(t, "craftgate.yaml", `
routing_parsers:
  - name: " MC "
    next_states: [Login]
  - {type: builtin, name: sni}
  - {type: WASM, path: " ./p.wasm ", name: custom}
buffer_size: -1
`)
	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.RoutingParsers
	if len(got) != 3 ||
		got[0].Type != "builtin" || got[0].Name != "minecraft_handshake" || got[0].NextStates[0] != "login" ||
		got[1].Name != "tls_sni" ||
		got[2].Type != "wasm" || got[2].Name != "custom" || got[2].Path != "./p.wasm" {
		t.Fatalf("parsers=%+v", got)
	}
	if cfg.BufferSize != 32*1024 {
		t.Fatalf("buffer_size=%d want default", cfg.BufferSize)
	}
}
