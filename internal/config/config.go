package config

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/muhammadmuzzammil1998/jsonc"
	"gopkg.in/yaml.v3"
)

type Timeouts struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

type ReloadConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

type AdminLogBufferConfig struct {
	Enabled bool
	Size    int
}

type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string
	// Format is one of: json, text.
	Format string
	// Output is one of: stderr, stdout, discard; or a file path.
	Output string
	// AddSource enables source file/line reporting (slightly higher overhead).
	AddSource bool
	// AdminBuffer controls an in-memory log line ring buffer used by the admin server.
	AdminBuffer AdminLogBufferConfig

	// AccessLog emits one line per finished session.
	AccessLog bool
	// AccessFormat is a $variable template for access log lines.
	AccessFormat string
}

type RoutingParserConfig struct {
	Type         string
	Name         string
	Path         string
	Function     string
	MaxOutputLen int

	// Minecraft handshake filters.
	MaxProtocolVersion int
	NextStates         []string
}

// ListenerConfig describes one TCP listener. With Upstream set the listener
// forwards every connection there without inspecting it; otherwise
// connections are routed by host.
type ListenerConfig struct {
	ListenAddr string
	Upstream   string
	// MaxConnections caps concurrently handled connections; further clients
	// wait in the accept backlog. 0 means no cap.
	MaxConnections int
}

type RouteConfig struct {
	Upstreams    []string
	Return       string
	CachePingTTL time.Duration
	Disabled     bool
}

type RateLimitConfig struct {
	// PerSecond is the sustained new-connection rate per client IP. 0 disables limiting.
	PerSecond float64
	Burst     int
}

type Config struct {
	AdminAddr string

	Listeners []ListenerConfig

	Logging LoggingConfig

	Routes       map[string]RouteConfig
	DefaultRoute *RouteConfig

	// RoutingParsers controls how craftgate extracts the routing hostname from the
	// first bytes of the stream.
	RoutingParsers []RoutingParserConfig
	MaxHeaderBytes int

	Reload ReloadConfig

	ProxyProtocolV2     bool
	BufferSize          int
	UpstreamDialTimeout time.Duration
	Timeouts            Timeouts
	RateLimit           RateLimitConfig
}

type ConfigProvider interface {
	Load(ctx context.Context) (*Config, error)
}

type FileConfigProvider struct {
	Path string
}

func NewFileConfigProvider(path string) *FileConfigProvider {
	return &FileConfigProvider{Path: path}
}

func (p *FileConfigProvider) WatchPath() string {
	return p.Path
}

func (p *FileConfigProvider) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	fc := defaultFileConfig()
	if err := decodeFile(p.Path, data, fc); err != nil {
		return nil, fmt.Errorf("config: %s: %w", p.Path, err)
	}
	cfg := fc.build()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", p.Path, err)
	}
	return cfg, nil
}

// decodeFile decodes data into fc by the extension of path. Keys missing
// from the file keep the values already in fc.
func decodeFile(path string, data []byte, fc *fileConfig) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), fc); err != nil {
			return err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, fc); err != nil {
			return err
		}
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so the yaml tags serve both.
		plain := jsonc.ToJSON(data)
		if !json.Valid(plain) {
			return errors.New("invalid JSON")
		}
		if err := yaml.Unmarshal(plain, fc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported config extension %q (expected .toml, .yaml, .yml, .json or .jsonc)", ext)
	}
	return nil
}

type fileListener struct {
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
	Upstream   string `toml:"upstream" yaml:"upstream"`
	MaxConns   int    `toml:"max_connections" yaml:"max_connections"`
}

type fileParser struct {
	Type               string   `toml:"type" yaml:"type"`
	Name               string   `toml:"name" yaml:"name"`
	Path               string   `toml:"path" yaml:"path"`
	Function           string   `toml:"function" yaml:"function"`
	MaxOutputLen       int      `toml:"max_output_len" yaml:"max_output_len"`
	MaxProtocolVersion int      `toml:"max_protocol_version" yaml:"max_protocol_version"`
	NextStates         []string `toml:"next_states" yaml:"next_states"`
}

// fileConfig mirrors the on-disk layout. Durations are in milliseconds.
type fileConfig struct {
	ListenAddr string         `toml:"listen_addr" yaml:"listen_addr"`
	AdminAddr  string         `toml:"admin_addr" yaml:"admin_addr"`
	Listeners  []fileListener `toml:"listeners" yaml:"listeners"`

	Logging struct {
		Level        string `toml:"level" yaml:"level"`
		Format       string `toml:"format" yaml:"format"`
		Output       string `toml:"output" yaml:"output"`
		AddSource    bool   `toml:"add_source" yaml:"add_source"`
		AccessLog    bool   `toml:"access_log" yaml:"access_log"`
		AccessFormat string `toml:"access_format" yaml:"access_format"`
		AdminBuffer  struct {
			Enabled bool `toml:"enabled" yaml:"enabled"`
			Size    int  `toml:"size" yaml:"size"`
		} `toml:"admin_buffer" yaml:"admin_buffer"`
	} `toml:"logging" yaml:"logging"`

	Routes         map[string]routeSpec `toml:"routes" yaml:"routes"`
	DefaultRoute   *routeSpec           `toml:"default_route" yaml:"default_route"`
	RoutingParsers []fileParser         `toml:"routing_parsers" yaml:"routing_parsers"`
	MaxHeaderBytes int                  `toml:"max_header_bytes" yaml:"max_header_bytes"`

	Reload struct {
		Enabled        bool `toml:"enabled" yaml:"enabled"`
		PollIntervalMs int  `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	} `toml:"reload" yaml:"reload"`

	ProxyProtocolV2       bool `toml:"proxy_protocol_v2" yaml:"proxy_protocol_v2"`
	BufferSize            int  `toml:"buffer_size" yaml:"buffer_size"`
	UpstreamDialTimeoutMs int  `toml:"upstream_dial_timeout_ms" yaml:"upstream_dial_timeout_ms"`
	Timeouts              struct {
		HandshakeTimeoutMs int `toml:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
		IdleTimeoutMs      int `toml:"idle_timeout_ms" yaml:"idle_timeout_ms"`
	} `toml:"timeouts" yaml:"timeouts"`
	RateLimit struct {
		PerSecond float64 `toml:"per_second" yaml:"per_second"`
		Burst     int     `toml:"burst" yaml:"burst"`
	} `toml:"rate_limit" yaml:"rate_limit"`
}

// defaultFileConfig is decoded over, so values a file leaves out keep these.
// Numeric settings fall back to their defaults in build instead.
func defaultFileConfig() *fileConfig {
	fc := new(fileConfig)
	fc.Logging.Level = "info"
	fc.Logging.Format = "json"
	fc.Logging.Output = "stderr"
	fc.Logging.AdminBuffer.Size = 1000
	fc.Reload.Enabled = true
	return fc
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// positive returns v, or def when v is zero or negative.
func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parserAliases maps accepted builtin parser names to their canonical name.
var parserAliases = map[string]string{
	"minecraft_handshake": "minecraft_handshake",
	"minecraft":           "minecraft_handshake",
	"mc":                  "minecraft_handshake",
	"tls_sni":             "tls_sni",
	"sni":                 "tls_sni",
	"tls":                 "tls_sni",
	"http_host":           "http_host",
	"http":                "http_host",
}

// CanonicalParserName resolves a builtin parser name or alias, ignoring
// case and surrounding space.
func CanonicalParserName(name string) (string, bool) {
	canon, ok := parserAliases[strings.ToLower(strings.TrimSpace(name))]
	return canon, ok
}

func (fc *fileConfig) build() *Config {
	lg := fc.Logging
	cfg := &Config{
		AdminAddr: cmp.Or(strings.TrimSpace(fc.AdminAddr), ":8080"),
		Logging: LoggingConfig{
			Level:        lg.Level,
			Format:       lg.Format,
			Output:       lg.Output,
			AddSource:    lg.AddSource,
			AccessLog:    lg.AccessLog,
			AccessFormat: lg.AccessFormat,
			AdminBuffer:  AdminLogBufferConfig(lg.AdminBuffer),
		},
		Routes:              make(map[string]RouteConfig, len(fc.Routes)),
		MaxHeaderBytes:      positive(fc.MaxHeaderBytes, 64*1024),
		Reload:              ReloadConfig{Enabled: fc.Reload.Enabled, PollInterval: millis(positive(fc.Reload.PollIntervalMs, 1000))},
		ProxyProtocolV2:     fc.ProxyProtocolV2,
		BufferSize:          positive(fc.BufferSize, 32*1024),
		UpstreamDialTimeout: millis(positive(fc.UpstreamDialTimeoutMs, 5000)),
		Timeouts: Timeouts{
			HandshakeTimeout: millis(positive(fc.Timeouts.HandshakeTimeoutMs, 3000)),
			IdleTimeout:      millis(fc.Timeouts.IdleTimeoutMs),
		},
		RateLimit: RateLimitConfig(fc.RateLimit),
	}

	for host, rs := range fc.Routes {
		cfg.Routes[host] = rs.RouteConfig
	}
	if fc.DefaultRoute != nil {
		def := fc.DefaultRoute.RouteConfig
		cfg.DefaultRoute = &def
	}

	for _, l := range fc.Listeners {
		cfg.Listeners = append(cfg.Listeners, ListenerConfig{
			ListenAddr:     strings.TrimSpace(l.ListenAddr),
			Upstream:       strings.TrimSpace(l.Upstream),
			MaxConnections: l.MaxConns,
		})
	}
	if len(cfg.Listeners) == 0 {
		// Single-listener files predate the listeners list.
		cfg.Listeners = []ListenerConfig{{ListenAddr: cmp.Or(strings.TrimSpace(fc.ListenAddr), ":25565")}}
	}

	for _, fp := range fc.RoutingParsers {
		rp := RoutingParserConfig{
			Type:               strings.ToLower(strings.TrimSpace(fp.Type)),
			Name:               strings.TrimSpace(fp.Name),
			Path:               strings.TrimSpace(fp.Path),
			Function:           fp.Function,
			MaxOutputLen:       fp.MaxOutputLen,
			MaxProtocolVersion: fp.MaxProtocolVersion,
		}
		if rp.Type == "" {
			rp.Type = "builtin"
		}
		if canon, ok := CanonicalParserName(rp.Name); ok && rp.Type == "builtin" {
			rp.Name = canon
		}
		for _, st := range fp.NextStates {
			rp.NextStates = append(rp.NextStates, strings.ToLower(strings.TrimSpace(st)))
		}
		cfg.RoutingParsers = append(cfg.RoutingParsers, rp)
	}
	if len(cfg.RoutingParsers) == 0 {
		cfg.RoutingParsers = []RoutingParserConfig{
			{Type: "builtin", Name: "minecraft_handshake"},
			{Type: "builtin", Name: "tls_sni"},
		}
	}

	if cfg.RateLimit.PerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(math.Ceil(cfg.RateLimit.PerSecond))
	}
	return cfg
}

// Validate reports the first structural problem in cfg.
func (cfg *Config) Validate() error {
	for i, l := range cfg.Listeners {
		if l.ListenAddr == "" {
			return fmt.Errorf("listeners[%d]: listen_addr is required", i)
		}
		if l.MaxConnections < 0 {
			return fmt.Errorf("listeners[%d]: max_connections must not be negative", i)
		}
	}
	for i, rp := range cfg.RoutingParsers {
		switch rp.Type {
		case "builtin", "":
			if _, ok := parserAliases[rp.Name]; !ok {
				return fmt.Errorf("routing_parsers[%d]: unknown builtin parser %q", i, rp.Name)
			}
		case "wasm":
			if strings.TrimSpace(rp.Path) == "" {
				return fmt.Errorf("routing_parsers[%d]: wasm parser requires path", i)
			}
		default:
			return fmt.Errorf("routing_parsers[%d]: unknown type %q", i, rp.Type)
		}
		for _, s := range rp.NextStates {
			switch s {
			case "status", "login", "transfer":
			default:
				return fmt.Errorf("routing_parsers[%d]: unknown next state %q", i, s)
			}
		}
	}
	for host, rc := range cfg.Routes {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("routes: empty host key")
		}
		if err := rc.validate(); err != nil {
			return fmt.Errorf("routes[%q]: %w", host, err)
		}
	}
	if cfg.DefaultRoute != nil {
		if err := cfg.DefaultRoute.validate(); err != nil {
			return fmt.Errorf("default_route: %w", err)
		}
	}
	if cfg.RateLimit.PerSecond < 0 {
		return fmt.Errorf("rate_limit: per_second must not be negative")
	}
	return nil
}

func (rc RouteConfig) validate() error {
	if len(rc.Upstreams) == 0 && rc.Return == "" && !rc.Disabled {
		return fmt.Errorf("needs upstreams or return")
	}
	for _, u := range rc.Upstreams {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("empty upstream")
		}
	}
	if rc.CachePingTTL < 0 {
		return fmt.Errorf("cache_ping_ttl_ms must not be negative")
	}
	return nil
}
