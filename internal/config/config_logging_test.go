package config

import (
	"context"
	"testing"
	"time"
)

func TestLoggingDefaults(t *testing.T) {
	path := writeConfig(t, "craftgate.toml", "admin_addr = \":8080\"\n\n[routes]\n")
	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lg := cfg.Logging
	if lg.Level != "info" || lg.Format != "json" || lg.Output != "stderr" {
		t.Fatalf("logging=%+v want info/json/stderr", lg)
	}
	if lg.AdminBuffer.Enabled || lg.AdminBuffer.Size != 1000 {
		t.Fatalf("admin_buffer=%+v want disabled, size 1000", lg.AdminBuffer)
	}
	if lg.AccessLog {
		t.Fatalf("access_log on by default")
	}
	if !cfg.Reload.Enabled || cfg.Reload.PollInterval != time.Second {
		t.Fatalf("reload=%+v want enabled, 1s", cfg.Reload)
	}
	if cfg.Timeouts.HandshakeTimeout != 3*time.Second || cfg.MaxHeaderBytes != 64*1024 {
		t.Fatalf("handshake=%v max_header=%d", cfg.Timeouts.HandshakeTimeout, cfg.MaxHeaderBytes)
	}
	if len(cfg.RoutingParsers) != 2 || cfg.RoutingParsers[0].Name != "minecraft_handshake" {
		t.Fatalf("routing parsers=%+v", cfg.RoutingParsers)
	}
}

func TestLoggingOverridesFromYAML(t *testing.T) {
	const format = "$remote_addr $minecraft_server $status"
	path := writeConfig(t, "craftgate.yaml", `
logging:
  level: debug
  format: text
  output: stdout
  add_source: true
  access_log: true
  access_format: "`+format+`"
  admin_buffer: {enabled: true, size: 12}
`)
	cfg, err := NewFileConfigProvider(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := LoggingConfig{
		Level:        "debug",
		Format:       "text",
		Output:       "stdout",
		AddSource:    true,
		AccessLog:    true,
		AccessFormat: format,
		AdminBuffer:  AdminLogBufferConfig{Enabled: true, Size: 12},
	}
	if cfg.Logging != want {
		t.Fatalf("logging=%+v\nwant    %+v", cfg.Logging, want)
	}
}
