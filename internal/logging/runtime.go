package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"craftgate/internal/config"
)

// ErrRestartRequired is returned by Apply when part of the new config only
// takes effect after a restart.
var ErrRestartRequired = errors.New("logging: restart required")

const defaultAdminBufferLines = 1000

var namedOutputs = map[string]io.Writer{
	"stderr":  os.Stderr,
	"stdout":  os.Stdout,
	"discard": io.Discard,
	"none":    io.Discard,
	"null":    io.Discard,
}

// Runtime is the process logger plus what it writes to. Level and access log
// settings can be changed in place; the handler shape cannot.
type Runtime struct {
	logger *slog.Logger
	level  slog.LevelVar
	store  *LineStore
	access *AccessLog
	file   *os.File
	fixed  handlerShape
}

// handlerShape is the part of the logging config baked into the handler.
type handlerShape struct {
	format    string
	output    string
	addSource bool
	buffer    config.AdminLogBufferConfig
}

func shapeOf(cfg config.LoggingConfig) handlerShape {
	s := handlerShape{
		format:    strings.ToLower(strings.TrimSpace(cfg.Format)),
		output:    strings.TrimSpace(cfg.Output),
		addSource: cfg.AddSource,
		buffer:    cfg.AdminBuffer,
	}
	if s.format == "" {
		s.format = "json"
	}
	if s.output == "" {
		s.output = "stderr"
	}
	if _, named := namedOutputs[strings.ToLower(s.output)]; named {
		s.output = strings.ToLower(s.output)
	}
	if s.buffer.Enabled && s.buffer.Size <= 0 {
		s.buffer.Size = defaultAdminBufferLines
	}
	if !s.buffer.Enabled {
		s.buffer.Size = 0
	}
	return s
}

func NewRuntime(cfg config.LoggingConfig) (*Runtime, error) {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	shape := shapeOf(cfg)

	r := &Runtime{fixed: shape}
	r.level.Set(lvl)

	out, ok := namedOutputs[shape.output]
	if !ok {
		path := filepath.Clean(shape.output)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", path, err)
		}
		r.file, out = f, f
	}
	if shape.buffer.Enabled {
		r.store = NewLineStore(shape.buffer.Size)
		out = io.MultiWriter(out, r.store)
	}

	opts := &slog.HandlerOptions{Level: &r.level, AddSource: shape.addSource}
	var h slog.Handler
	switch shape.format {
	case "json":
		h = slog.NewJSONHandler(out, opts)
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		_ = r.Close()
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	r.logger = slog.New(h).With(slog.String("app", "craftgate"))
	r.access = NewAccessLog(r.logger, cfg.AccessFormat)
	r.access.SetEnabled(cfg.AccessLog)
	return r, nil
}

func (r *Runtime) Logger() *slog.Logger {
	if r == nil || r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Store is nil unless the admin buffer is enabled.
func (r *Runtime) Store() *LineStore { return r.store }

func (r *Runtime) Access() *AccessLog {
	if r == nil {
		return nil
	}
	return r.access
}

func (r *Runtime) Level() slog.Level { return r.level.Level() }

// Apply switches the level and access log to cfg. Everything else in cfg is
// only compared: a difference yields ErrRestartRequired after the live
// settings have been applied.
func (r *Runtime) Apply(cfg config.LoggingConfig) error {
	if r == nil {
		return nil
	}
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	r.level.Set(lvl)
	r.access.SetFormat(cfg.AccessFormat)
	r.access.SetEnabled(cfg.AccessLog)

	if r.NeedsRestart(cfg) {
		return ErrRestartRequired
	}
	return nil
}

// NeedsRestart reports whether cfg differs from the running logger in a way
// Apply cannot change.
func (r *Runtime) NeedsRestart(cfg config.LoggingConfig) bool {
	if r == nil {
		return false
	}
	return shapeOf(cfg) != r.fixed
}

func (r *Runtime) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}

func parseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
	return lvl, nil
}
