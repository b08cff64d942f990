package logging

import (
	"context"
	"log/slog"
	"sync/atomic"

	"craftgate/internal/protocol"
)

// DefaultAccessFormat mirrors a stream access log: who, what host, where to,
// how it ended and how much moved.
const DefaultAccessFormat = `$remote_addr "$server_name" $parser $upstream $status $bytes_received $bytes_sent ${duration_ms}ms`

// Access log variable names set by the proxy in addition to parser vars.
const (
	VarSessionID     = "session_id"
	VarRemoteAddr    = "remote_addr"
	VarServerName    = "server_name"
	VarParser        = "parser"
	VarUpstream      = "upstream"
	VarStatus        = "status"
	VarBytesSent     = "bytes_sent"
	VarBytesReceived = "bytes_received"
	VarDurationMs    = "duration_ms"
)

// AccessLog renders one line per finished session from a $variable template.
type AccessLog struct {
	logger  *slog.Logger
	format  atomic.Pointer[string]
	enabled atomic.Bool
}

func NewAccessLog(logger *slog.Logger, format string) *AccessLog {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AccessLog{logger: logger.With(slog.String("log", "access"))}
	a.SetFormat(format)
	return a
}

func (a *AccessLog) SetFormat(format string) {
	if format == "" {
		format = DefaultAccessFormat
	}
	a.format.Store(&format)
}

func (a *AccessLog) SetEnabled(on bool) { a.enabled.Store(on) }

func (a *AccessLog) Enabled() bool { return a != nil && a.enabled.Load() }

// Format renders vars with the current template.
func (a *AccessLog) Format(vars protocol.Vars) string {
	return vars.Expand(*a.format.Load())
}

// Log writes one access line. It is a no-op when the access log is off.
func (a *AccessLog) Log(ctx context.Context, vars protocol.Vars) {
	if !a.Enabled() {
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, a.Format(vars),
		slog.String("sid", vars[VarSessionID]),
		slog.String("status", vars[VarStatus]),
	)
}
