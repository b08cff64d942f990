package proxy

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"craftgate/internal/config"
	"craftgate/internal/hostname"
	"craftgate/internal/logging"
	"craftgate/internal/protocol"
	"craftgate/internal/router"
	"craftgate/pkg/mcproto"
)

// Preread outcomes reported through SessionMetrics.ObservePreread.
const (
	PrereadMatched  = "matched"
	PrereadNoMatch  = "no_match"
	PrereadTimeout  = "timeout"
	PrereadTooLarge = "too_large"
	PrereadError    = "error"
)

// Session end states written to the access log $status variable.
const (
	StatusProxied      = "proxied"
	StatusDisconnected = "disconnected"
	StatusCached       = "status_cached"
	StatusNoRoute      = "no_route"
	StatusRejected     = "rejected"
	StatusDialFailed   = "dial_failed"
	StatusClosed       = "closed"
)

// Status cache results reported through SessionMetrics.ObserveStatusCache.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheFail = "error"
)

type SessionMetrics interface {
	IncActive()
	DecActive()
	AddRouteHit(host string)
	ObservePreread(parser, outcome string)
	IncDisconnect()
	IncRateLimited()
	ObserveStatusCache(result string)
}

type SessionHandlerOptions struct {
	Parser   protocol.HostParser
	Resolver router.UpstreamResolver
	Dialer   Dialer
	Bridge   *ProxyBridge
	Logger   *slog.Logger
	Metrics  SessionMetrics

	// AccessLog receives one line per finished session when enabled.
	AccessLog *logging.AccessLog
	// RateLimiter drops clients opening connections too fast. Nil disables it.
	RateLimiter *RateLimiter

	Sessions       *SessionRegistry
	Timeouts       config.Timeouts
	MaxHeaderBytes int

	// StatusCache enables caching of Minecraft Status (server list ping) responses.
	// If nil, a package-level default cache is used.
	StatusCache *StatusCache

	// DefaultUpstreamPort is used when a resolved upstream address has no port
	// and the prelude was not a Minecraft handshake.
	DefaultUpstreamPort int

	// UpstreamTimeout bounds one status fetch from an upstream, dial included.
	// Zero means defaultUpstreamTimeout.
	UpstreamTimeout time.Duration
}

const (
	defaultUpstreamTimeout = 5 * time.Second
	defaultStatusTimeout   = 5 * time.Second
)

type SessionHandler struct {
	v atomic.Pointer[SessionHandlerOptions]
}

func NewSessionHandler(opts SessionHandlerOptions) *SessionHandler {
	h := &SessionHandler{}
	h.Update(opts)
	return h
}

func (h *SessionHandler) Update(opts SessionHandlerOptions) {
	h.v.Store(&opts)
}

var tracer = otel.Tracer("craftgate/internal/proxy")

// session carries per-connection state from preread to the access log line.
type session struct {
	opts   *SessionHandlerOptions
	logger *slog.Logger
	conn   net.Conn
	span   trace.Span

	id     string
	client string
	start  time.Time

	md       *protocol.Metadata
	vars     protocol.Vars
	upstream string
	status   string
	transfer Transfer
}

func (h *SessionHandler) Handle(ctx context.Context, conn net.Conn) {
	opts := h.v.Load()
	if opts == nil || opts.Parser == nil || opts.Resolver == nil || opts.Dialer == nil || opts.Bridge == nil {
		_ = conn.Close()
		return
	}
	defer conn.Close()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientAddr := ""
	if conn.RemoteAddr() != nil {
		clientAddr = conn.RemoteAddr().String()
	}

	if !opts.RateLimiter.admit(conn, opts.Metrics) {
		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("proxy: rate limited", "client", clientAddr)
		}
		return
	}

	if opts.Metrics != nil {
		opts.Metrics.IncActive()
		defer opts.Metrics.DecActive()
	}

	s := &session{
		opts:   opts,
		logger: logger,
		conn:   conn,
		id:     uuid.NewString(),
		client: clientAddr,
		start:  time.Now(),
		status: StatusClosed,
	}
	ctx, s.span = tracer.Start(ctx, "proxy.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("craftgate.session_id", s.id),
			attribute.String("net.peer.addr", clientAddr),
		),
	)
	defer s.finish(ctx)

	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Debug("proxy: session started", "sid", s.id, "client", clientAddr)
	}
	s.run(ctx)
}

func (s *session) run(ctx context.Context) {
	opts := s.opts
	captured, ok := s.preread(ctx)
	if !ok {
		return
	}

	// Clear the handshake deadline; the idle timeout (if set) applies from here.
	_ = s.conn.SetReadDeadline(time.Time{})

	host := ""
	if s.md != nil {
		host = s.md.Host
	}
	res, ok := opts.Resolver.Resolve(host)
	if !ok {
		s.status = StatusNoRoute
		if s.logger.Enabled(ctx, slog.LevelDebug) {
			s.logger.Debug("proxy: no route for host", "sid", s.id, "client", s.client, "host", host)
		}
		return
	}
	if opts.Metrics != nil {
		opts.Metrics.AddRouteHit(res.Host)
	}
	s.span.SetAttributes(attribute.String("craftgate.route", res.Host))

	if res.Return != "" {
		s.disconnect(ctx, res.Return)
		return
	}

	hs := s.handshake(captured)
	if res.CachePingTTL > 0 && hs != nil && hs.NextState == mcproto.StateStatus {
		s.serveStatus(ctx, res, hs, captured)
		return
	}

	up, err := s.dial(ctx, res, hs)
	if err != nil {
		s.status = StatusDialFailed
		s.fail(err)
		s.logger.Warn("proxy: upstream dial failed", "sid", s.id, "client", s.client, "host", host, "upstream_candidates", len(res.Upstreams), "err", err)
		return
	}

	if opts.Sessions != nil {
		opts.Sessions.Add(SessionInfo{
			ID:        s.id,
			Client:    s.client,
			Host:      host,
			Upstream:  s.upstream,
			StartedAt: s.start,
		})
		defer opts.Sessions.Remove(s.id)
	}
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("proxy: routed", "sid", s.id, "client", s.client, "host", host, "upstream", s.upstream)
	}

	s.status = StatusProxied
	initial := io.MultiReader(bytes.NewReader(captured), s.conn)
	s.transfer, err = opts.Bridge.WithIdleTimeout(opts.Timeouts.IdleTimeout).Proxy(ctx, s.conn, up, initial)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, ErrIdleTimeout):
		s.logger.Debug("proxy: session idle", "sid", s.id, "client", s.client, "host", host, "upstream", s.upstream, "idle_timeout", opts.Timeouts.IdleTimeout)
	default:
		s.fail(err)
		s.logger.Warn("proxy: session ended with error", "sid", s.id, "client", s.client, "host", host, "upstream", s.upstream, "duration_ms", time.Since(s.start).Milliseconds(), "err", err)
	}
}

// preread captures bytes until the parser decides. It reports false when
// the connection must be dropped.
//
// A no-match result leaves s.md nil so the default route can take the
// connection.
func (s *session) preread(ctx context.Context) ([]byte, bool) {
	opts := s.opts
	maxHeader := opts.MaxHeaderBytes
	if maxHeader <= 0 {
		maxHeader = 64 * 1024
	}
	if opts.Timeouts.HandshakeTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(opts.Timeouts.HandshakeTimeout))
	}

	captured := make([]byte, 0, min(4096, maxHeader))
	tmp := make([]byte, 4096)
	for len(captured) < maxHeader {
		n, err := s.conn.Read(tmp[:min(len(tmp), maxHeader-len(captured))])
		// Bytes that arrive together with an error (a handshake followed by
		// a half-close) still get parsed.
		if n > 0 {
			captured = append(captured, tmp[:n]...)
			switch s.parse(ctx, captured) {
			case prereadRoute:
				return captured, true
			case prereadDrop:
				return nil, false
			}
		}
		if err != nil {
			outcome := PrereadError
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				outcome = PrereadTimeout
			}
			s.observe(opts.Parser.Name(), outcome)
			if s.logger.Enabled(ctx, slog.LevelDebug) {
				s.logger.Debug("proxy: handshake read failed", "sid", s.id, "client", s.client, "captured_bytes", len(captured), "err", err)
			}
			return nil, false
		}
	}

	s.observe(opts.Parser.Name(), PrereadTooLarge)
	s.status = StatusRejected
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("proxy: exceeded max header bytes without host", "sid", s.id, "client", s.client, "max_header_bytes", maxHeader)
	}
	return nil, false
}

type prereadStep int

const (
	prereadMore prereadStep = iota
	prereadRoute
	prereadDrop
)

// parse runs the parser chain over everything captured so far.
func (s *session) parse(ctx context.Context, captured []byte) prereadStep {
	p := s.opts.Parser
	md, err := p.Parse(captured)
	switch {
	case err == nil:
		s.observe(md.Parser, PrereadMatched)
		s.setMetadata(md)
		return prereadRoute
	case errors.Is(err, protocol.ErrNeedMoreData):
		return prereadMore
	case errors.Is(err, protocol.ErrNoMatch):
		s.observe(p.Name(), PrereadNoMatch)
		s.setMetadata(nil)
		if s.logger.Enabled(ctx, slog.LevelDebug) {
			s.logger.Debug("proxy: no routing header match", "sid", s.id, "client", s.client, "parser", p.Name(), "captured_bytes", len(captured))
		}
		return prereadRoute
	default:
		s.observe(p.Name(), PrereadError)
		s.status = StatusRejected
		s.fail(err)
		s.logger.Warn("proxy: routing header parse failed", "sid", s.id, "client", s.client, "parser", p.Name(), "captured_bytes", len(captured), "err", err)
		return prereadDrop
	}
}

func (s *session) observe(parser, outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObservePreread(parser, outcome)
	}
}

func (s *session) setMetadata(md *protocol.Metadata) {
	s.md = md
	base := protocol.Vars{
		logging.VarSessionID:  s.id,
		logging.VarRemoteAddr: s.client,
	}
	if md == nil {
		s.vars = base
		return
	}
	s.vars = md.Vars.With(base).With(protocol.Vars{
		logging.VarServerName: md.Host,
		logging.VarParser:     md.Parser,
	})

	s.span.SetAttributes(
		attribute.String("craftgate.host", md.Host),
		attribute.String("craftgate.parser", md.Parser),
	)
	if v, ok := md.Vars[protocol.VarMinecraftPort]; ok {
		s.span.SetAttributes(attribute.String("minecraft.port", v))
	}
	if v, ok := md.Vars[protocol.VarMinecraftVersion]; ok {
		s.span.SetAttributes(attribute.String("minecraft.protocol_version", v))
	}
}

// handshake re-decodes the Minecraft handshake from the capture when the
// routing host came from one.
func (s *session) handshake(captured []byte) *protocol.HandshakeMetadata {
	if s.md == nil || s.md.Vars[protocol.VarMinecraftServer] == "" {
		return nil
	}
	hs, err := protocol.TryParseMinecraftHandshake(captured)
	if err != nil {
		return nil
	}
	return hs
}

func (s *session) disconnect(ctx context.Context, text string) {
	s.status = StatusDisconnected
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncDisconnect()
	}
	if err := WriteDisconnect(s.conn, s.vars.Expand(text)); err != nil {
		s.fail(err)
		if s.logger.Enabled(ctx, slog.LevelDebug) {
			s.logger.Debug("proxy: disconnect write failed", "sid", s.id, "client", s.client, "err", err)
		}
	}
}

// dial tries each route upstream in order and returns the first connection.
func (s *session) dial(ctx context.Context, res router.Route, hs *protocol.HandshakeMetadata) (net.Conn, error) {
	var lastErr error
	for _, cand := range res.Upstreams {
		addr := s.upstreamAddr(cand, hs)
		if addr == "" {
			continue
		}
		c, err := s.opts.Dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		s.upstream = addr
		s.vars[logging.VarUpstream] = addr
		s.span.SetAttributes(attribute.String("craftgate.upstream", addr))
		return c, nil
	}
	if lastErr == nil {
		lastErr = errors.New("proxy: no usable upstream")
	}
	return nil, lastErr
}

// upstreamAddr expands request variables in an upstream entry and fills in
// a missing port: the handshake port when there is one, else the default.
func (s *session) upstreamAddr(upstream string, hs *protocol.HandshakeMetadata) string {
	port := s.opts.DefaultUpstreamPort
	if hs != nil {
		port = int(hs.Port)
	}
	return normalizeUpstreamAddr(s.vars.Expand(upstream), port)
}

func (s *session) serveStatus(ctx context.Context, res router.Route, hs *protocol.HandshakeMetadata, captured []byte) {
	cache := s.opts.StatusCache
	if cache == nil {
		cache = DefaultStatusCache()
	}
	// The whole exchange with the client, upstream fetch included, runs
	// under one deadline.
	_ = s.conn.SetDeadline(time.Now().Add(s.statusTimeout()))
	fetchTimeout := cmp.Or(s.opts.UpstreamTimeout, defaultUpstreamTimeout)

	// The status request may already be in the capture.
	clientR := io.MultiReader(bytes.NewReader(captured[hs.Length:]), s.conn)
	statusReq, pid, err := readFrame(clientR, 64*1024)
	if err != nil || pid != statusRequestID {
		s.status = StatusRejected
		return
	}

	for _, cand := range res.Upstreams {
		up := s.upstreamAddr(cand, hs)
		if up == "" {
			continue
		}
		key := StatusCacheKey{Upstream: up, ProtocolVersion: hs.ProtocolVersion}
		resp, cached, err := cache.GetOrLoad(ctx, key, res.CachePingTTL, func(ctx context.Context) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			defer cancel()
			return fetchStatus(ctx, s.opts.Dialer, up, captured[:hs.Length], statusReq)
		})
		if err != nil {
			s.cacheResult(CacheFail)
			if s.logger.Enabled(ctx, slog.LevelDebug) {
				s.logger.Debug("proxy: status fetch failed", "sid", s.id, "client", s.client, "upstream", up, "err", err)
			}
			continue
		}
		if cached {
			s.cacheResult(CacheHit)
		} else {
			s.cacheResult(CacheMiss)
		}

		s.status = StatusCached
		s.upstream = up
		s.vars[logging.VarUpstream] = up
		if _, err := s.conn.Write(resp); err != nil {
			return
		}
		s.transfer.Egress += int64(len(resp))
		_ = replyPingPong(s.conn, clientR)
		return
	}
	s.status = StatusDialFailed
}

// statusTimeout is the handshake timeout, else the idle timeout. A status
// exchange is never left without a deadline.
func (s *session) statusTimeout() time.Duration {
	return cmp.Or(s.opts.Timeouts.HandshakeTimeout, s.opts.Timeouts.IdleTimeout, defaultStatusTimeout)
}

func (s *session) cacheResult(result string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveStatusCache(result)
	}
}

// fetchStatus asks one upstream for its status response and returns the raw frame.
func fetchStatus(ctx context.Context, d Dialer, addr string, handshake, statusReq []byte) ([]byte, error) {
	dst, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer dst.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = dst.SetDeadline(deadline)
	}

	if _, err := dst.Write(handshake); err != nil {
		return nil, err
	}
	if _, err := dst.Write(statusReq); err != nil {
		return nil, err
	}
	resp, id, err := readFrame(dst, 512*1024)
	if err != nil {
		return nil, err
	}
	if id != statusResponseID {
		return nil, errors.New("proxy: unexpected status response packet id " + strconv.Itoa(int(id)))
	}
	return resp, nil
}

func (s *session) fail(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *session) finish(ctx context.Context) {
	dur := time.Since(s.start)
	s.span.SetAttributes(
		attribute.String("craftgate.status", s.status),
		attribute.Int64("craftgate.bytes_received", s.transfer.Ingress),
		attribute.Int64("craftgate.bytes_sent", s.transfer.Egress),
	)
	s.span.End()

	if s.vars == nil {
		s.vars = protocol.Vars{logging.VarSessionID: s.id, logging.VarRemoteAddr: s.client}
	}
	s.vars[logging.VarStatus] = s.status
	s.vars[logging.VarBytesReceived] = strconv.FormatInt(s.transfer.Ingress, 10)
	s.vars[logging.VarBytesSent] = strconv.FormatInt(s.transfer.Egress, 10)
	s.vars[logging.VarDurationMs] = strconv.FormatInt(dur.Milliseconds(), 10)
	s.opts.AccessLog.Log(ctx, s.vars)

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("proxy: session ended", "sid", s.id, "client", s.client, "status", s.status, "upstream", s.upstream, "duration_ms", dur.Milliseconds())
	}
}

// replyPingPong answers an optional status ping from src. A client that
// closes without pinging is not an error.
func replyPingPong(dst net.Conn, src io.Reader) error {
	frame, pid, err := readFrame(src, 64*1024)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if pid != statusPingID {
		return nil
	}
	v, err := pingPayload(frame)
	if err != nil {
		return err
	}
	_, err = dst.Write(appendPong(nil, v))
	return err
}

func normalizeUpstreamAddr(upstreamAddr string, port int) string {
	addr := strings.TrimSpace(upstreamAddr)
	if addr == "" || !upstreamNeedsPort(addr) {
		return addr
	}
	if port <= 0 {
		port = 25565
	}
	host := hostname.Normalize(strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]"))
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func upstreamNeedsPort(addr string) bool {
	// Bracketed IPv6.
	if strings.HasPrefix(addr, "[") {
		if strings.Contains(addr, "]:") {
			return false
		}
		return strings.HasSuffix(addr, "]")
	}

	switch strings.Count(addr, ":") {
	case 0:
		return true
	case 1:
	default:
		// Unbracketed IPv6 literal.
		return true
	}

	_, _, err := net.SplitHostPort(addr)
	if err == nil {
		return false
	}
	// Invalid ports like "host:abc" are left for the dial to reject.
	var ae *net.AddrError
	return errors.As(err, &ae) && ae.Err == "missing port in address"
}
