package proxy

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"craftgate/internal/config"
)

type ForwardMetrics interface {
	IncActive()
	DecActive()
	IncRateLimited()
}

type ForwardHandlerOptions struct {
	// Network defaults to "tcp".
	Network  string
	Upstream string
	Dialer   Dialer
	Bridge   *ProxyBridge
	Logger   *slog.Logger
	Timeouts config.Timeouts

	RateLimiter *RateLimiter
	Metrics     ForwardMetrics
}

// ForwardHandler serves listeners with a fixed upstream. It never prereads:
// the client's first byte is the upstream's first byte.
type ForwardHandler struct {
	v atomic.Pointer[ForwardHandlerOptions]
}

func NewForwardHandler(opts ForwardHandlerOptions) *ForwardHandler {
	h := new(ForwardHandler)
	h.Update(opts)
	return h
}

// Update swaps the options used by connections accepted from now on.
func (h *ForwardHandler) Update(opts ForwardHandlerOptions) {
	h.v.Store(&opts)
}

func (h *ForwardHandler) Handle(ctx context.Context, conn net.Conn) {
	if conn == nil {
		return
	}
	defer conn.Close()

	opts := h.v.Load()
	if opts == nil || opts.Dialer == nil || opts.Bridge == nil || opts.Upstream == "" {
		return
	}
	if !opts.RateLimiter.admit(conn, opts.Metrics) {
		return
	}
	if opts.Metrics != nil {
		opts.Metrics.IncActive()
		defer opts.Metrics.DecActive()
	}
	log := cmp.Or(opts.Logger, slog.Default()).With("client", conn.RemoteAddr().String(), "upstream", opts.Upstream)

	up, err := opts.Dialer.DialContext(ctx, cmp.Or(opts.Network, "tcp"), opts.Upstream)
	if err != nil {
		log.Warn("proxy: forward dial failed", "err", err)
		return
	}

	bridge := opts.Bridge.WithIdleTimeout(opts.Timeouts.IdleTimeout)
	t, err := bridge.Proxy(ctx, conn, up, conn)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Debug("proxy: forward ended", "ingress", t.Ingress, "egress", t.Egress)
	case errors.Is(err, ErrIdleTimeout):
		log.Debug("proxy: forward idle", "ingress", t.Ingress, "egress", t.Egress)
	default:
		log.Warn("proxy: forward ended with error", "ingress", t.Ingress, "egress", t.Egress, "err", err)
	}
}
