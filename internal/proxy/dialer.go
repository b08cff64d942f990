package proxy

import (
	"context"
	"net"
	"time"
)

// Dialer opens upstream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc adapts a plain function to Dialer.
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

type NetDialerOptions struct {
	// Timeout bounds each dial attempt. Zero leaves it to the OS.
	Timeout time.Duration
	// KeepAlive is the TCP keep-alive period; negative disables it.
	KeepAlive time.Duration
}

// NewNetDialer returns a TCP dialer for upstream connections. opts may be nil.
func NewNetDialer(opts *NetDialerOptions) *net.Dialer {
	d := new(net.Dialer)
	if opts != nil {
		d.Timeout, d.KeepAlive = opts.Timeout, opts.KeepAlive
	}
	return d
}
