package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrIdleTimeout ends a bridge that moved no bytes in either direction for
// the configured idle timeout.
var ErrIdleTimeout = errors.New("proxy: idle timeout")

type BridgeMetrics interface {
	AddIngress(n int64)
	AddEgress(n int64)
}

type ProxyBridgeOptions struct {
	BufferPool         BufferPool
	InjectProxyProtoV2 bool
	Metrics            BridgeMetrics
	// IdleTimeout closes both sides after this long without traffic in
	// either direction. Zero disables it.
	IdleTimeout time.Duration
}

// Transfer is the byte count moved in each direction by one Proxy call.
// Ingress includes replayed preread bytes.
type Transfer struct {
	Ingress int64
	Egress  int64
}

// ProxyBridge splices a client connection to an upstream connection.
type ProxyBridge struct {
	opts ProxyBridgeOptions
}

func NewProxyBridge(opts ProxyBridgeOptions) *ProxyBridge {
	return &ProxyBridge{opts: opts}
}

// WithIdleTimeout returns a copy of b using d as its idle timeout. It lets
// handlers apply a reloaded timeout without rebuilding the bridge.
func (b *ProxyBridge) WithIdleTimeout(d time.Duration) *ProxyBridge {
	if b.opts.IdleTimeout == d {
		return b
	}
	c := *b
	c.opts.IdleTimeout = d
	return &c
}

type closeWriter interface {
	CloseWrite() error
}

// Proxy sends initial to upstream (callers pass the preread bytes followed
// by the client) and upstream to client. When one direction reaches EOF the
// destination is half-closed so the other direction can drain. Both
// connections are closed on return.
func (b *ProxyBridge) Proxy(ctx context.Context, client, upstream net.Conn, initial io.Reader) (Transfer, error) {
	var t Transfer
	closeBoth := func() {
		_ = client.Close()
		_ = upstream.Close()
	}
	defer closeBoth()

	if b.opts.InjectProxyProtoV2 {
		if err := b.writeProxyHeader(client, upstream); err != nil {
			return t, err
		}
	}

	var lastActive atomic.Int64
	lastActive.Store(time.Now().UnixNano())
	var idled atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, closeBoth)
	defer stop()

	if idle := b.opts.IdleTimeout; idle > 0 {
		done := make(chan struct{})
		defer close(done)
		go b.watchIdle(idle, &lastActive, done, func() {
			idled.Store(true)
			closeBoth()
		})
	}

	g.Go(func() error {
		n, err := b.pump(upstream, initial, &lastActive)
		t.Ingress = n
		if b.opts.Metrics != nil && n > 0 {
			b.opts.Metrics.AddIngress(n)
		}
		return finishDirection(upstream, err)
	})
	g.Go(func() error {
		n, err := b.pump(client, upstream, &lastActive)
		t.Egress = n
		if b.opts.Metrics != nil && n > 0 {
			b.opts.Metrics.AddEgress(n)
		}
		return finishDirection(client, err)
	})

	err := g.Wait()
	switch {
	case idled.Load():
		return t, ErrIdleTimeout
	case ctx.Err() != nil:
		return t, ctx.Err()
	}
	return t, err
}

func (b *ProxyBridge) writeProxyHeader(client, upstream net.Conn) error {
	src, _ := client.RemoteAddr().(*net.TCPAddr)
	dst, _ := upstream.RemoteAddr().(*net.TCPAddr)
	if src == nil || dst == nil {
		return nil
	}
	hdr, err := BuildProxyV2Header(src, dst)
	if err != nil {
		return nil
	}
	_, err = upstream.Write(hdr)
	return err
}

func (b *ProxyBridge) pump(dst io.Writer, src io.Reader, lastActive *atomic.Int64) (int64, error) {
	buf := b.getBuffer()
	defer b.putBuffer(buf)
	return io.CopyBuffer(dst, &activityReader{r: src, last: lastActive}, buf)
}

// finishDirection half-closes dst after a clean EOF. A closed-connection
// error means the other direction or the context already tore down.
func finishDirection(dst net.Conn, err error) error {
	if err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		return err
	}
	if cw, ok := dst.(closeWriter); ok {
		_ = cw.CloseWrite()
		return nil
	}
	return dst.Close()
}

func (b *ProxyBridge) watchIdle(idle time.Duration, lastActive *atomic.Int64, done <-chan struct{}, expire func()) {
	tick := time.NewTicker(max(idle/4, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-tick.C:
			if now.Sub(time.Unix(0, lastActive.Load())) >= idle {
				expire()
				return
			}
		}
	}
}

func (b *ProxyBridge) getBuffer() []byte {
	if b.opts.BufferPool != nil {
		return b.opts.BufferPool.Get()
	}
	return make([]byte, defaultBufferSize)
}

func (b *ProxyBridge) putBuffer(buf []byte) {
	if b.opts.BufferPool != nil {
		b.opts.BufferPool.Put(buf)
	}
}

// activityReader records the time of every successful read.
type activityReader struct {
	r    io.Reader
	last *atomic.Int64
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.last.Store(time.Now().UnixNano())
	}
	return n, err
}
