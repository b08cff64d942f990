package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"

	"craftgate/internal/proxy"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 5000

	streamBuffer       = 256
	streamWriteTimeout = 5 * time.Second
)

// LogSource is the admin buffer behind GET /logs.
type LogSource interface {
	Snapshot(limit int) []string
}

// logFollower is implemented by log sources that support GET /logs/stream.
type logFollower interface {
	Follow(buffer int) (<-chan string, func())
}

type droppedCounter interface {
	Dropped() uint64
}

type AdminServerOptions struct {
	Addr string

	Metrics  *MetricsCollector
	Sessions *proxy.SessionRegistry
	// Logs may be nil when the admin log buffer is disabled.
	Logs LogSource

	// Routes lists configured route hosts for GET /routes.
	Routes func() []string

	Reload func(ctx context.Context) error
	Health func() bool
}

// AdminServer serves health, metrics, session and log endpoints over HTTP.
type AdminServer struct {
	opts AdminServerOptions
	srv  *http.Server

	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

func NewAdminServer(opts AdminServerOptions) *AdminServer {
	as := newAdmin(opts)
	as.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           newAdminMux(as),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return as
}

func newAdmin(opts AdminServerOptions) *AdminServer {
	return &AdminServer{
		opts:     opts,
		upgrader: websocket.Upgrader{ReadBufferSize: 512, WriteBufferSize: 4096},
		closing:  make(chan struct{}),
	}
}

func newAdminMux(as *AdminServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", as.health)
	// promhttp negotiates its own compression.
	r.Method(http.MethodGet, "/metrics", as.opts.Metrics.Handler())
	// Hijacked, so it must stay outside the gzip group.
	r.Get("/logs/stream", as.streamLogs)
	r.Post("/reload", as.reload)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
		r.Get("/stats", as.stats)
		r.Get("/routes", as.routes)
		r.Get("/conns", as.conns)
		r.Get("/logs", as.logs)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (as *AdminServer) health(w http.ResponseWriter, _ *http.Request) {
	if as.opts.Health != nil && !as.opts.Health() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (as *AdminServer) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, as.opts.Metrics.Snapshot())
}

func (as *AdminServer) routes(w http.ResponseWriter, r *http.Request) {
	if as.opts.Routes == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, struct {
		Hosts []string `json:"hosts"`
	}{as.opts.Routes()})
}

// conns lists live sessions, or per-host counts with ?by=host.
func (as *AdminServer) conns(w http.ResponseWriter, r *http.Request) {
	switch by := r.URL.Query().Get("by"); by {
	case "":
		writeJSON(w, as.opts.Sessions.Snapshot())
	case "host":
		writeJSON(w, as.opts.Sessions.CountByHost())
	default:
		http.Error(w, "unknown grouping "+strconv.Quote(by), http.StatusBadRequest)
	}
}

func logLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case err != nil || n < 0:
		return def
	case n > maxLogLimit:
		return maxLogLimit
	}
	return n
}

func (as *AdminServer) logs(w http.ResponseWriter, r *http.Request) {
	if as.opts.Logs == nil {
		http.NotFound(w, r)
		return
	}
	limit := logLimit(r, defaultLogLimit)
	if limit == 0 {
		limit = defaultLogLimit
	}
	resp := struct {
		Lines   []string `json:"lines"`
		Dropped uint64   `json:"dropped,omitempty"`
	}{Lines: as.opts.Logs.Snapshot(limit)}
	if d, ok := as.opts.Logs.(droppedCounter); ok {
		resp.Dropped = d.Dropped()
	}
	writeJSON(w, resp)
}

// streamLogs upgrades to a WebSocket, sends the last ?limit lines (none by
// default) and then every new line as one text message.
func (as *AdminServer) streamLogs(w http.ResponseWriter, r *http.Request) {
	follower, ok := as.opts.Logs.(logFollower)
	if !ok {
		http.NotFound(w, r)
		return
	}
	backlog := logLimit(r, 0)

	conn, err := as.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Follow before the snapshot: a line may be sent twice, never skipped.
	lines, stop := follower.Follow(streamBuffer)
	defer stop()

	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(line)) == nil
	}
	if backlog > 0 {
		for _, line := range as.opts.Logs.Snapshot(backlog) {
			if !send(line) {
				return
			}
		}
	}

	for {
		select {
		case <-peerGone:
			return
		case <-as.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case line, ok := <-lines:
			if !ok || !send(line) {
				return
			}
		}
	}
}

func (as *AdminServer) reload(w http.ResponseWriter, r *http.Request) {
	if as.opts.Reload == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := as.opts.Reload(ctx); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Handler returns the admin HTTP handler.
func (as *AdminServer) Handler() http.Handler { return as.srv.Handler }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (as *AdminServer) Start() error {
	if err := as.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener, ends log streams and waits for in-flight
// requests.
func (as *AdminServer) Shutdown(ctx context.Context) error {
	as.closeOnce.Do(func() { close(as.closing) })
	return as.srv.Shutdown(ctx)
}
