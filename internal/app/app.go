package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"craftgate/internal/config"
	"craftgate/internal/logging"
	"craftgate/internal/proxy"
	"craftgate/internal/router"
	"craftgate/internal/server"
	"craftgate/internal/telemetry"
)

// listener is one configured TCP listener. Exactly one handler is set.
type listener struct {
	cfg     config.ListenerConfig
	routing *proxy.SessionHandler
	forward *proxy.ForwardHandler
	tcp     *server.TCPServer
}

// Run loads the config at configPath (creating a template when missing),
// starts every listener and the admin server, and blocks until ctx ends or
// a server fails.
func Run(ctx context.Context, configPath string) error {
	resolved, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	path := resolved.Path

	created, err := config.EnsureConfigFile(path)
	if err != nil {
		return fmt.Errorf("ensure config file: %w", err)
	}

	provider := config.NewFileConfigProvider(path)
	cfg, err := provider.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logrt, err := logging.NewRuntime(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logrt.Close() }()
	slog.SetDefault(logrt.Logger())
	logger := slog.Default()
	if created {
		logger.Warn("config: created new config file", "path", path, "source", resolved.Source)
	}

	if len(cfg.Listeners) == 0 {
		return errors.New("config: nothing to run (no listeners)")
	}
	logger.Info("craftgate: starting",
		"config", path,
		"listeners", len(cfg.Listeners),
		"routes", len(cfg.Routes),
		"default_route", cfg.DefaultRoute != nil,
		"admin_addr", cfg.AdminAddr,
	)

	rt := &runtime{
		logger:   logger,
		logrt:    logrt,
		metrics:  telemetry.NewMetricsCollector(),
		sessions: proxy.NewSessionRegistry(),
		cache:    proxy.NewStatusCache(),
		router:   router.NewRouter(nil, nil),
	}
	for _, lc := range cfg.Listeners {
		l := &listener{cfg: lc}
		var h server.ConnectionHandler
		if strings.TrimSpace(lc.Upstream) == "" {
			l.routing = proxy.NewSessionHandler(proxy.SessionHandlerOptions{})
			h = l.routing
		} else {
			l.forward = proxy.NewForwardHandler(proxy.ForwardHandlerOptions{})
			h = l.forward
		}
		l.tcp = server.NewTCPServer(server.TCPServerOptions{
			Addr:     lc.ListenAddr,
			Handler:  h,
			Logger:   logger,
			MaxConns: lc.MaxConnections,
		})
		rt.listeners = append(rt.listeners, l)
	}

	g, gctx := errgroup.WithContext(ctx)
	rt.ctx = gctx
	if err := rt.apply(nil, cfg); err != nil {
		return err
	}
	defer rt.closeParser()

	cm := config.NewManager(provider, config.ManagerOptions{PollInterval: cfg.Reload.PollInterval, Logger: logger})
	cm.SetCurrent(cfg)
	cm.Subscribe(func(oldCfg, newCfg *config.Config) {
		if err := rt.apply(oldCfg, newCfg); err != nil {
			logger.Error("config: apply failed", "err", err)
		}
	})
	if cfg.Reload.Enabled {
		cm.Start(gctx)
	}

	var admin *telemetry.AdminServer
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		var logs telemetry.LogSource
		if store := logrt.Store(); store != nil {
			logs = store
		}
		admin = telemetry.NewAdminServer(telemetry.AdminServerOptions{
			Addr:     cfg.AdminAddr,
			Metrics:  rt.metrics,
			Sessions: rt.sessions,
			Logs:     logs,
			Routes:   rt.router.Hosts,
			Reload:   cm.ReloadNow,
			Health:   rt.healthy,
		})
		g.Go(admin.Start)
	}

	for _, l := range rt.listeners {
		g.Go(func() error {
			logger.Info("craftgate: listening", "addr", l.cfg.ListenAddr, "forward", l.cfg.Upstream)
			if err := l.tcp.ListenAndServe(gctx); err != nil {
				return fmt.Errorf("listener %s: %w", l.cfg.ListenAddr, err)
			}
			return nil
		})
	}

	// Shutdown runs inside the group so a failing server also stops the rest.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				logger.Warn("admin shutdown", "err", err)
			}
		}
		for _, l := range rt.listeners {
			if err := l.tcp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("listener shutdown", "addr", l.cfg.ListenAddr, "active", l.tcp.Active(), "err", err)
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("craftgate exited")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runtime holds the long-lived pieces that config reloads rewire.
type runtime struct {
	ctx       context.Context
	logger    *slog.Logger
	logrt     *logging.Runtime
	metrics   *telemetry.MetricsCollector
	sessions  *proxy.SessionRegistry
	cache     *proxy.StatusCache
	router    *router.Router
	listeners []*listener

	mu          sync.Mutex
	parserClose parserCloser
}

func (rt *runtime) healthy() bool {
	for _, l := range rt.listeners {
		if l.tcp.IsListening() {
			return true
		}
	}
	return false
}

// apply rebuilds the parser chain, routes and handler options from newCfg.
// Listener addresses and logging outputs only change on restart.
func (rt *runtime) apply(oldCfg, newCfg *config.Config) error {
	logger := rt.logger
	if oldCfg != nil {
		if !slices.Equal(oldCfg.Listeners, newCfg.Listeners) {
			logger.Warn("config: listeners changed (restart required)")
		}
		if oldCfg.AdminAddr != newCfg.AdminAddr {
			logger.Warn("config: admin_addr changed (restart required)")
		}
	}
	if err := rt.logrt.Apply(newCfg.Logging); err != nil {
		if errors.Is(err, logging.ErrRestartRequired) {
			logger.Warn("config: logging format/output/buffer changed (restart required)")
		} else {
			logger.Warn("config: apply logging failed", "err", err)
		}
	}

	parser, closeFn, err := BuildHostParser(rt.ctx, newCfg.RoutingParsers, newCfg.MaxHeaderBytes)
	if err != nil {
		return err
	}

	routes, def := routerRoutes(newCfg)
	rt.router.Update(routes, def)
	if oldCfg != nil {
		rt.cache.Purge()
	}

	dialer := proxy.NewNetDialer(&proxy.NetDialerOptions{Timeout: newCfg.UpstreamDialTimeout})
	bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{
		BufferPool:         proxy.NewSyncPoolBufferPool(newCfg.BufferSize),
		InjectProxyProtoV2: newCfg.ProxyProtocolV2,
		Metrics:            rt.metrics,
		IdleTimeout:        newCfg.Timeouts.IdleTimeout,
	})
	limiter := proxy.NewRateLimiter(newCfg.RateLimit.PerSecond, newCfg.RateLimit.Burst)

	for _, l := range rt.listeners {
		if l.routing != nil {
			l.routing.Update(proxy.SessionHandlerOptions{
				Parser:              parser,
				Resolver:            rt.router,
				Dialer:              dialer,
				Bridge:              bridge,
				Logger:              logger,
				Metrics:             rt.metrics,
				AccessLog:           rt.logrt.Access(),
				RateLimiter:         limiter,
				Sessions:            rt.sessions,
				Timeouts:            newCfg.Timeouts,
				MaxHeaderBytes:      newCfg.MaxHeaderBytes,
				StatusCache:         rt.cache,
				DefaultUpstreamPort: portOf(l.cfg.ListenAddr),
				UpstreamTimeout:     newCfg.UpstreamDialTimeout,
			})
		}
		if l.forward != nil {
			l.forward.Update(proxy.ForwardHandlerOptions{
				Network:     "tcp",
				Upstream:    strings.TrimSpace(l.cfg.Upstream),
				Dialer:      dialer,
				Bridge:      bridge,
				Logger:      logger,
				Timeouts:    newCfg.Timeouts,
				RateLimiter: limiter,
				Metrics:     rt.metrics,
			})
		}
	}

	// Retire old WASM parsers after the handshake window so in-flight
	// prereads finish on the instance they started with.
	rt.mu.Lock()
	oldClose := rt.parserClose
	rt.parserClose = closeFn
	rt.mu.Unlock()
	if oldClose != nil {
		delay := newCfg.Timeouts.HandshakeTimeout
		if delay <= 0 {
			delay = 3 * time.Second
		}
		time.AfterFunc(2*delay, func() { _ = oldClose(context.Background()) })
	}

	if oldCfg != nil {
		logger.Info("config: applied", "routes", len(newCfg.Routes), "parsers", len(parser.Parsers()))
	}
	return nil
}

func (rt *runtime) closeParser() {
	rt.mu.Lock()
	c := rt.parserClose
	rt.parserClose = nil
	rt.mu.Unlock()
	if c != nil {
		_ = c(context.Background())
	}
}

func routerRoutes(cfg *config.Config) (map[string]router.Route, *router.Route) {
	routes := make(map[string]router.Route, len(cfg.Routes))
	for host, rc := range cfg.Routes {
		routes[host] = routeOf(rc)
	}
	if cfg.DefaultRoute == nil {
		return routes, nil
	}
	def := routeOf(*cfg.DefaultRoute)
	return routes, &def
}

func routeOf(rc config.RouteConfig) router.Route {
	return router.Route{
		Upstreams:    rc.Upstreams,
		Return:       rc.Return,
		CachePingTTL: rc.CachePingTTL,
		Disabled:     rc.Disabled,
	}
}

// portOf returns the port of a listen address, or 25565.
func portOf(listenAddr string) int {
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(listenAddr))
	if err != nil {
		return 25565
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return 25565
	}
	return p
}
