// Package app wires the parley server runtime: config, logging, storage,
// HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/api"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/friends"
	"parley/cmd/internal/metrics"
	"parley/cmd/internal/realtime"
)

// App is the parley server runtime: it owns the stores, services, and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	stores  *Stores
	metrics *metrics.Metrics

	chat    *chat.Service
	friends *friends.Service
	auth    *identity.TokenAuthenticator

	ws  *realtime.WSGateway
	api *api.Handler
}

// New opens the configured stores and constructs a fully wired App.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newApp(ctx, cfg, log, stores)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return a, nil
}

func newApp(ctx context.Context, cfg Config, log Logger, stores *Stores) (*App, error) {
	if err := stores.Seed(ctx, cfg, log); err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	friendSvc, err := friends.NewService(stores.Friends, stores.Directory,
		friends.WithLogger(log),
		friends.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	chatOpts := []chat.Option{chat.WithLogger(log), chat.WithMetrics(m)}
	if cfg.RequireFriendship {
		chatOpts = append(chatOpts, chat.WithSendPolicy(friendSvc))
	}
	chatSvc, err := chat.NewService(stores.Messages, chatOpts...)
	if err != nil {
		return nil, err
	}

	key, err := signingKey(cfg, log)
	if err != nil {
		return nil, err
	}
	auth, err := identity.NewTokenAuthenticator(stores.Directory, key,
		identity.WithIssuer(cfg.JWTIssuer),
		identity.WithTokenTTL(cfg.TokenTTL),
	)
	if err != nil {
		return nil, err
	}

	ws, err := realtime.NewWSGateway(log, realtime.NewHub(log, m), chatSvc, auth, cfg.GatewayConfig(),
		realtime.WithPresence(stores.Directory),
		realtime.WithGatewayMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	apiHandler, err := api.NewHandler(log, auth, stores.Directory, chatSvc, friendSvc, api.Config{
		MaxBodyBytes: int64(cfg.MaxBodyBytes),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		stores:  stores,
		metrics: m,
		chat:    chatSvc,
		friends: friendSvc,
		auth:    auth,
		ws:      ws,
		api:     apiHandler,
	}, nil
}

// signingKey returns the configured JWT secret, or a per-process random key.
func signingKey(cfg Config, log Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("jwt: generate key: %w", err)
	}
	log.Warn("jwt.secret.ephemeral", "hint", "set PARLEY_JWT_SECRET; tokens will not survive a restart")
	return key, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	return WithSecurityHeaders(newRouter(a))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"store", a.stores.Driver,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"require_friendship", a.cfg.RequireFriendship,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.stores.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.stores.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(base, "//")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}
