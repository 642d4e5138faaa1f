// Package app wires the Slate server runtime: config, logging, HTTP routes,
// the realtime gateway, and the upstream bridge.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"slate/cmd/internal/bridge"
	"slate/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Slate server runtime: it owns HTTP server wiring, the session
// and peer registries, and the optional upstream bridge.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	snapshots realtime.SnapshotStore

	reg   *realtime.SessionRegistry
	peers *realtime.PeerRegistry
	ws    *realtime.WSGateway

	upstream bridge.Upstream
	bridge   *bridge.Bridge
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, dbEnabled, snapshots, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	reg := realtime.NewSessionRegistry(log)
	peers := realtime.NewPeerRegistry(log)
	ws := realtime.NewWSGateway(log, reg, peers, snapshots, realtime.WithGatewayConfig(realtime.GatewayConfig{
		DevInsecure:       cfg.WSDevInsecure,
		OriginRequired:    cfg.WSOriginRequired,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadIdleTimeout:   cfg.WSReadIdleTimeout,
		SendQueueSize:     cfg.WSSendQueueSize,
		HeartbeatInterval: cfg.WSHeartbeatInterval,
		HeartbeatTimeout:  cfg.WSHeartbeatTimeout,
		RateBurst:         cfg.WSRateBurst,
		RatePerSec:        cfg.WSRatePerSec,
	}))

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		snapshots: snapshots,
		reg:       reg,
		peers:     peers,
		ws:        ws,
	}

	if cfg.UpstreamURL != "" {
		up, err := bridge.NewHTTPUpstream(cfg.UpstreamURL)
		if err != nil {
			_ = st.Close(context.Background())
			return nil, err
		}
		a.upstream = up
		a.bridge = bridge.New(log, up, reg, bridge.Config{
			Policy: bridge.RetryPolicy{
				Initial:     cfg.BridgeRetryInitial,
				Max:         cfg.BridgeRetryMax,
				Multiplier:  cfg.BridgeRetryMultiplier,
				MaxAttempts: cfg.BridgeRetryMaxAttempts,
			},
			PullInterval: cfg.BridgePullInterval,
		})
	}

	return a, nil
}

// Run starts the HTTP server and background tasks, blocking until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go realtime.RunPersister(runCtx, a.log, a.reg, a.snapshots)

	if a.bridge != nil {
		go func() {
			err := bridge.RunBringUp(runCtx, a.log, a.upstream, bridge.BringUpPolicy(), func() {
				a.ws.SetCallControl(a.bridge)
				go a.bridge.RunPush(runCtx)
				go a.bridge.RunPull(runCtx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("bridge.disabled", "err", err)
			}
		}()
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.bridge)

	handler := WithCORS(mux, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http_base", base,
		"ws_base", wsBaseURL(base),
		"db_enabled", a.dbEnabled,
		"bridge_enabled", a.bridge != nil,
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
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// runtimeBaseURL turns a bind address into a URL a local client can reach.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port
}

// wsBaseURL maps an HTTP base URL to its WebSocket scheme.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
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

// newStore decides between Postgres-backed snapshot persistence and the
// in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, realtime.SnapshotStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, realtime.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.SnapshotSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	snapshots, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.SnapshotSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, snapshots: snapshots}, pool, true, snapshots, nil
}

type dbStore struct {
	pool      *pgxpool.Pool
	snapshots realtime.SnapshotStore
}

func (s dbStore) Close(_ context.Context) error {
	if s.snapshots != nil {
		_ = s.snapshots.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
