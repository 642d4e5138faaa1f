package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	v1 "slate/shared/contracts/scene/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "slate.scene.v1"

	// DefaultSessionID is the implicit session every connection starts in.
	DefaultSessionID = "default"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Transport headroom over maxFrameBytes so the protocol-level size check
	// runs before the websocket library kills the read.
	wsReadLimitSlack = 4096
)

// CallControl is the managed-call surface installed by the upstream bridge.
// While it is nil the gateway runs in legacy signaling mode.
type CallControl interface {
	StartCall(ctx context.Context, sessionID, entityID string, video bool) (callID string, err error)
	JoinCall(ctx context.Context, callID, peerID string) error
	LeaveCall(ctx context.Context, callID, peerID string) error
}

// WSGateway is the WebSocket entrypoint for Slate realtime.
//
// It enforces origin policy, subprotocol selection, per-message size checks,
// rate limits, input validation, and drives the per-connection protocol
// state machine against the session and peer registries.
type WSGateway struct {
	log   *slog.Logger
	reg   *SessionRegistry
	peers *PeerRegistry
	store SnapshotStore

	ccMu sync.RWMutex
	cc   CallControl

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateBurst  float64
	ratePerSec float64
}

// GatewayConfig carries the gateway's tunable knobs. Booleans are taken as
// given; zero-valued sizes, timeouts, rates and a nil origin allowlist keep
// the secure defaults.
type GatewayConfig struct {
	// DevInsecure skips TLS verification in websocket.Accept. Dev-only knob;
	// it is not an origin policy.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateBurst  float64
	RatePerSec float64
}

// DefaultGatewayConfig returns the secure defaults: Origin required, only
// localhost allowed.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateBurst:         rateLimitBurst,
		RatePerSec:        rateLimitPerSec,
	}
}

// GatewayOption configures WSGateway construction.
type GatewayOption func(*WSGateway)

// WithGatewayConfig overrides the gateway defaults.
func WithGatewayConfig(cfg GatewayConfig) GatewayOption {
	return func(g *WSGateway) { g.applyConfig(cfg) }
}

// NewWSGateway constructs a gateway with secure defaults.
// When registries/store are nil, it falls back to in-memory implementations.
func NewWSGateway(log *slog.Logger, reg *SessionRegistry, peers *PeerRegistry, store SnapshotStore, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if reg == nil {
		reg = NewSessionRegistry(log)
	}
	if peers == nil {
		peers = NewPeerRegistry(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	g := &WSGateway{log: log, reg: reg, peers: peers, store: store}
	g.applyConfig(DefaultGatewayConfig())
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *WSGateway) applyConfig(cfg GatewayConfig) {
	g.devInsecure = cfg.DevInsecure
	g.originRequired = cfg.OriginRequired
	if cfg.AllowedOrigins != nil {
		g.allowedOrigins = cfg.AllowedOrigins
	}
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	if cfg.WriteTimeout > 0 {
		g.writeTimeout = cfg.WriteTimeout
	}
	if cfg.ReadIdleTimeout > 0 {
		g.readIdleTimeout = cfg.ReadIdleTimeout
	}
	if cfg.SendQueueSize > 0 {
		g.sendQueueSize = cfg.SendQueueSize
	}
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}
	if cfg.HeartbeatInterval > 0 {
		g.heartbeatEvery = cfg.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout > 0 {
		g.heartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.RateBurst > 0 {
		g.rateBurst = cfg.RateBurst
	}
	if cfg.RatePerSec > 0 {
		g.ratePerSec = cfg.RatePerSec
	}
}

// SetCallControl installs the managed-call upstream, flipping the gateway
// into managed mode. Installed once by the bridge bring-up task.
func (g *WSGateway) SetCallControl(cc CallControl) {
	g.ccMu.Lock()
	g.cc = cc
	g.ccMu.Unlock()

	g.log.Info("ws.call_control.installed")
}

func (g *WSGateway) callControl() CallControl {
	g.ccMu.RLock()
	defer g.ccMu.RUnlock()
	return g.cc
}

// connState is the per-connection protocol state machine. It is owned by
// the read goroutine; the writer and heartbeat goroutines never touch it.
type connState struct {
	peerID  string
	client  *Client
	limiter *RateLimiter

	sessionID string
	sub       *Subscription
	subCancel context.CancelFunc
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	// The transport limit sits above the protocol limit so an oversized
	// frame still reaches processFrame and earns a typed rejection there;
	// only frames past the slack tear the connection down.
	conn.SetReadLimit(maxFrameBytes + wsReadLimitSlack)

	now := time.Now().UTC()
	peerID := NewPeerID(now)
	client := NewClient(peerID, g.sendQueueSize)

	metricConnectedClients.Inc()
	defer metricConnectedClients.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	st := &connState{
		peerID:  peerID,
		client:  client,
		limiter: NewRateLimiter(g.rateBurst, g.ratePerSec),
	}

	g.peers.Register(peerID, DefaultSessionID, client)
	g.attachSession(ctx, st, DefaultSessionID)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send and it never
	// touches connState: the session fields are owned by the read goroutine,
	// which detaches once its loop exits. Membership removal happens before
	// client.Close so broadcasters never hold a handle to a torn-down client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			sessionID, lr := g.peers.Unregister(peerID)
			if lr.Left {
				g.broadcastCallState(sessionID)
				g.leaveUpstream(sessionID, peerID, lr, nil, "")
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.Send:
				if err := writeMessage(ctx, conn, msg, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "peer_id", peerID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "peer_id", peerID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.sendWelcome(st)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			default:
				g.log.Info("ws.read.fail", "peer_id", peerID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		g.processFrame(ctx, st, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	st.detachSession()
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// processFrame runs the fixed inbound pipeline: size check, rate-limit
// admission, structural validation, dispatch. Any failure aborts before
// touching registries and is reported only to the sender.
func (g *WSGateway) processFrame(ctx context.Context, st *connState, data []byte) {
	now := time.Now().UTC()

	if len(data) > maxFrameBytes {
		g.sendError(st, v1.CodeMessageTooLarge, fmt.Sprintf("message larger than %d bytes", maxFrameBytes), "", 0)
		return
	}

	if !st.limiter.TryConsume(now) {
		metricRateLimited.Inc()
		retry := st.limiter.TimeUntilAvailable(now)
		g.sendError(st, v1.CodeRateLimited, "too many messages", "", retry.Milliseconds())
		return
	}

	msg, err := v1.DecodeClient(data)
	if err != nil {
		g.sendError(st, v1.CodeBadJSON, err.Error(), "", 0)
		return
	}

	if err := validateMessage(msg); err != nil {
		g.sendError(st, v1.CodeValidation, err.Error(), messageID(msg), 0)
		return
	}

	g.dispatch(ctx, st, msg)
}

// dispatch is exhaustive over the closed client-message union.
func (g *WSGateway) dispatch(ctx context.Context, st *connState, msg v1.ClientMessage) {
	switch m := msg.(type) {
	case *v1.Subscribe:
		g.handleSubscribe(ctx, st, m)
	case *v1.AddElement:
		g.handleAddElement(st, m)
	case *v1.UpdateElement:
		g.handleUpdateElement(st, m)
	case *v1.RemoveElement:
		g.handleRemoveElement(st, m)
	case *v1.Ping:
		st.client.TrySend(v1.Pong{Type: v1.TypePong, Timestamp: time.Now().UTC()})
	case *v1.SyncQueue:
		g.handleSyncQueue(st, m)
	case *v1.GetScene:
		st.client.TrySend(v1.SceneUpdate{Type: v1.TypeSceneUpdate, Document: g.reg.Document(st.sessionID)})
	case *v1.StartCall:
		g.handleStartCall(st, m)
	case *v1.Offer:
		g.handleOffer(st, m)
	case *v1.Answer:
		g.handleAnswer(st, m)
	case *v1.IceCandidate:
		g.handleIceCandidate(st, m)
	case *v1.EndCall:
		g.handleEndCall(st, m)
	case *v1.StartManagedCall:
		g.handleStartManagedCall(st, m)
	case *v1.JoinManagedCall:
		g.handleJoinManagedCall(st, m)
	case *v1.LeaveManagedCall:
		g.handleLeaveManagedCall(st, m)
	default:
		g.sendError(st, v1.CodeValidation, "unsupported message", "", 0)
	}
}

// ---- scene handlers ----

func (g *WSGateway) handleSubscribe(ctx context.Context, st *connState, m *v1.Subscribe) {
	prev, lr, err := g.peers.UpdateSession(st.peerID, m.SessionID)
	if err != nil {
		g.sendError(st, v1.CodeInternal, "connection not registered", "", 0)
		return
	}

	// Leaving the prior session's call always happens before the new
	// subscription takes effect.
	if lr.Left {
		g.broadcastCallState(prev)
		g.leaveUpstream(prev, st.peerID, lr, st.client, "")
	}

	g.attachSession(ctx, st, m.SessionID)

	st.client.TrySend(v1.SceneUpdate{Type: v1.TypeSceneUpdate, Document: g.reg.Document(m.SessionID)})
	st.client.TrySend(g.callState(m.SessionID))

	g.log.Info("ws.subscribe", "peer_id", st.peerID, "session_id", m.SessionID, "prev", prev)
}

func (g *WSGateway) handleAddElement(st *connState, m *v1.AddElement) {
	id, err := g.reg.AddElement(st.sessionID, m.Element)
	if err != nil {
		g.sendError(st, v1.CodeValidation, err.Error(), m.MessageID, 0)
		return
	}
	if m.MessageID != "" {
		st.client.TrySend(v1.Ack{
			Type:      v1.TypeAck,
			MessageID: m.MessageID,
			Success:   true,
			Result:    &v1.AckResult{ID: id},
		})
	}
}

func (g *WSGateway) handleUpdateElement(st *connState, m *v1.UpdateElement) {
	if _, err := g.reg.UpdateElement(st.sessionID, m.ID, m.Changes); err != nil {
		g.sendError(st, registryErrCode(err), err.Error(), m.MessageID, 0)
		return
	}
	if m.MessageID != "" {
		st.client.TrySend(v1.Ack{Type: v1.TypeAck, MessageID: m.MessageID, Success: true})
	}
}

func (g *WSGateway) handleRemoveElement(st *connState, m *v1.RemoveElement) {
	if err := g.reg.RemoveElement(st.sessionID, m.ID); err != nil {
		g.sendError(st, registryErrCode(err), err.Error(), m.MessageID, 0)
		return
	}
	if m.MessageID != "" {
		st.client.TrySend(v1.Ack{Type: v1.TypeAck, MessageID: m.MessageID, Success: true})
	}
}

func (g *WSGateway) handleSyncQueue(st *connState, m *v1.SyncQueue) {
	report := g.reg.ProcessQueue(st.sessionID, m.Operations)
	st.client.TrySend(v1.SyncResult{
		Type:             v1.TypeSyncResult,
		SyncedCount:      report.Processed,
		ConflictCount:    report.Failed,
		Timestamp:        time.Now().UTC(),
		FailedOperations: report.Failures,
	})
}

// ---- session attachment ----

// attachSession swaps the connection's broadcast subscription to sessionID,
// seeding the registry from the snapshot store on first reference.
func (g *WSGateway) attachSession(ctx context.Context, st *connState, sessionID string) {
	if g.store != nil && !g.reg.Has(sessionID) {
		loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		doc, ok, err := g.store.Load(loadCtx, sessionID)
		cancel()
		if err != nil {
			g.log.Info("ws.snapshot.load.fail", "session_id", sessionID, "err", err)
		} else if ok {
			g.reg.Replace(sessionID, doc)
		}
	}

	st.detachSession()

	g.reg.GetOrCreate(sessionID)
	sub := g.reg.Subscribe(sessionID, broadcastBufSize)

	pumpCtx, cancel := context.WithCancel(ctx)
	st.sessionID = sessionID
	st.sub = sub
	st.subCancel = cancel

	go g.pumpBroadcast(pumpCtx, st.peerID, st.client, sub)
}

func (st *connState) detachSession() {
	if st.subCancel != nil {
		st.subCancel()
		st.subCancel = nil
	}
	if st.sub != nil {
		st.sub.Close()
		st.sub = nil
	}
}

// pumpBroadcast forwards session broadcasts into the client's send queue.
// A lagged subscription is logged and continues; it never terminates the
// connection.
func (g *WSGateway) pumpBroadcast(ctx context.Context, peerID string, client *Client, sub *Subscription) {
	for {
		msg, missed, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if missed > 0 {
			g.log.Info("ws.broadcast.lagged", "peer_id", peerID, "missed", missed)
		}
		client.TrySend(msg)
	}
}

// ---- send helpers ----

func (g *WSGateway) sendWelcome(st *connState) {
	st.client.TrySend(v1.Welcome{
		Type:            v1.TypeWelcome,
		Version:         v1.Version,
		SessionID:       st.sessionID,
		Timestamp:       time.Now().UTC(),
		LegacySignaling: g.callControl() == nil,
	})
	st.client.TrySend(v1.PeerAssigned{Type: v1.TypePeerAssigned, PeerID: st.peerID})
	st.client.TrySend(v1.SceneUpdate{Type: v1.TypeSceneUpdate, Document: g.reg.Document(st.sessionID)})
	st.client.TrySend(g.callState(st.sessionID))
}

func (g *WSGateway) sendError(st *connState, code, msg, messageID string, retryAfterMS int64) {
	st.client.TrySend(v1.Error{
		Type:         v1.TypeError,
		Code:         code,
		Message:      msg,
		MessageID:    messageID,
		RetryAfterMS: retryAfterMS,
	})
}

func registryErrCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return v1.CodeSessionNotFound
	case errors.Is(err, ErrElementNotFound):
		return v1.CodeElementNotFound
	default:
		return v1.CodeValidation
	}
}

// messageID extracts the optional correlation id from messages that carry one.
func messageID(msg v1.ClientMessage) string {
	switch m := msg.(type) {
	case *v1.AddElement:
		return m.MessageID
	case *v1.UpdateElement:
		return m.MessageID
	case *v1.RemoveElement:
		return m.MessageID
	case *v1.StartManagedCall:
		return m.MessageID
	case *v1.JoinManagedCall:
		return m.MessageID
	case *v1.LeaveManagedCall:
		return m.MessageID
	default:
		return ""
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeMessage(parent context.Context, conn *websocket.Conn, msg v1.ServerMessage, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

