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
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/samber/lo"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/metrics"
	v1 "parley/shared/contracts/realtime/v1"
)

// MessageSender persists an inbound chat message. chat.Service satisfies it.
type MessageSender interface {
	Send(ctx context.Context, m chat.Message) (chat.Message, error)
}

// Authenticator resolves a raw bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (identity.Principal, error)
}

// PresenceRecorder records online/offline transitions for authenticated sessions.
type PresenceRecorder interface {
	SetPresence(ctx context.Context, id int64, online bool, at time.Time) error
}

// WSGateway is the WebSocket entrypoint for parley realtime.
//
// It enforces origin policy, authentication, subprotocol selection and
// heartbeats. Every session is subscribed to the shared messages topic;
// chat_send envelopes are persisted through the MessageSender and then
// published to that topic.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	sender   MessageSender
	auth     Authenticator
	presence PresenceRecorder
	metrics  *metrics.Metrics
	now      func() time.Time

	cfg GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// GatewayOption configures optional gateway collaborators.
type GatewayOption func(*WSGateway)

// WithPresence enables presence updates on connect and disconnect.
func WithPresence(p PresenceRecorder) GatewayOption {
	return func(g *WSGateway) { g.presence = p }
}

func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// WithGatewayClock overrides the clock used for envelope timestamps and presence.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway. auth may be nil only when cfg.RequireAuth is false.
func NewWSGateway(log *slog.Logger, hub *Hub, sender MessageSender, auth Authenticator, cfg GatewayConfig, opts ...GatewayOption) (*WSGateway, error) {
	if sender == nil {
		return nil, errors.New("realtime: nil message sender")
	}
	if cfg.RequireAuth && auth == nil {
		return nil, errors.New("realtime: auth required but no authenticator configured")
	}
	if log == nil {
		log = slog.Default()
	}

	g := &WSGateway{
		log:    log,
		hub:    hub,
		sender: sender,
		auth:   auth,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.hub == nil {
		g.hub = NewHub(log, g.metrics)
	}

	// IMPORTANT:
	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.cfg.AllowedOrigins)

	return g, nil
}

// Hub returns the hub the gateway publishes to.
func (g *WSGateway) Hub() *Hub {
	return g.hub
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

	// Authenticate before the upgrade so failures are plain HTTP responses.
	principal, status, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "status", status, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	sessionID := NewSessionID()
	client := NewClient(principal.UserID, sessionID, g.cfg.SendQueueSize)
	topic := g.hub.Messages()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	topic.Subscribe(client)
	g.metrics.SessionOpened()
	g.setPresence(ctx, principal.UserID, true)
	g.log.Info("ws.session.open", "session_id", sessionID, "user_id", principal.UserID)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and unsubscribe happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			topic.Unsubscribe(sessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			g.metrics.SessionClosed()
			g.setPresence(context.WithoutCancel(r.Context()), principal.UserID, false)
			g.log.Info("ws.session.close", "session_id", sessionID, "user_id", principal.UserID, "reason", reason)
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
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
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
			case readErrBadJSON:
				g.trySendError(ctx, client, v1.CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, v1.CodeBadEnvelope, err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client); err != nil {
				g.trySendError(ctx, client, v1.CodeBadRequest, err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeChatSend:
			g.onChatSend(ctx, client, env)

		default:
			g.trySendError(ctx, client, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// authenticate returns the caller principal. Anonymous sessions get a zero
// Principal when auth is optional; a token that is present but invalid is
// always rejected.
func (g *WSGateway) authenticate(r *http.Request) (identity.Principal, int, error) {
	raw := identity.TokenFromRequest(r)
	if raw == "" {
		if g.cfg.RequireAuth {
			return identity.Principal{}, http.StatusUnauthorized, errors.New("missing token")
		}
		return identity.Principal{}, 0, nil
	}
	if g.auth == nil {
		return identity.Principal{}, 0, nil
	}

	p, err := g.auth.Authenticate(r.Context(), raw)
	if err != nil {
		if identity.IsNotAuthenticated(err) {
			return identity.Principal{}, http.StatusUnauthorized, err
		}
		return identity.Principal{}, http.StatusServiceUnavailable, err
	}
	return p, 0, nil
}

func (g *WSGateway) setPresence(ctx context.Context, userID int64, online bool) {
	if g.presence == nil || userID == 0 {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, g.cfg.PersistTimeout)
	defer cancel()
	if err := g.presence.SetPresence(pctx, userID, online, g.now()); err != nil {
		g.log.Warn("ws.presence.fail", "user_id", userID, "online", online, "err", err)
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client) error {
	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID, UserID: client.UserID})
	ack := newEnvelope(v1.TypeHelloAck, ackPayload, g.now())

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

// onChatSend runs Received -> Persisted -> Broadcast, or
// Received -> PersistFailed -> FallbackEcho. Validation failures go back to
// the sending session only.
func (g *WSGateway) onChatSend(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.ChatSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.trySendError(ctx, client, v1.CodeBadRequest, "invalid payload")
		return
	}

	if client.UserID != 0 {
		switch p.SenderID {
		case 0:
			p.SenderID = client.UserID
		case client.UserID:
		default:
			g.trySendError(ctx, client, v1.CodeSenderMismatch, "sender_id does not match the authenticated user")
			return
		}
	}
	if p.SenderID <= 0 || p.ReceiverID <= 0 {
		g.trySendError(ctx, client, v1.CodeBadRequest, "sender_id and receiver_id are required")
		return
	}
	if err := chat.ValidateContent(p.Content); err != nil {
		g.trySendError(ctx, client, v1.CodeEmptyContent, "content must not be empty")
		return
	}

	// The session may go away mid-write; the message still lands.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.PersistTimeout)
	stored, err := g.sender.Send(pctx, chat.Message{
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
	})
	cancel()

	now := g.now()
	if err != nil {
		if errors.Is(err, chat.ErrNotPermitted) {
			g.trySendError(ctx, client, v1.CodeForbidden, "not permitted to message this user")
			return
		}

		g.log.Warn("chat.send.persist_fail", "session_id", client.SessionID, "sender_id", p.SenderID, "receiver_id", p.ReceiverID, "err", err)
		echo := newEnvelope(v1.TypeChatMessage, env.Payload, now)
		g.publish(client, echo)
		return
	}

	out, _ := json.Marshal(v1.ChatMessagePayload{
		MessageID:  stored.ID,
		SenderID:   stored.SenderID,
		ReceiverID: stored.ReceiverID,
		Content:    stored.Content,
		SentAt:     stored.SentAt,
	})
	g.publish(client, newEnvelope(v1.TypeChatMessage, out, now))
}

func (g *WSGateway) publish(client *Client, env v1.Envelope) {
	env.Topic = v1.TopicMessages
	delivered, dropped := g.hub.Messages().Publish(env)
	g.log.Debug("ws.broadcast", "session_id", client.SessionID, "envelope_id", env.ID, "delivered", delivered, "dropped", dropped)
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, g.now())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

// badJSONError marks a frame that arrived intact but did not decode.
type badJSONError struct{ err error }

func (e *badJSONError) Error() string { return "bad json: " + e.err.Error() }
func (e *badJSONError) Unwrap() error { return e.err }

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, &badJSONError{err: err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
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
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bj *badJSONError
	if errors.As(err, &bj) {
		return readErrBadJSON
	}
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
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
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

	// URL form.
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

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, distinct hosts of
// the allowlist. websocket.Accept matches OriginPatterns against the origin
// host using filepath.Match patterns.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	hosts := lo.Uniq(lo.FilterMap(allowed, func(a string, _ int) (string, bool) {
		h := originHostOnly(a)
		return h, h != "" && h != "*"
	}))
	slices.Sort(hosts)
	return hosts
}
