package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/libevm/shlop-app-sub002/internal/config"
	"github.com/libevm/shlop-app-sub002/internal/game"
	"github.com/libevm/shlop-app-sub002/internal/journal"
	"github.com/libevm/shlop-app-sub002/internal/metrics"
	"github.com/libevm/shlop-app-sub002/internal/protocol"
	"github.com/libevm/shlop-app-sub002/internal/session"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// GameLoop is the part of game.Loop the transport drives.
type GameLoop interface {
	Submit(ctx context.Context, kind string, fn func(*game.Dispatcher) []game.Envelope) error
	Do(ctx context.Context, fn func(*game.Dispatcher)) error
	DoEnvelopes(ctx context.Context, fn func(*game.Dispatcher) ([]game.Envelope, error)) error
}

// Authenticator turns the token of a connection's first frame into a
// character.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (session.Credential, error)
}

// Journal records transport-level audit entries.
type Journal interface {
	Record(kind journal.Kind, sessionName, room string, detail map[string]any) bool
}

// HubConfig bounds the websocket hub.
type HubConfig struct {
	MaxConnections int
	MaxPerIP       int
	MessagesPerSec float64 // Inbound budget per connection
	MessageBurst   int
	AllowedOrigins []string
	TrustProxy     bool
}

// HubConfigFrom picks the hub settings out of the app configuration.
func HubConfigFrom(cfg config.AppConfig) HubConfig {
	return HubConfig{
		MaxConnections: cfg.Limits.MaxConnections,
		MaxPerIP:       cfg.Limits.MaxConnectionsPerIP,
		MessagesPerSec: cfg.Session.MessagesPerSec,
		MessageBurst:   cfg.Session.MessageBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Limits.TrustProxy,
	}
}

// frame is one queued write: a text message, or a close when code is set.
type frame struct {
	data []byte
	code protocol.CloseCode
}

// wsClient is one websocket connection. Only the write pump writes data
// frames; WriteControl may be used from anywhere.
type wsClient struct {
	id      string
	ip      string
	conn    *websocket.Conn
	send    chan frame
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// closeNow sends a close frame out of band and drops the connection.
func (c *wsClient) closeNow(code protocol.CloseCode) {
	msg := websocket.FormatCloseMessage(int(code), code.Reason())
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.shutdown()
}

// Hub owns the websocket connections. Reader goroutines turn frames into
// loop work; Deliver, called by the loop, hands encoded frames to each
// connection's write pump.
type Hub struct {
	cfg      HubConfig
	loop     GameLoop
	auth     Authenticator
	journal  Journal
	logger   *zap.Logger
	upgrader websocket.Upgrader
	perIP    *ConnLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*wsClient
	wg      sync.WaitGroup
}

// NewHub creates a hub. Bind must be called before connections are served.
func NewHub(cfg HubConfig, auth Authenticator, j Journal, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:     cfg,
		auth:    auth,
		journal: j,
		logger:  logger,
		perIP:   NewConnLimiter(cfg.MaxPerIP),
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*wsClient),
	}
	origins := NewOriginPolicy(cfg.AllowedOrigins)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			logger.Warn("websocket origin rejected", zap.String("origin", origin))
			metrics.ConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Bind attaches the game loop. The loop needs the hub as its Deliverer, so
// the two are wired in two steps.
func (h *Hub) Bind(loop GameLoop) {
	h.loop = loop
}

// ClientCount returns the number of open connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) client(id string) *wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// Deliver implements game.Deliverer. It never blocks: a connection whose
// buffer is full loses the frame.
func (h *Hub) Deliver(envs []game.Envelope) {
	for _, env := range envs {
		var data []byte
		if env.Msg != nil {
			var err error
			data, err = protocol.Encode(env.Msg)
			if err != nil {
				h.logger.Error("encoding outbound event", zap.String("type", string(env.Msg.EventType())), zap.Error(err))
			}
		}
		for _, id := range env.To {
			c := h.client(id)
			if c == nil {
				continue
			}
			if data != nil {
				h.enqueue(c, frame{data: data})
			}
			if env.Close != 0 && !h.enqueue(c, frame{code: env.Close}) {
				c.closeNow(env.Close)
			}
		}
	}
}

func (h *Hub) enqueue(c *wsClient, f frame) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		metrics.MessageDropped("queue_full")
		return false
	}
}

// HandleWebSocket upgrades a request and starts the connection's pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r, h.cfg.TrustProxy)

	if h.ClientCount() >= h.cfg.MaxConnections {
		h.logger.Warn("websocket rejected: connection limit reached", zap.Int("limit", h.cfg.MaxConnections))
		metrics.ConnectionRejected("capacity")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.perIP.Allow(ip) {
		h.logger.Warn("websocket rejected: per-IP limit reached", zap.String("ip", ip))
		metrics.ConnectionRejected("ws_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("ip", ip), zap.Error(err))
		h.perIP.Release(ip)
		return
	}

	c := &wsClient{
		id:      uuid.NewString(),
		ip:      ip,
		conn:    conn,
		send:    make(chan frame, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSec), h.cfg.MessageBurst),
		done:    make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)

	// Registered before the loop learns about it so the first Deliver
	// for this id finds the client.
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetWSConnections(count)

	if err := h.loop.Submit(h.ctx, "connect", func(d *game.Dispatcher) []game.Envelope { return d.Connect(c.id) }); err != nil {
		c.closeNow(protocol.CloseShutdown)
		h.unregister(c)
		return
	}

	h.logger.Debug("websocket connected", zap.String("conn", c.id), zap.String("ip", ip), zap.Int("total", count))
	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()

	h.perIP.Release(c.ip)
	metrics.SetWSConnections(count)
}

func (h *Hub) writePump(c *wsClient) {
	defer h.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if f.code != 0 {
				msg := websocket.FormatCloseMessage(int(f.code), f.code.Reason())
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				c.shutdown()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.shutdown()
				return
			}
			metrics.MessageSent()
		}
	}
}

// readPump authenticates the first frame, then feeds every further frame
// to the loop until the connection dies.
func (h *Hub) readPump(c *wsClient) {
	defer h.wg.Done()
	defer func() {
		c.shutdown()
		h.unregister(c)
		if err := h.submit("disconnect", func(d *game.Dispatcher) []game.Envelope { return d.Disconnect(c.id) }); err != nil {
			h.logger.Debug("disconnect not delivered to loop", zap.String("conn", c.id), zap.Error(err))
		}
		h.logger.Debug("websocket disconnected", zap.String("conn", c.id))
	}()

	if !h.authenticate(c) {
		h.drain(c)
		return
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			metrics.MessageDropped("rate_limit")
			h.journal.Record(journal.KindRateLimited, "", "", map[string]any{"conn": c.id, "ip": c.ip})
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			metrics.MessageDropped("decode")
			continue
		}
		if err := h.submit("message", func(d *game.Dispatcher) []game.Envelope { return d.Handle(c.id, msg) }); err != nil {
			return
		}
	}
}

// authenticate handles the first frame. Token resolution and the snapshot
// load happen here, off the loop. It reports whether the session may go on.
func (h *Hub) authenticate(c *wsClient) bool {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}

	msg, err := protocol.Decode(data)
	auth, ok := msg.(*protocol.Auth)
	if err != nil || !ok {
		h.refuse(c, protocol.CloseProtocolViolation)
		return false
	}

	cred, err := h.auth.Authenticate(h.ctx, auth.Token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidToken) {
			h.logger.Warn("authentication failed", zap.String("conn", c.id), zap.Error(err))
		}
		h.refuse(c, protocol.CloseInvalidToken)
		return false
	}

	return h.submit("connect", func(d *game.Dispatcher) []game.Envelope { return d.Login(c.id, cred) }) == nil
}

// drain discards frames until the refused connection is closed by its
// write pump.
func (h *Hub) drain(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) submit(kind string, fn func(*game.Dispatcher) []game.Envelope) error {
	return h.loop.Submit(h.ctx, kind, fn)
}

// refuse asks the loop to close c with code. If the loop is gone the
// connection is dropped directly.
func (h *Hub) refuse(c *wsClient, code protocol.CloseCode) {
	err := h.submit("connect", func(d *game.Dispatcher) []game.Envelope { return d.Refuse(c.id, code) })
	if err != nil {
		c.closeNow(code)
	}
}

// Shutdown closes every connection with a going-away frame and waits for
// the pumps to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeNow(protocol.CloseShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
