package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"streamrelay/internal/config"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// Handler upgrades HTTP requests and pumps frames into the dispatcher
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// the handler never looks inside a message
type Handler struct {
	dispatcher interfaces.MessageDispatcher
	cfg        *config.WebSocketConfig
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	// active counts running connection handlers, including their Disconnect cleanup
	active sync.WaitGroup
}

// NewHandler creates a WebSocket handler bound to a dispatcher
func NewHandler(dispatcher interfaces.MessageDispatcher, cfg *config.WebSocketConfig, logger *zap.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	if cfg == nil {
		cfg = config.DefaultConfig().WebSocket
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.Named("websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h, nil
}

// checkOrigin accepts every origin unless an allow-list is configured
// FUNCTIONAL DISCOVERY: Native mobile clients send no Origin header at all
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request and runs the connection until it closes
// ARCHITECTURAL DISCOVERY: Authentication happens in-band after the upgrade, so the
// only pre-upgrade checks are the ones gorilla performs (method, headers, origin)
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Counted before the hijack so http.Server.Shutdown orders it before Wait
	h.active.Add(1)
	defer h.active.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, ConnectionOptions{
		SendBuffer:   h.cfg.SendBuffer,
		SendTimeout:  h.cfg.SendTimeout,
		WriteTimeout: h.cfg.WriteTimeout,
	})
	h.logger.Info("connection opened",
		zap.String("conn_id", conn.ID()), zap.String("remote_addr", conn.RemoteAddr()))

	h.dispatcher.Open(conn)
	h.handleConnection(conn)
}

// handleConnection runs the read pump on the calling goroutine
// ARCHITECTURAL DISCOVERY: Reads stay on one goroutine so Dispatch calls for a
// connection are strictly sequential
func (h *Handler) handleConnection(conn *Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures registry state is released
		// even if the read pump exits on an error
		h.dispatcher.Disconnect(context.Background(), conn)
		_ = conn.Close()
		h.logger.Info("connection closed",
			zap.String("conn_id", conn.ID()), zap.String("remote_addr", conn.RemoteAddr()))
	}()

	// FUNCTIONAL DISCOVERY: No indefinite unauthenticated sockets
	authTimer := time.AfterFunc(h.cfg.AuthTimeout, func() {
		// expireAuth and Authenticate share a lock, so a late handshake cannot slip in before the close
		if !conn.expireAuth() {
			return
		}
		h.logger.Info("authentication timeout", zap.String("conn_id", conn.ID()))
		_ = conn.Send(types.NewError(types.CodeAuthRequired, "authentication timeout"))
		_ = conn.CloseWithReason(websocket.ClosePolicyViolation, "authentication timeout")
	})
	defer authTimer.Stop()

	ws := conn.conn
	if h.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	// TECHNICAL DISCOVERY: Read deadline is pushed forward by every pong so a silent
	// peer is detected within ReadTimeout
	readTimeout := h.cfg.ReadTimeout
	if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		// Any inbound frame counts as activity
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		h.dispatcher.Dispatch(ctx, conn, data)
	}
}

// Wait blocks until every connection handler has finished its cleanup or ctx ends
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pingLoop sends keepalive pings until the connection shuts down
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// WriteControl is safe to call concurrently with the writer goroutine
			deadline := time.Now().Add(h.cfg.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
