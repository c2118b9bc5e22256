package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// ConnectionOptions tune the write side of a connection
type ConnectionOptions struct {
	SendBuffer   int           // queued outbound messages
	SendTimeout  time.Duration // max wait for queue space before a send fails
	WriteTimeout time.Duration // deadline for one socket write
}

// DefaultConnectionOptions mirror the configuration defaults
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		SendBuffer:   100,
		SendTimeout:  50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
}

// outbound is either a text frame or, when closeCode is set, a close frame
type outbound struct {
	data      []byte
	closeCode int
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id          string
	conn        *websocket.Conn
	opts        ConnectionOptions
	connectedAt time.Time
	writeCh     chan outbound
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	closing     atomic.Bool
	done        chan struct{} // closed when writeLoop exits

	mu          sync.RWMutex // Protect identity and authExpired
	identity    *types.Identity
	authExpired bool
}

// NewConnection wraps an upgraded socket and starts its writer goroutine
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	defaults := DefaultConnectionOptions()
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaults.SendTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		opts:        opts,
		connectedAt: time.Now(),
		writeCh:     make(chan outbound, opts.SendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go c.writeLoop()
	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case msg := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				return
			}
			if msg.closeCode != 0 {
				// TECHNICAL DISCOVERY: Close frame goes out after everything queued before it
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg.data)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send marshals v and enqueues it
func (c *Connection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return c.SendRaw(data)
}

// SendRaw enqueues pre-encoded bytes, waiting at most SendTimeout for queue space
func (c *Connection) SendRaw(data []byte) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}

	msg := outbound{data: data}
	select {
	case c.writeCh <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(c.opts.SendTimeout)
	defer timer.Stop()
	select {
	case c.writeCh <- msg:
		return nil
	case <-timer.C:
		return ErrSendTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithReason queues a close frame behind pending messages; later sends fail
// FUNCTIONAL DISCOVERY: An AUTH_FAILED reply must reach the client before the policy-violation close
func (c *Connection) CloseWithReason(code int, reason string) error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	frame := outbound{data: websocket.FormatCloseMessage(code, reason), closeCode: code}
	select {
	case c.writeCh <- frame:
	case <-c.ctx.Done():
		return nil
	case <-time.After(c.opts.WriteTimeout):
		// Queue never drained; drop the socket without a close frame
	}

	// Bound how long a peer that never reads can keep the socket open
	go func() {
		select {
		case <-c.done:
		case <-time.After(c.opts.WriteTimeout):
		}
		_ = c.Close()
	}()
	return nil
}

// Close tears the connection down immediately
// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	c.closing.Store(true)
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// shutdown runs when the writer exits for any reason
func (c *Connection) shutdown() {
	c.closing.Store(true)
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

// Done is closed once the writer goroutine has exited
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil
}

// Authenticate stores the identity exactly once
func (c *Connection) Authenticate(identity *types.Identity) error {
	if identity == nil {
		return interfaces.ErrUnauthenticated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return interfaces.ErrAlreadyAuthenticated
	}
	if c.authExpired {
		return ErrAuthTimeout
	}
	copied := *identity
	c.identity = &copied
	return nil
}

// expireAuth ends the handshake window; it reports false if the connection
// already authenticated, and once it returns true Authenticate always fails
func (c *Connection) expireAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return false
	}
	c.authExpired = true
	return true
}

func (c *Connection) Identity() *types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}
	copied := *c.identity
	return &copied
}

var _ interfaces.Connection = (*Connection)(nil)
