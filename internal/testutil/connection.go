// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// ErrFakeClosed is returned by a FakeConnection after Close
var ErrFakeClosed = errors.New("fake connection closed")

var fakeSeq atomic.Int64

// FakeConnection records everything sent to it instead of writing to a socket
type FakeConnection struct {
	id          string
	connectedAt time.Time

	mu        sync.Mutex
	identity  *types.Identity
	sent      [][]byte
	closed    bool
	closeCode int
	closeText string
	SendErr   error // when set, every send fails with this error
	notify    chan struct{}
}

// NewFakeConnection creates an unauthenticated fake
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		id:          fmt.Sprintf("fake-%d", fakeSeq.Add(1)),
		connectedAt: time.Now(),
		notify:      make(chan struct{}, 1024),
	}
}

// NewAuthenticatedFake creates a fake that has already completed the handshake
func NewAuthenticatedFake(userID string) *FakeConnection {
	c := NewFakeConnection()
	_ = c.Authenticate(&types.Identity{UserID: userID})
	return c
}

func (c *FakeConnection) ID() string             { return c.id }
func (c *FakeConnection) RemoteAddr() string     { return "127.0.0.1:0" }
func (c *FakeConnection) ConnectedAt() time.Time { return c.connectedAt }

func (c *FakeConnection) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *FakeConnection) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrFakeClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *FakeConnection) CloseWithReason(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeCode = code
		c.closeText = reason
	}
	return nil
}

func (c *FakeConnection) Close() error {
	return c.CloseWithReason(0, "")
}

func (c *FakeConnection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil
}

func (c *FakeConnection) Authenticate(identity *types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return interfaces.ErrAlreadyAuthenticated
	}
	c.identity = identity
	return nil
}

func (c *FakeConnection) Identity() *types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Sent returns a copy of every message written so far
func (c *FakeConnection) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// Decoded returns every sent message decoded into generic maps
func (c *FakeConnection) Decoded() []map[string]any {
	var out []map[string]any
	for _, raw := range c.Sent() {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent decoded message or nil
func (c *FakeConnection) Last() map[string]any {
	msgs := c.Decoded()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset forgets recorded messages
func (c *FakeConnection) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

// Closed reports whether the fake was closed and with which code
func (c *FakeConnection) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// WaitForMessages blocks until at least n messages were recorded or the timeout passes
func (c *FakeConnection) WaitForMessages(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		count := len(c.sent)
		c.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

var _ interfaces.Connection = (*FakeConnection)(nil)

// FailSends makes every subsequent send return err
func (c *FakeConnection) FailSends(err error) {
	c.mu.Lock()
	c.SendErr = err
	c.mu.Unlock()
}

// CloseReason returns the reason passed to CloseWithReason
func (c *FakeConnection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeText
}
