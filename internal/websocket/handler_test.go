package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/config"
	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// mockDispatcher records lifecycle calls and echoes every message back
type mockDispatcher struct {
	mu           sync.Mutex
	opened       []string
	messages     []string
	disconnected []string
	authOnFirst  bool
	disconnectCh chan struct{}
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{disconnectCh: make(chan struct{}, 4)}
}

func (m *mockDispatcher) Open(conn interfaces.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, conn.ID())
}

func (m *mockDispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) {
	m.mu.Lock()
	m.messages = append(m.messages, string(raw))
	auth := m.authOnFirst && !conn.IsAuthenticated()
	m.mu.Unlock()

	if auth {
		_ = conn.Authenticate(&types.Identity{UserID: "u1"})
	}
	_ = conn.SendRaw(raw)
}

func (m *mockDispatcher) Disconnect(ctx context.Context, conn interfaces.Connection) {
	m.mu.Lock()
	m.disconnected = append(m.disconnected, conn.ID())
	m.mu.Unlock()
	m.disconnectCh <- struct{}{}
}

func (m *mockDispatcher) snapshot() (opened, messages, disconnected []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.opened...), append([]string(nil), m.messages...), append([]string(nil), m.disconnected...)
}

func testWebSocketConfig() *config.WebSocketConfig {
	cfg := config.DefaultConfig().WebSocket
	cfg.AuthTimeout = 2 * time.Second
	return cfg
}

func startHandler(t *testing.T, dispatcher interfaces.MessageDispatcher, cfg *config.WebSocketConfig) string {
	t.Helper()
	handler, err := NewHandler(dispatcher, cfg, nil)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitDisconnect(t *testing.T, m *mockDispatcher) {
	t.Helper()
	select {
	case <-m.disconnectCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect was not called")
	}
}

func TestNewHandler_RequiresDispatcher(t *testing.T) {
	_, err := NewHandler(nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDispatcher)
}

func TestHandler_ConnectionLifecycle(t *testing.T) {
	dispatcher := newMockDispatcher()
	url := startHandler(t, dispatcher, testWebSocketConfig())
	client := dial(t, url)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","token":"a"}`)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"register"}`)))
	// Binary frames never reach the dispatcher
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, first, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"auth","token":"a"}`, string(first))
	_, second, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"register"}`, string(second))

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	waitDisconnect(t, dispatcher)

	opened, messages, disconnected := dispatcher.snapshot()
	require.Len(t, opened, 1)
	assert.Equal(t, opened, disconnected, "the opened connection is the one disconnected")
	assert.Len(t, messages, 2)
}

func TestHandler_AuthTimeoutClosesWithPolicyViolation(t *testing.T) {
	dispatcher := newMockDispatcher()
	cfg := testWebSocketConfig()
	cfg.AuthTimeout = 100 * time.Millisecond
	client := dial(t, startHandler(t, dispatcher, cfg))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, types.MessageTypeError, msg["type"])
	assert.Equal(t, types.CodeAuthRequired, msg["code"])

	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	waitDisconnect(t, dispatcher)
}

func TestHandler_AuthenticatedConnectionOutlivesTimeout(t *testing.T) {
	dispatcher := newMockDispatcher()
	dispatcher.authOnFirst = true
	cfg := testWebSocketConfig()
	cfg.AuthTimeout = 100 * time.Millisecond
	client := dial(t, startHandler(t, dispatcher, cfg))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth"}`)))
	_, _, err := client.ReadMessage()
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	_, echo, err := client.ReadMessage()
	require.NoError(t, err, "authenticated socket must stay open past the auth window")
	assert.JSONEq(t, `{"type":"subscribe"}`, string(echo))
}

func TestHandler_RejectsDisallowedOrigin(t *testing.T) {
	dispatcher := newMockDispatcher()
	cfg := testWebSocketConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
	url := startHandler(t, dispatcher, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://dashboard.example.com")
	client, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = client.Close()

	opened, _, _ := dispatcher.snapshot()
	assert.Len(t, opened, 1, "rejected upgrade never reaches the dispatcher")
}

func TestHandler_CheckOrigin(t *testing.T) {
	handler, err := NewHandler(newMockDispatcher(), testWebSocketConfig(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, handler.checkOrigin(req), "empty allow-list accepts everything")

	handler.cfg.AllowedOrigins = []string{"dashboard.example.com"}
	assert.True(t, handler.checkOrigin(req), "missing Origin header is accepted")

	req.Header.Set("Origin", "https://dashboard.example.com")
	assert.True(t, handler.checkOrigin(req), "host-only entries match")

	req.Header.Set("Origin", "https://other.example.com")
	assert.False(t, handler.checkOrigin(req))

	handler.cfg.AllowedOrigins = []string{"*"}
	assert.True(t, handler.checkOrigin(req))
}

func TestHandler_OversizedMessageClosesConnection(t *testing.T) {
	dispatcher := newMockDispatcher()
	cfg := testWebSocketConfig()
	cfg.MaxMessageBytes = 64
	client := dial(t, startHandler(t, dispatcher, cfg))

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024))))
	waitDisconnect(t, dispatcher)

	_, messages, _ := dispatcher.snapshot()
	assert.Empty(t, messages)
}

func TestHandler_WaitCoversDisconnect(t *testing.T) {
	dispatcher := newMockDispatcher()
	handler, err := NewHandler(dispatcher, testWebSocketConfig(), nil)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := dial(t, "ws"+strings.TrimPrefix(server.URL, "http"))
	require.Eventually(t, func() bool {
		opened, _, _ := dispatcher.snapshot()
		return len(opened) == 1
	}, 2*time.Second, 10*time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, handler.Wait(short), context.DeadlineExceeded, "open connection keeps Wait blocked")

	require.NoError(t, client.Close())
	ctx, cancelWait := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelWait()
	require.NoError(t, handler.Wait(ctx))

	_, _, disconnected := dispatcher.snapshot()
	assert.Len(t, disconnected, 1, "Disconnect finished before Wait returned")
}
