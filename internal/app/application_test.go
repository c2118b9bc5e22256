package app

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamrelay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.JWTSecret = "application-test-secret-0123456789abcdef"
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	application, err := NewApplication(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, application)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewApplication_FailsWhenRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr
	cfg.Redis.PublishTimeout = 200 * time.Millisecond

	_, err = NewApplication(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status notifier")
}

func TestApplication_StartServeStop(t *testing.T) {
	application, err := NewApplication(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	base := "http://" + application.GetAddr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "streamrelay_connections_open")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+application.GetAddr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool {
		return len(application.Registry().Connections()) == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))

	// open sockets are told the server is going away
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var closeErr *websocket.CloseError
	_, _, err = conn.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseGoingAway, closeErr.Code)

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "listener is closed after Stop")
}

func TestApplication_WaitForShutdownOnCancel(t *testing.T) {
	application, err := NewApplication(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.WaitForShutdown(ctx, 2*time.Second) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
}

func TestApplication_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	application, err := NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	resp, err := http.Get("http://" + application.GetAddr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
