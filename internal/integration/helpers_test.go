package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamrelay/internal/app"
	"streamrelay/internal/auth"
	"streamrelay/internal/config"
	"streamrelay/pkg/types"
)

const (
	testSecret  = "integration-secret-at-least-32-characters"
	readTimeout = 3 * time.Second
)

// testConfig returns a valid config bound to an ephemeral loopback port
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.Database.Timeout = 5 * time.Second
	cfg.Auth.JWTSecret = testSecret
	cfg.WebSocket.AuthTimeout = 2 * time.Second
	cfg.Metrics.Namespace = "relay_it"
	return cfg
}

// startApp builds and starts a full relay, stopping it when the test ends
func startApp(t *testing.T, cfg *config.Config) *app.Application {
	t.Helper()
	application, err := app.NewApplication(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return application
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, application *app.Application) *client {
	t.Helper()
	url := "ws://" + application.GetAddr() + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// next reads one message as a generic JSON object
func (c *client) next() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg), string(data))
	return msg
}

// nextOfType skips messages until one with the given type arrives
func (c *client) nextOfType(msgType string) map[string]any {
	c.t.Helper()
	for {
		msg := c.next()
		if msg["type"] == msgType {
			return msg
		}
	}
}

// authenticate mints a token for userID and completes the handshake
func (c *client) authenticate(application *app.Application, userID string) {
	c.t.Helper()
	token, err := application.Auth().GenerateToken(auth.TokenRequest{UserID: userID})
	require.NoError(c.t, err)
	c.send(map[string]any{"type": types.MessageTypeAuth, "token": token})
	reply := c.next()
	require.Equal(c.t, types.MessageTypeSuccess, reply["type"], reply)
	require.Equal(c.t, "authenticated", reply["message"])
}

func (c *client) register(streamID string, produces, consumes []types.Kind) {
	c.t.Helper()
	c.send(map[string]any{
		"type":       types.MessageTypeRegister,
		"clientType": types.ClientTypeMobile,
		"streamId":   streamID,
		"produces":   produces,
		"consumes":   consumes,
	})
	reply := c.next()
	require.Equal(c.t, types.MessageTypeSuccess, reply["type"], reply)
	require.Equal(c.t, streamID, reply["streamId"])
}

func (c *client) subscribe(clientType, streamID string, consumes []types.Kind) {
	c.t.Helper()
	c.send(map[string]any{
		"type":       types.MessageTypeSubscribe,
		"clientType": clientType,
		"streamId":   streamID,
		"consumes":   consumes,
	})
	reply := c.next()
	require.Equal(c.t, types.MessageTypeSuccess, reply["type"], reply)
	require.Equal(c.t, "subscribed", reply["message"])
}
