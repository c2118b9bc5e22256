package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/auth"
)

const testSecret = "cli-test-secret-that-is-long-enough-123"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "relay version dev\n", out)
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "token", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestTokenCmd_MintsVerifiableToken(t *testing.T) {
	t.Setenv("RELAY_AUTH_JWT_SECRET", testSecret)

	out, err := execute(t, "token", "--user", "alice", "--session", "s-1", "--ttl", "5m")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	service, err := auth.NewService(auth.Config{SecretKey: testSecret, Issuer: "streamrelay", Duration: time.Hour})
	require.NoError(t, err)
	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "s-1", claims.SessionID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenCmd_ReadsSecretFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  jwt_secret: "+testSecret+"\n"), 0o600))

	out, err := execute(t, "token", "--config", path, "--user", "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestTokenCmd_RequiresUser(t *testing.T) {
	t.Setenv("RELAY_AUTH_JWT_SECRET", testSecret)
	_, err := execute(t, "token")
	assert.Error(t, err)
}

func TestTokenCmd_RejectsMissingSecret(t *testing.T) {
	t.Setenv("RELAY_AUTH_JWT_SECRET", "")
	_, err := execute(t, "token", "--user", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret")
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("RELAY_AUTH_JWT_SECRET", "short")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServeCmd_MissingConfigFile(t *testing.T) {
	t.Setenv("RELAY_AUTH_JWT_SECRET", testSecret)
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
