package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{SecretKey: testSecret, Issuer: "relay-test", Duration: time.Hour})
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{Duration: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)

	_, err = NewService(Config{SecretKey: "short", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrWeakSecretKey)

	_, err = NewService(Config{SecretKey: testSecret})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestService_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateToken(TokenRequest{UserID: "user-1", SessionID: "sess-9", Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "sess-9", identity.SessionID)
	assert.Equal(t, "Ada", identity.DisplayName)
	assert.Equal(t, "ada@example.com", identity.Email)
}

func TestService_RejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewService(Config{SecretKey: "ffffffffffffffffffffffffffffffff", Issuer: "relay-test", Duration: time.Hour})
	require.NoError(t, err)
	foreign, err := other.GenerateToken(TokenRequest{UserID: "user-1"})
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "signature from another secret")

	wrongIssuer, err := NewService(Config{SecretKey: testSecret, Issuer: "someone-else", Duration: time.Hour})
	require.NoError(t, err)
	token, err := wrongIssuer.GenerateToken(TokenRequest{UserID: "user-1"})
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken, "issuer mismatch")
}

func TestService_RejectsExpiredToken(t *testing.T) {
	svc := newTestService(t)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.GenerateToken(TokenRequest{UserID: "user-1"})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestService_RejectsOtherAlgorithms(t *testing.T) {
	svc := newTestService(t)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "relay-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_RequiresSubject(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GenerateToken(TokenRequest{})
	assert.ErrorIs(t, err, ErrMissingSubject)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "relay-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestService_VerifyHonoursCancelledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Verify(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
