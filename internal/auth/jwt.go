package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streamrelay/pkg/interfaces"
	"streamrelay/pkg/types"
)

// MinSecretLength is the shortest signing secret accepted
const MinSecretLength = 32

// Claims carried by relay session tokens; the subject is the user id
type Claims struct {
	SessionID string `json:"sid,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config represents the JWT configuration
type Config struct {
	SecretKey string        `yaml:"secret_key" json:"secret_key"`
	Issuer    string        `yaml:"issuer" json:"issuer"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
}

// Service verifies and mints HS256 session tokens
// ARCHITECTURAL DISCOVERY: The relay only needs verify(credential) -> identity;
// minting lives here so the CLI and tests share one signing path
type Service struct {
	config Config
	now    func() time.Time
}

// NewService creates a new JWT service
func NewService(config Config) (*Service, error) {
	if config.SecretKey == "" {
		return nil, ErrEmptySecretKey
	}
	if len(config.SecretKey) < MinSecretLength {
		return nil, ErrWeakSecretKey
	}
	if config.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Service{config: config, now: time.Now}, nil
}

// TokenRequest describes the identity a minted token asserts
type TokenRequest struct {
	UserID    string
	SessionID string
	Name      string
	Email     string
	TTL       time.Duration // zero means the configured duration
}

// GenerateToken generates a new signed token
func (s *Service) GenerateToken(req TokenRequest) (string, error) {
	if req.UserID == "" {
		return "", ErrMissingSubject
	}
	ttl := req.TTL
	if ttl == 0 {
		ttl = s.config.Duration
	}
	if ttl < 0 {
		return "", ErrInvalidDuration
	}

	now := s.now()
	claims := &Claims{
		SessionID: req.SessionID,
		Name:      req.Name,
		Email:     req.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.UserID,
			Issuer:    s.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.SecretKey))
}

// ValidateToken parses a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAlgorithm
		}
		return []byte(s.config.SecretKey), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// Verify implements interfaces.SessionVerifier
func (s *Service) Verify(ctx context.Context, credential string) (*types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claims, err := s.ValidateToken(credential)
	if err != nil {
		return nil, err
	}
	return &types.Identity{
		UserID:      claims.Subject,
		SessionID:   claims.SessionID,
		DisplayName: claims.Name,
		Email:       claims.Email,
	}, nil
}

var _ interfaces.SessionVerifier = (*Service)(nil)
