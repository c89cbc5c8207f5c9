package session

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

// Claims represents the JWT claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// TokenManager signs and validates access tokens.
type TokenManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	duration   time.Duration
	issuer     string

	// In-memory revocation store keyed by user id.
	revoked map[string]time.Time
	mu      sync.RWMutex
}

// NewTokenManager creates a TokenManager with a fresh RSA key pair.
func NewTokenManager(duration time.Duration, issuer string) (*TokenManager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return NewTokenManagerWithKey(privateKey, duration, issuer), nil
}

// NewTokenManagerWithKey creates a TokenManager from an existing key,
// e.g. one loaded from configured key material.
func NewTokenManagerWithKey(key *rsa.PrivateKey, duration time.Duration, issuer string) *TokenManager {
	return &TokenManager{
		privateKey: key,
		publicKey:  &key.PublicKey,
		duration:   duration,
		issuer:     issuer,
		revoked:    make(map[string]time.Time),
	}
}

// Generate creates a signed access token for the identity.
func (m *TokenManager) Generate(userID, email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.privateKey)
}

// Validate parses a token and returns its claims.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	m.mu.RLock()
	_, revoked := m.revoked[claims.UserID]
	m.mu.RUnlock()
	if revoked {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// Revoke invalidates every outstanding token of a user.
func (m *TokenManager) Revoke(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[userID] = time.Now().Add(m.duration)
}

// Unrevoke lifts a revocation, used after a fresh sign-in.
func (m *TokenManager) Unrevoke(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.revoked, userID)
}

// CleanupRevocations removes revocation entries older than the token
// lifetime; anything they would block has expired anyway.
func (m *TokenManager) CleanupRevocations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for userID, expiry := range m.revoked {
		if now.After(expiry) {
			delete(m.revoked, userID)
		}
	}
}
