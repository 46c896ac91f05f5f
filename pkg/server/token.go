package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenManager issues and validates bearer tokens presented on the
// auth WS message and the REST Authorization header.
type TokenManager struct {
	tokens map[string]*AuthToken
	mu     sync.RWMutex
}

// AuthToken is one issued client credential.
type AuthToken struct {
	Token     string
	ClientID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTokenManager creates an empty token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{
		tokens: make(map[string]*AuthToken),
	}
}

// GenerateToken issues a new random bearer token for clientID, valid
// for duration.
func (tm *TokenManager) GenerateToken(clientID string, duration time.Duration) (*AuthToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("server: generating token: %w", err)
	}

	at := &AuthToken{
		Token:     hex.EncodeToString(raw),
		ClientID:  clientID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}

	tm.mu.Lock()
	tm.tokens[at.Token] = at
	tm.mu.Unlock()

	return at, nil
}

// ValidateToken checks token and returns the clientID it was issued
// for.
func (tm *TokenManager) ValidateToken(token string) (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	at, ok := tm.tokens[token]
	if !ok {
		return "", fmt.Errorf("server: invalid token")
	}
	if time.Now().After(at.ExpiresAt) {
		return "", fmt.Errorf("server: token expired")
	}

	return at.ClientID, nil
}

// RevokeToken invalidates a previously issued token.
func (tm *TokenManager) RevokeToken(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpiredTokens removes every token past its expiry.
func (tm *TokenManager) CleanupExpiredTokens() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := time.Now()
	for token, at := range tm.tokens {
		if now.After(at.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}

// ListTokens returns every active token.
func (tm *TokenManager) ListTokens() []*AuthToken {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	out := make([]*AuthToken, 0, len(tm.tokens))
	for _, at := range tm.tokens {
		out = append(out, at)
	}
	return out
}
