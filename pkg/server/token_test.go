package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	tm := NewTokenManager()

	at, err := tm.GenerateToken("device-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, at.Token)

	clientID, err := tm.ValidateToken(at.Token)
	require.NoError(t, err)
	require.Equal(t, "device-1", clientID)
}

func TestValidateTokenRejectsUnknown(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.ValidateToken("does-not-exist")
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	tm := NewTokenManager()
	at, err := tm.GenerateToken("device-1", -time.Minute)
	require.NoError(t, err)

	_, err = tm.ValidateToken(at.Token)
	require.Error(t, err)
}

func TestRevokeToken(t *testing.T) {
	tm := NewTokenManager()
	at, err := tm.GenerateToken("device-1", time.Hour)
	require.NoError(t, err)

	tm.RevokeToken(at.Token)
	_, err = tm.ValidateToken(at.Token)
	require.Error(t, err)
}

func TestCleanupExpiredTokens(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.GenerateToken("expired", -time.Minute)
	require.NoError(t, err)
	live, err := tm.GenerateToken("live", time.Hour)
	require.NoError(t, err)

	tm.CleanupExpiredTokens()

	tokens := tm.ListTokens()
	require.Len(t, tokens, 1)
	require.Equal(t, live.Token, tokens[0].Token)
}
