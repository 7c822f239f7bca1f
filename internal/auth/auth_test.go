package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateAndValidate(t *testing.T) {
	a := NewAuthenticator(Config{
		Enabled:   true,
		Username:  "researcher",
		Password:  "squeak",
		JWTSecret: "test-secret",
	})
	require.True(t, a.IsEnabled())

	token, expiresAt, err := a.Authenticate("researcher", "squeak")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Greater(t, expiresAt, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "researcher", claims.Username)
	assert.Equal(t, "micetrack", claims.Issuer)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Username: "researcher", Password: "squeak"})

	_, _, err := a.Authenticate("researcher", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Authenticate("intruder", "squeak")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateDisabled(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: false})
	assert.False(t, a.IsEnabled())
	_, _, err := a.Authenticate("admin", "anything")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestPrehashedPassword(t *testing.T) {
	hash, err := HashPassword("squeak")
	require.NoError(t, err)
	require.Len(t, hash, 60)

	a := NewAuthenticator(Config{Enabled: true, Username: "admin", Password: hash})
	_, _, err = a.Authenticate("admin", "squeak")
	assert.NoError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	a := NewAuthenticator(Config{
		Enabled:     true,
		Username:    "admin",
		Password:    "pw",
		JWTSecret:   "s",
		TokenExpiry: "-1h",
	})
	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "one"})
	b := NewAuthenticator(Config{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "two"})

	token, _, err := a.Authenticate("admin", "pw")
	require.NoError(t, err)

	_, err = b.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
