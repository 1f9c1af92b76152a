package services_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/relay-gateway/internal/services"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := services.NewTokenService("test-secret")

	token, err := svc.Issue("alice", 500, time.Hour)
	require.NoError(t, err)
	require.True(t, services.LooksLikeToken(token))

	payload, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", payload.Owner)
	assert.Equal(t, int64(500), payload.Limit)
	assert.Greater(t, payload.Exp, time.Now().Unix())
}

func TestTokenTamperedSignature(t *testing.T) {
	svc := services.NewTokenService("test-secret")

	token, err := svc.Issue("alice", 500, time.Hour)
	require.NoError(t, err)

	dot := strings.Index(token, ".")
	require.Greater(t, dot, 0)

	// Flipping any single signature character must invalidate the token.
	sig := token[dot+1:]
	for i := 0; i < len(sig); i++ {
		altered := []byte(sig)
		if altered[i] == 'A' {
			altered[i] = 'B'
		} else {
			altered[i] = 'A'
		}
		_, err := svc.Verify(token[:dot+1] + string(altered))
		assert.ErrorIs(t, err, services.ErrInvalidToken, "position %d", i)
	}
}

func TestTokenExpiry(t *testing.T) {
	svc := services.NewTokenService("test-secret")

	token, err := svc.Issue("bob", 100, -time.Second)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := services.NewTokenService("secret-a")
	verifier := services.NewTokenService("secret-b")

	token, err := issuer.Issue("carol", 100, time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestTokenMalformed(t *testing.T) {
	svc := services.NewTokenService("test-secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: "abcdef"},
		{name: "empty payload", token: ".sig"},
		{name: "empty signature", token: "payload."},
		{name: "undecodable payload", token: "!!!.sig"},
		{name: "non-json payload", token: "bm90LWpzb24.sig"},
		{name: "two separators", token: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			assert.ErrorIs(t, err, services.ErrInvalidToken)
		})
	}
}
