package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/akagifreeez/relay-gateway/internal/models"
)

// TokenService issues and verifies self-contained bearer tokens of the form
// base64url(payload) + "." + base64url(signature). Tokens are stateless: no
// store lookup, no revocation path. Rotating the secret invalidates every
// outstanding token at once.
type TokenService struct {
	secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Issue builds a signed token valid for ttl from now.
func (t *TokenService) Issue(owner string, limit int64, ttl time.Duration) (string, error) {
	payload := models.TokenPayload{
		Owner: owner,
		Limit: limit,
		Exp:   time.Now().Add(ttl).Unix(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + t.sign(encoded), nil
}

// Verify checks the signature and expiry of a token. Any malformed input
// yields ErrInvalidToken; it never panics and never partially succeeds.
func (t *TokenService) Verify(token string) (*models.TokenPayload, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return nil, ErrInvalidToken
	}

	// hmac.Equal is constant time; a direct string compare would leak how
	// many leading signature bytes matched.
	if !hmac.Equal([]byte(t.sign(encoded)), []byte(signature)) {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var payload models.TokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidToken
	}

	if payload.Exp <= time.Now().Unix() {
		return nil, ErrInvalidToken
	}

	return &payload, nil
}

// LooksLikeToken reports whether a presented credential has the two-segment
// shape of a signed token, as opposed to an opaque store identifier.
func LooksLikeToken(credential string) bool {
	return strings.Count(credential, ".") == 1
}

func (t *TokenService) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
