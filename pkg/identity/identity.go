package identity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Provider supplies the current user's stable identity string. The rest
// of the system treats the identity as an opaque, comparable token.
type Provider interface {
	Identity() (string, error)
}

// Static is a fixed identity, used by tests and single-user tooling.
type Static string

func (s Static) Identity() (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty identity")
	}
	return string(s), nil
}

// TokenVerifier validates HS256 bearer tokens and extracts the subject
// identity. When no secret is configured, verification is disabled and
// the gateway falls back to the X-User-ID header.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token string and returns its subject.
func (v *TokenVerifier) Verify(tok string) (string, error) {
	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("token missing sub claim")
	}
	return sub, nil
}

// Sign mints a token for an identity; used by tests and local tooling.
func (v *TokenVerifier) Sign(id string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": id})
	return t.SignedString(v.secret)
}

// FromRequest resolves the caller identity for an HTTP request: a Bearer
// token when a verifier is configured, otherwise the X-User-ID header.
func FromRequest(r *http.Request, v *TokenVerifier) (string, error) {
	if v != nil {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			return v.Verify(strings.TrimPrefix(auth, "Bearer "))
		}
		return "", fmt.Errorf("missing bearer token")
	}
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("missing identity")
}
