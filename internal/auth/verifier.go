package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role names carried in the token's "role" claim.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Claims is the verified identity of a request.
type Claims struct {
	Subject string
	Role    string
}

// CanControl reports whether the role may start and stop operations.
func (c *Claims) CanControl() bool {
	return c != nil && c.Role == RoleController
}

// Verifier validates HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates a token, returning its claims. Expiry and
// signature are both enforced; the signing method is pinned to HS256.
func (v *Verifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Role != RoleViewer && claims.Role != RoleController {
		return nil, fmt.Errorf("unknown role %q", claims.Role)
	}
	return &Claims{Subject: claims.Subject, Role: claims.Role}, nil
}

// Mint issues a token for a subject and role, valid for ttl. Used by the
// operator tooling and by tests.
func (v *Verifier) Mint(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
