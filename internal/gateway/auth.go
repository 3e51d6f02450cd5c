package gateway

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is the minimal set of claims the gateway trusts from a bearer
// token; the issuing auth service is out of scope for this subsystem.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Authenticator verifies a bearer token and returns the userId it names.
type Authenticator interface {
	Verify(token string) (userID string, err error)
}

// HMACAuthenticator verifies HS256-signed tokens against a shared secret.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator builds an Authenticator keyed by secret.
func NewHMACAuthenticator(secret []byte) *HMACAuthenticator {
	return &HMACAuthenticator{secret: secret}
}

func (a *HMACAuthenticator) Verify(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuthInvalid)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: token not valid", ErrAuthInvalid)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrAuthInvalid)
	}
	return claims.UserID, nil
}
