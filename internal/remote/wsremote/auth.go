package wsremote

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

type AccessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenSource yields the bearer token presented when dialing. A static
// token wins; otherwise a short-lived HS256 token is minted from Secret.
type TokenSource struct {
	Static string
	Secret []byte
	TTL    time.Duration
}

func (t TokenSource) Token(userID string) (string, error) {
	if t.Static != "" {
		return t.Static, nil
	}
	if len(t.Secret) == 0 {
		return "", nil
	}
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := time.Now()
	claims := AccessClaims{
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.Secret)
}

// ParseAccessToken verifies a token minted by TokenSource.
func ParseAccessToken(secret []byte, tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return secret, nil
	})
	if err != nil {
		return AccessClaims{}, ErrUnauthorized
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, ErrUnauthorized
	}
	return *claims, nil
}
