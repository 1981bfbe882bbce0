package access

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenLifetime is the fixed validity window of an issued token. There is no
// refresh mechanism; clients re-authenticate through the login flow.
const TokenLifetime = 2 * time.Hour

// ErrInvalidToken is the uniform verification failure. Callers cannot tell
// a bad signature from an expired or malformed token.
var ErrInvalidToken = errors.New("invalid or expired token")

type tokenClaims struct {
	UID      int64  `json:"uid"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies the signed bearer tokens of the backend.
// The signing secret is process-wide configuration; rotating it invalidates
// all outstanding tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenService creates a token service with the standard lifetime.
func NewTokenService(secret string) *TokenService {
	return NewTokenServiceWithLifetime(secret, TokenLifetime)
}

// NewTokenServiceWithLifetime creates a token service with a custom
// lifetime. Tests use this to produce already-expired tokens.
func NewTokenServiceWithLifetime(secret string, lifetime time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), lifetime: lifetime}
}

// Issue signs a token for the given user, valid for the service's lifetime.
func (s *TokenService) Issue(userID int64, username string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		UID:      userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks signature and expiry and returns the embedded user id.
// Every failure mode collapses into ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (int64, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.UID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.UID, nil
}
