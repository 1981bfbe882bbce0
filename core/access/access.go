/*Package access provides utilities for access control.

The package has exactly two jobs: issuing/verifying signed bearer tokens
(TokenService) and guarding mutating handlers (Gate). The same gate fronts
every write across all resources; there is no second authorization path.
*/
package access

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/navdeck-io/navdeck/core/apierror"
	"github.com/navdeck-io/navdeck/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyIdentity contextKey = "_identity_"

// ErrNoToken means the Authorization header was absent or did not carry the
// "Bearer " scheme. The token service is not even consulted in this case.
var ErrNoToken = errors.New("authentication token not found")

// Identity is the authenticated requester, as embedded in a verified token.
type Identity struct {
	ID int64
}

// ContextWithIdentity returns a new context with this identity added to it
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves an identity from the context
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKeyIdentity).(Identity)
	return identity, ok
}

// BearerToken extracts the token from an Authorization header value. The
// scheme must be the literal prefix "Bearer " followed by a non-empty token.
func BearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrNoToken
	}
	token := header[len("Bearer "):]
	if len(token) == 0 {
		return "", ErrNoToken
	}
	return token, nil
}

// Gate is the request guard placed in front of every mutating operation.
// It is a pure predicate plus extraction function: no store access, no side
// effects.
type Gate struct {
	tokens *TokenService
}

// NewGate creates a gate backed by the given token service.
func NewGate(tokens *TokenService) *Gate {
	return &Gate{tokens: tokens}
}

// Authenticate yields the identity for the request's bearer token, or
// ErrNoToken / ErrInvalidToken.
func (g *Gate) Authenticate(r *http.Request) (Identity, error) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return Identity{}, err
	}
	userID, err := g.tokens.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ID: userID}, nil
}

// Protect wraps a handler so it only runs with a valid bearer token. The
// identity is stored in the request context for the wrapped handler.
func (g *Gate) Protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.Authenticate(r)
		if err != nil {
			apierror.Write(w, logger.FromContext(r.Context()), apierror.Authentication(err.Error()))
			return
		}
		ctx := ContextWithIdentity(r.Context(), identity)
		ctx, _ = logger.ContextWithLoggerIdentity(ctx, "user:"+strconv.FormatInt(identity.ID, 10))
		next(w, r.WithContext(ctx))
	}
}
