package websocket

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WithBearerToken adds a preformatted "Authorization: Bearer <token>"
// header to the handshake request. Use this when the server expects a
// token minted elsewhere (e.g. an OAuth access token).
func WithBearerToken(token string) SocketOpt {
	return WithHTTPHeader("Authorization", "Bearer "+token)
}

// WithSignedJWT signs a JWT with claims (set at minimum "iss" and
// "exp") using signingKey under method, and attaches it to the
// handshake request as a bearer token. This mirrors how many
// WebSocket APIs gate the opening handshake behind a short-lived
// app-level credential rather than a per-user session token.
func WithSignedJWT(method jwt.SigningMethod, claims jwt.Claims, signingKey any) SocketOpt {
	return func(s *Socket) {
		token, err := jwt.NewWithClaims(method, claims).SignedString(signingKey)
		if err != nil {
			// Surfaced by Connect, since NewSocket itself cannot fail.
			s.optErr = fmt.Errorf("%w: signing JWT: %w", ErrInvalidInput, err)
			return
		}
		s.headers.Set("Authorization", "Bearer "+token)
	}
}

// DefaultJWTExpiry is a reasonable lifetime for a handshake-only JWT:
// long enough to tolerate clock skew and network latency, short
// enough that a captured token is useless soon after.
const DefaultJWTExpiry = 2 * time.Minute

// WithAppJWT is a convenience wrapper around [WithSignedJWT] for the
// common case of an app-level credential: it mints "iat"/"exp"/"iss"
// claims itself, using [DefaultJWTExpiry], instead of requiring the
// caller to build a claims value by hand.
func WithAppJWT(method jwt.SigningMethod, issuer string, signingKey any) SocketOpt {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(DefaultJWTExpiry).Unix(),
		"iss": issuer,
	}
	return WithSignedJWT(method, claims, signingKey)
}
