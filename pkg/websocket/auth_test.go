package websocket

import (
	"errors"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestWithBearerToken(t *testing.T) {
	s := NewSocket("ws://example.invalid", WithBearerToken("tok123"))
	if got := s.headers.Get("Authorization"); got != "Bearer tok123" {
		t.Fatalf("Authorization header = %q, want %q", got, "Bearer tok123")
	}
}

func TestWithSignedJWT(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		claims := jwt.MapClaims{"iss": "tester"}
		s := NewSocket("ws://example.invalid", WithSignedJWT(jwt.SigningMethodHS256, claims, []byte("secret")))
		if s.optErr != nil {
			t.Fatalf("optErr = %v, want nil", s.optErr)
		}
		if got := s.headers.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Fatalf("Authorization header = %q, want a bearer token", got)
		}
	})

	t.Run("signing failure surfaces through optErr", func(t *testing.T) {
		claims := jwt.MapClaims{"iss": "tester"}
		// An RSA signing method with a []byte key can never produce a
		// valid signature: jwt-go requires an *rsa.PrivateKey.
		s := NewSocket("ws://example.invalid", WithSignedJWT(jwt.SigningMethodRS256, claims, []byte("not-an-rsa-key")))
		if s.optErr == nil {
			t.Fatal("optErr = nil, want a signing error")
		}
		if !errors.Is(s.optErr, ErrInvalidInput) {
			t.Fatalf("optErr = %v, want it to wrap ErrInvalidInput", s.optErr)
		}
	})
}

func TestWithAppJWT(t *testing.T) {
	s := NewSocket("ws://example.invalid", WithAppJWT(jwt.SigningMethodHS256, "my-app", []byte("secret")))
	if s.optErr != nil {
		t.Fatalf("optErr = %v, want nil", s.optErr)
	}
	if got := s.headers.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
		t.Fatalf("Authorization header = %q, want a bearer token", got)
	}
}
