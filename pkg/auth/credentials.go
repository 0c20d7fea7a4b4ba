// Package auth authenticates callers and gates directory routes by identity
// and role.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spike-events/spike-directory/pkg/service"
)

var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrUnknownIdentity = errors.New("auth: unknown identity")
)

// Claims is what a verified credential says about the caller.
type Claims struct {
	UID       string
	Issuer    string
	ExpiresAt *time.Time
	Method    string
}

// CredentialVerifier checks the credential carried by a request.
type CredentialVerifier interface {
	Verify(r *http.Request) (*Claims, error)
}

// ChainVerifier accepts the first credential any of its verifiers accepts.
type ChainVerifier []CredentialVerifier

func (c ChainVerifier) Verify(r *http.Request) (*Claims, error) {
	for _, v := range c {
		claims, err := v.Verify(r)
		if err == nil {
			return claims, nil
		}
	}
	return nil, ErrUnauthenticated
}

// GetBearer returns the bearer token of the Authorization header, falling back
// to the token form value used by websocket clients.
func GetBearer(r *http.Request) (accessToken string, ok bool) {
	auth := r.Header.Get("Authorization")
	prefix := "Bearer "

	if auth != "" && strings.HasPrefix(auth, prefix) {
		accessToken = auth[len(prefix):]
	} else {
		accessToken = r.URL.Query().Get("token")
	}

	if accessToken != "" {
		ok = true
	}

	return
}

type claimsKey struct{}

// WithClaims stores verified claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// UID resolves the caller identity of a request already passed through
// Authenticate. It performs no I/O.
func UID(r *http.Request) (string, bool) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok || claims.UID == "" {
		return "", false
	}
	return claims.UID, true
}

// Authenticate verifies the request credential and stores the claims in the
// request context. Requests without a valid credential get a bare 401.
// Rejections are traced when logger is non-nil.
func Authenticate(verifier CredentialVerifier, logger service.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.Verify(r)
			if err != nil || claims.UID == "" {
				if logger != nil {
					logger.Printf("auth: credential rejected for %s %s: %v", r.Method, r.URL.Path, err)
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
