package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"psymetric/internal/gate"
)

type identityKey struct{}

// GetIdentity retrieves the resolved caller identity from the context. The
// zero Identity (unauthenticated) is returned when resolution failed, so the
// gate can audit the denied attempt instead of the transport rejecting it
// silently.
func GetIdentity(ctx context.Context) gate.Identity {
	if identity, ok := ctx.Value(identityKey{}).(gate.Identity); ok {
		return identity
	}
	return gate.Identity{}
}

// WithIdentity injects an identity into a context. Useful for handler tests
// that don't run the middleware chain.
func WithIdentity(ctx context.Context, identity gate.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Claims are the JWT claims the default auth provider expects.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthProvider resolves a Bearer token into an Identity. Credential
// issuance lives with the external auth collaborator; this only validates
// and maps claims.
type JWTAuthProvider struct {
	signingKey []byte
	logger     *slog.Logger
}

// NewJWTAuthProvider builds the default HS256 auth provider.
func NewJWTAuthProvider(signingKey string, logger *slog.Logger) *JWTAuthProvider {
	return &JWTAuthProvider{signingKey: []byte(signingKey), logger: logger}
}

// Resolve extracts and validates the Bearer token. Any failure yields the
// unauthenticated zero Identity - denial and auditing are the gate's job.
func (p *JWTAuthProvider) Resolve(r *http.Request) gate.Identity {
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return gate.Identity{}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.signingKey, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		p.logger.Warn("token validation failed", "error", err)
		return gate.Identity{}
	}

	role := gate.Role(claims.Role)
	switch role {
	case gate.RoleAdmin, gate.RoleAuditor:
	default:
		role = gate.RoleUser
	}

	return gate.Identity{
		ActorID:       claims.Subject,
		Role:          role,
		Authenticated: true,
	}
}

// AuthProvider turns an HTTP request into a caller identity.
type AuthProvider interface {
	Resolve(r *http.Request) gate.Identity
}

// ResolveIdentity runs the auth provider and stores the result in context.
// Requests are never rejected here: unauthenticated callers proceed with a
// zero identity and are denied (and audited) by the gate.
func ResolveIdentity(provider AuthProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := provider.Resolve(r)
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
