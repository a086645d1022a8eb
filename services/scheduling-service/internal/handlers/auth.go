package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/caredesk/clinicsched/libs/auth"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
)

type actorCtxKey struct{}

// Authenticator turns the identity service's bearer token into a booking.Actor.
// HS256 with a shared secret by default; RS256 via JWKS when the identity
// provider publishes keys.
type Authenticator struct {
	Secret string
	JWKS   *auth.JWKSClient
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := a.verify(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.TenantID == "" {
			http.Error(w, "token missing tenant", http.StatusUnauthorized)
			return
		}

		actor := booking.Actor{
			Sub:      claims.Sub,
			TenantID: claims.TenantID,
			Role:     claims.Role,
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a *Authenticator) verify(raw string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	if header.Alg == "RS256" && a.JWKS != nil {
		key, err := a.JWKS.Get(header.Kid)
		if err != nil {
			return nil, err
		}
		return auth.VerifyRS256(raw, key)
	}
	return auth.ParseAndVerifyHS256(raw, a.Secret)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

func withActor(ctx context.Context, actor booking.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

func actorFromContext(ctx context.Context) (booking.Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey{}).(booking.Actor)
	return actor, ok
}
