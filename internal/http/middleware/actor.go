package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/northgate/transfer-bookings/pkg/auth"
	"github.com/northgate/transfer-bookings/pkg/logger"
)

type actorKeyType struct{}

var actorKey actorKeyType

// Actor extracts the opaque actor identity issued by the external auth
// layer from a bearer token. Identity is advisory here: it feeds audit
// notes and logging, while authorization stays with the auth service.
func Actor(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := "anonymous"

			header := r.Header.Get("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				token := strings.TrimPrefix(header, "Bearer ")
				if claims, err := auth.Parse(token, secret); err == nil && claims.Sub != "" {
					actor = claims.Sub
				}
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			ctx = context.WithValue(ctx, logger.ActorIDKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom returns the actor id stored by Actor, or "anonymous".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return "anonymous"
}
