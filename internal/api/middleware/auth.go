package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcoot/playhub/internal/api/apierr"
	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/services/auth"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	sessionContextKey  contextKey = "session"
)

// SessionValidator resolves bearer tokens
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Session, error)
}

// Auth creates authentication middleware
func Auth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}

			session, err := sessions.ValidateSession(r.Context(), token)
			if err != nil {
				apierr.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// WithSession stores the session and its identity on ctx
func WithSession(ctx context.Context, session *auth.Session) context.Context {
	ctx = context.WithValue(ctx, sessionContextKey, session)
	return context.WithValue(ctx, identityContextKey, &session.Identity)
}

// ExtractToken reads the bearer token from the Authorization header, falling
// back to the access_token query parameter for clients that cannot set
// headers (browser WebSocket)
func ExtractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// GetIdentity returns the authenticated identity from the request context
func GetIdentity(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(identityContextKey).(*model.Identity)
	return identity
}

// GetSession returns the session from the request context
func GetSession(ctx context.Context) *auth.Session {
	session, _ := ctx.Value(sessionContextKey).(*auth.Session)
	return session
}

// MustGetIdentity returns the authenticated identity or panics
func MustGetIdentity(ctx context.Context) *model.Identity {
	identity := GetIdentity(ctx)
	if identity == nil {
		panic("no identity in context - auth middleware not applied?")
	}
	return identity
}
