package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/emberblog/identity/internal/config"
)

// sessionContextKey is the context key for the session.
type sessionContextKey struct{}

// SessionName is the name of the session cookie.
const SessionName = "identity-session"

// Session data keys.
const (
	// SessionKeyAccountID holds the logged-in local account id.
	SessionKeyAccountID = "account_id"
	// SessionKeyRetried marks that one token-exchange retry redirect was
	// already issued, bounding the retry loop.
	SessionKeyRetried = "oauth_retried"
)

// SessionMaxAge is the maximum age of a session cookie (24 hours).
const SessionMaxAge = 86400

// NewSessionStore creates a new session store based on configuration.
func NewSessionStore(cfg *config.Config) (sessions.Store, error) {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   SessionMaxAge,
		HttpOnly: true,
		Secure:   cfg.SessionSecureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	return store, nil
}

// Session returns a middleware that manages sessions.
func Session(store sessions.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, _ := store.Get(r, SessionName)
			ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession retrieves the session from the request context.
func GetSession(r *http.Request) *sessions.Session {
	session, ok := r.Context().Value(sessionContextKey{}).(*sessions.Session)
	if !ok {
		return nil
	}
	return session
}

// SaveSession saves the session to the response.
func SaveSession(r *http.Request, w http.ResponseWriter) error {
	session := GetSession(r)
	if session == nil {
		return nil
	}
	return session.Save(r, w)
}
