package middleware

import (
	"context"
	"net/http"

	"cartoonize/cartoon"
	"cartoonize/config"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

type contextKey string

const sessionKey contextKey = "cartoon_session"

// Sessions attaches the caller's cartoon.Session to the request context,
// creating one from the configured credentials on first contact.
func Sessions(reg *cartoon.Registry, store sessions.Store, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := store.Get(r, SessionName)
			if err != nil {
				logger.Debug().Err(err).Msg("session decode failed, starting a new one")
			}

			id, _ := cookie.Values[SessionIDKey].(string)
			sess, ok := reg.Get(id)
			if !ok {
				sess = reg.Create(config.Credentials{})
				if err := Bind(w, r, store, sess.ID); err != nil {
					logger.Error().Err(err).Msg("failed to save session")
					http.Error(w, "Could not save session", http.StatusInternalServerError)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// Bind points the cookie session at the server-side session id.
func Bind(w http.ResponseWriter, r *http.Request, store sessions.Store, id string) error {
	cookie, _ := store.Get(r, SessionName)
	cookie.Values[SessionIDKey] = id
	return cookie.Save(r, w)
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *cartoon.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFrom returns the session attached by Sessions.
func SessionFrom(ctx context.Context) (*cartoon.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*cartoon.Session)
	return sess, ok && sess != nil
}
