package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

const (
	// SessionName is the key for the cookie session.
	SessionName = "cartoonize-session"
	// UserSessionKey is the key used to store the authenticated status in the session.
	UserSessionKey = "authenticated"
	// SessionIDKey is the key holding the id of the server-side session.
	SessionIDKey = "sid"
)

// NewStore creates the cookie store. The cookie carries only the session id
// and the authenticated flag; credentials stay on the server.
func NewStore(secret string, insecure bool, logger zerolog.Logger) *sessions.CookieStore {
	if insecure {
		logger.Warn().Msg("SESSION_SECRET is not set or is the default. Using a default, insecure key. Please set a strong secret in your .env file for production.")
	}
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   false, // Set to true if using HTTPS
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// WebAuth protects routes with the web password. An empty password disables
// authentication. Unauthenticated API calls get 401, pages are redirected to
// the login form.
func WebAuth(password string, store sessions.Store, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := store.Get(r, SessionName)
			if err != nil {
				// This could happen if the cookie secret changes.
				logger.Debug().Err(err).Msg("session decode failed, forcing login")
			}
			if auth, ok := session.Values[UserSessionKey].(bool); ok && auth {
				next.ServeHTTP(w, r)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/api/") {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
		})
	}
}

// Login checks the submitted password and marks the cookie session as
// authenticated.
func Login(password string, store sessions.Store, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.FormValue("password")
		if password == "" || subtle.ConstantTimeCompare([]byte(given), []byte(password)) != 1 {
			logger.Info().Str("remote", r.RemoteAddr).Msg("login rejected")
			http.Error(w, "Invalid password", http.StatusUnauthorized)
			return
		}

		session, _ := store.Get(r, SessionName)
		session.Values[UserSessionKey] = true
		if err := session.Save(r, w); err != nil {
			logger.Error().Err(err).Msg("failed to save session")
			http.Error(w, "Could not save session", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	}
}
