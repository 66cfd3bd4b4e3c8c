package middleware

import (
	"net/http"
	"strings"

	"github.com/skredvarsel/garmin-web/internal/handler"
	"github.com/skredvarsel/garmin-web/internal/store"
)

const sessionCookieName = "skredvarsel_session"

// RequireAuth validates the session cookie and puts the user id in the
// request context. Browser navigations bounce to the login page; API calls
// get a plain 401.
func RequireAuth(sessionStore *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				denyUnauthenticated(w, r)
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				denyUnauthenticated(w, r)
				return
			}

			ctx := handler.WithUserID(r.Context(), sess.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denyUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
