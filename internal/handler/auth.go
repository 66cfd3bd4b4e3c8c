package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/skredvarsel/garmin-web/internal/email"
	"github.com/skredvarsel/garmin-web/internal/store"
)

const sessionCookieName = "skredvarsel_session"

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	emailClient  *email.Client
	logger       *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ss *store.SessionStore, ec *email.Client, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		emailClient:  ec,
		logger:       logger,
	}
}

// Login handles a magic-link request. The response is the same whether the
// email is known or not, to avoid user enumeration.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("get user", "error", err)
	}
	if user == nil {
		user, err = h.userStore.Create(req.Email, req.PhoneNumber)
		if err != nil {
			h.logger.Error("create user", "error", err)
			http.Error(w, "unable to process request", http.StatusInternalServerError)
			return
		}
	}

	sess, err := h.sessionStore.Create(user.ID)
	if err != nil {
		h.logger.Error("create session", "error", err)
		http.Error(w, "unable to process request", http.StatusInternalServerError)
		return
	}

	if h.emailClient != nil && h.emailClient.Configured() {
		if err := h.emailClient.SendMagicLink(req.Email, sess.Token); err != nil {
			h.logger.Error("send magic link", "error", err)
		}
	} else {
		h.logger.Info("magic link token generated", "email", req.Email, "token", sess.Token)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent"})
}

// Verify processes the magic link token and sets the session cookie.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "invalid or expired link", http.StatusBadRequest)
		return
	}

	sess, err := h.sessionStore.GetByToken(token)
	if err != nil || sess == nil {
		http.Error(w, "invalid or expired link", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   90 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/minSide", http.StatusSeeOther)
}

// Logout destroys the session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		sess, err := h.sessionStore.GetByToken(cookie.Value)
		if err == nil && sess != nil {
			h.sessionStore.Delete(sess.ID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	w.WriteHeader(http.StatusOK)
}
