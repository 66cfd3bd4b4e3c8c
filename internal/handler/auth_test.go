package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skredvarsel/garmin-web/internal/database"
	"github.com/skredvarsel/garmin-web/internal/store"
)

func setupAuthHandler(t *testing.T) (*AuthHandler, *store.UserStore, *store.SessionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	sessions := store.NewSessionStore(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthHandler(users, sessions, nil, logger), users, sessions
}

func TestLoginCreatesUserAndSession(t *testing.T) {
	h, users, _ := setupAuthHandler(t)

	body := strings.NewReader(`{"email": "ola@example.com", "phone_number": "4712345678"}`)
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "sent" {
		t.Errorf("response = %v", resp)
	}

	u, err := users.GetByEmail("ola@example.com")
	if err != nil || u == nil {
		t.Fatalf("user not created: %v", err)
	}
	if u.PhoneNumber != "4712345678" {
		t.Errorf("phone = %q", u.PhoneNumber)
	}
}

func TestLoginExistingUserSameResponse(t *testing.T) {
	h, users, _ := setupAuthHandler(t)
	if _, err := users.Create("ola@example.com", ""); err != nil {
		t.Fatalf("create user: %v", err)
	}

	body := strings.NewReader(`{"email": "ola@example.com"}`)
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLoginRequiresEmail(t *testing.T) {
	h, _, _ := setupAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestVerifySetsSessionCookie(t *testing.T) {
	h, users, sessions := setupAuthHandler(t)
	u, _ := users.Create("ola@example.com", "")
	sess, err := sessions.Create(u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/auth/verify?token="+sess.Token, nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/minSide" {
		t.Errorf("Location = %q", loc)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != sess.Token {
		t.Fatalf("session cookie not set: %v", cookie)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be http-only")
	}
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	h, _, _ := setupAuthHandler(t)

	rec := httptest.NewRecorder()
	h.Verify(rec, httptest.NewRequest(http.MethodGet, "/auth/verify?token=bogus", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	h, users, sessions := setupAuthHandler(t)
	u, _ := users.Create("ola@example.com", "")
	sess, _ := sessions.Create(u.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, _ := sessions.GetByToken(sess.Token); got != nil {
		t.Error("session should be deleted")
	}
}
