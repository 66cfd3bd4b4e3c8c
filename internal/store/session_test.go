package store

import (
	"testing"

	"github.com/skredvarsel/garmin-web/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionCreateAndGetByToken(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("ola@example.com", "")
	sess, err := ss.Create(u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(sess.Token))
	}

	got, err := ss.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.UserID != u.ID {
		t.Errorf("session = %v", got)
	}
}

func TestSessionGetByTokenUnknown(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetByToken("nope")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for unknown token")
	}
}

func TestSessionDelete(t *testing.T) {
	ss, us := setupSessionTestDB(t)

	u, _ := us.Create("ola@example.com", "")
	sess, _ := ss.Create(u.ID)

	if err := ss.Delete(sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := ss.GetByToken(sess.Token); got != nil {
		t.Error("expected nil after delete")
	}
}
