package store

import (
	"database/sql"
	"fmt"

	"github.com/skredvarsel/garmin-web/internal/model"
)

type WatchStore struct {
	db *sql.DB
}

func NewWatchStore(db *sql.DB) *WatchStore {
	return &WatchStore{db: db}
}

const watchCols = `id, user_id, name, created_at`

func scanWatch(scanner interface{ Scan(...any) error }) (*model.Watch, error) {
	var w model.Watch
	err := scanner.Scan(&w.ID, &w.UserID, &w.Name, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create pairs a watch with a user. Re-pairing an already known watch moves
// it to the new user.
func (s *WatchStore) Create(watchID string, userID int64, name string) (*model.Watch, error) {
	_, err := s.db.Exec(
		`INSERT INTO watches (id, user_id, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, name = excluded.name`,
		watchID, userID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert watch: %w", err)
	}
	return s.GetByID(watchID)
}

func (s *WatchStore) GetByID(watchID string) (*model.Watch, error) {
	row := s.db.QueryRow(`SELECT `+watchCols+` FROM watches WHERE id = ?`, watchID)
	w, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watch: %w", err)
	}
	return w, nil
}

func (s *WatchStore) ListByUserID(userID int64) ([]*model.Watch, error) {
	rows, err := s.db.Query(`SELECT `+watchCols+` FROM watches WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list watches by user: %w", err)
	}
	defer rows.Close()

	var watches []*model.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch: %w", err)
		}
		watches = append(watches, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watches: %w", err)
	}
	return watches, nil
}

// Delete removes a watch pairing. Scoped by user so one user cannot unpair
// another user's watch.
func (s *WatchStore) Delete(watchID string, userID int64) error {
	_, err := s.db.Exec(`DELETE FROM watches WHERE id = ? AND user_id = ?`, watchID, userID)
	if err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}
	return nil
}
