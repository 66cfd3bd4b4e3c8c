package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/skredvarsel/garmin-web/internal/model"
	"github.com/skredvarsel/garmin-web/internal/store"
)

type WatchHandler struct {
	watchStore *store.WatchStore
	logger     *slog.Logger
}

func NewWatchHandler(ws *store.WatchStore, logger *slog.Logger) *WatchHandler {
	return &WatchHandler{watchStore: ws, logger: logger}
}

// Pair registers a watch id for the logged-in user.
func (h *WatchHandler) Pair(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req struct {
		WatchID string `json:"watch_id"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WatchID == "" {
		http.Error(w, "watch_id is required", http.StatusBadRequest)
		return
	}

	watch, err := h.watchStore.Create(req.WatchID, userID, req.Name)
	if err != nil {
		h.logger.Error("pair watch", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(watch)
}

// List returns the logged-in user's paired watches.
func (h *WatchHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	watches, err := h.watchStore.ListByUserID(userID)
	if err != nil {
		h.logger.Error("list watches", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if watches == nil {
		watches = []*model.Watch{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(watches)
}

// Unpair removes one of the logged-in user's watches.
func (h *WatchHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	watchID := r.PathValue("watchId")

	if err := h.watchStore.Delete(watchID, userID); err != nil {
		h.logger.Error("unpair watch", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
