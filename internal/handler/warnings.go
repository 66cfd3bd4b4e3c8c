package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/skredvarsel/garmin-web/internal/varsom"
)

// WarningsHandler serves avalanche warnings to watches. The route is guarded
// by the Garmin authentication gate.
type WarningsHandler struct {
	varsom *varsom.Service
	logger *slog.Logger
}

func NewWarningsHandler(v *varsom.Service, logger *slog.Logger) *WarningsHandler {
	return &WarningsHandler{varsom: v, logger: logger}
}

func (h *WarningsHandler) ByCoordinates(w http.ResponseWriter, r *http.Request) {
	lat := r.URL.Query().Get("lat")
	lon := r.URL.Query().Get("lon")
	if lat == "" || lon == "" {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}

	warnings, err := h.varsom.WarningsByCoordinates(r.Context(), lat, lon)
	if err != nil {
		h.logger.Error("fetch warnings", "lat", lat, "lon", lon, "error", err)
		http.Error(w, "warnings unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(warnings)
}
