package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skredvarsel/garmin-web/internal/varsom"
)

func TestWarningsByCoordinates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"RegionName": "Jotunheimen", "DangerLevel": "3"}]`))
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWarningsHandler(varsom.NewService(varsom.WithBaseURL(upstream.URL)), logger)

	rec := httptest.NewRecorder()
	h.ByCoordinates(rec, httptest.NewRequest(http.MethodGet, "/api/garmin/warnings?lat=61.5&lon=8.3", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var warnings []varsom.Warning
	if err := json.NewDecoder(rec.Body).Decode(&warnings); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(warnings) != 1 || warnings[0].RegionName != "Jotunheimen" {
		t.Errorf("warnings = %+v", warnings)
	}
}

func TestWarningsRequireCoordinates(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWarningsHandler(varsom.NewService(), logger)

	rec := httptest.NewRecorder()
	h.ByCoordinates(rec, httptest.NewRequest(http.MethodGet, "/api/garmin/warnings?lat=61.5", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWarningsUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWarningsHandler(varsom.NewService(varsom.WithBaseURL(upstream.URL)), logger)

	rec := httptest.NewRecorder()
	h.ByCoordinates(rec, httptest.NewRequest(http.MethodGet, "/api/garmin/warnings?lat=61.5&lon=8.3", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
