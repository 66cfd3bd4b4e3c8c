package varsom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestWarningsByCoordinates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.Contains(r.URL.Path, "/AvalancheWarningByCoordinates/Simple/61.5/8.3/1/") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"RegionName": "Jotunheimen", "DangerLevel": "3", "MainText": "Considerable avalanche danger."},
			{"RegionName": "Jotunheimen", "DangerLevel": "2", "MainText": "Moderate avalanche danger."}
		]`))
	}))
	defer srv.Close()

	svc := NewService(WithBaseURL(srv.URL))
	warnings, err := svc.WarningsByCoordinates(context.Background(), "61.5", "8.3")
	if err != nil {
		t.Fatalf("warnings: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("len = %d, want 2", len(warnings))
	}
	if warnings[0].RegionName != "Jotunheimen" || warnings[0].DangerLevel != "3" {
		t.Errorf("warnings[0] = %+v", warnings[0])
	}
}

func TestWarningsCachedPerLocation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`[{"RegionName": "Jotunheimen", "DangerLevel": "2"}]`))
	}))
	defer srv.Close()

	svc := NewService(WithBaseURL(srv.URL))
	for range 3 {
		if _, err := svc.WarningsByCoordinates(context.Background(), "61.5", "8.3"); err != nil {
			t.Fatalf("warnings: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 for a repeated location", calls.Load())
	}

	// A different location is its own cache entry.
	if _, err := svc.WarningsByCoordinates(context.Background(), "69.6", "18.9"); err != nil {
		t.Fatalf("warnings: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream calls = %d, want 2 after a new location", calls.Load())
	}
}

func TestWarningsUpstreamFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"RegionName": "Lyngen", "DangerLevel": "4"}]`))
	}))
	defer srv.Close()

	svc := NewService(WithBaseURL(srv.URL))
	if _, err := svc.WarningsByCoordinates(context.Background(), "69.6", "19.9"); err == nil {
		t.Fatal("expected error from unavailable upstream")
	}

	warnings, err := svc.WarningsByCoordinates(context.Background(), "69.6", "19.9")
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(warnings) != 1 || warnings[0].DangerLevel != "4" {
		t.Errorf("warnings = %+v", warnings)
	}
}
