// Package varsom fetches avalanche warnings from the NVE forecast API and
// caches them per location, since watches poll far more often than forecasts
// change.
package varsom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api01.nve.no/hydrology/forecast/avalanche/v6.3.0/api"
	cacheTTL       = 30 * time.Minute
)

// Warning is one day's avalanche warning for a region.
type Warning struct {
	RegionName  string `json:"RegionName"`
	DangerLevel string `json:"DangerLevel"`
	ValidFrom   string `json:"ValidFrom"`
	ValidTo     string `json:"ValidTo"`
	MainText    string `json:"MainText"`
}

type cacheEntry struct {
	warnings  []Warning
	fetchedAt time.Time
}

// Service fetches and caches avalanche warnings by coordinate.
type Service struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type Option func(*Service)

func WithBaseURL(url string) Option {
	return func(s *Service) {
		s.baseURL = url
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WarningsByCoordinates returns today's and tomorrow's warnings for a
// location, from cache when fresh.
func (s *Service) WarningsByCoordinates(ctx context.Context, lat, lon string) ([]Warning, error) {
	key := lat + "," + lon

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		s.mu.Unlock()
		return entry.warnings, nil
	}
	s.mu.Unlock()

	warnings, err := s.fetch(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{warnings: warnings, fetchedAt: time.Now()}
	s.mu.Unlock()

	return warnings, nil
}

func (s *Service) fetch(ctx context.Context, lat, lon string) ([]Warning, error) {
	start := time.Now().Format("2006-01-02")
	end := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	url := fmt.Sprintf(
		"%s/AvalancheWarningByCoordinates/Simple/%s/%s/1/%s/%s",
		s.baseURL, lat, lon, start, end,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create warnings request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warnings request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("warnings API: status %d", resp.StatusCode)
	}

	var warnings []Warning
	if err := json.NewDecoder(resp.Body).Decode(&warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return warnings, nil
}
