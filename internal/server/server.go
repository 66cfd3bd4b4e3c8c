package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/skredvarsel/garmin-web/internal/email"
	"github.com/skredvarsel/garmin-web/internal/garmin"
	"github.com/skredvarsel/garmin-web/internal/handler"
	"github.com/skredvarsel/garmin-web/internal/middleware"
	"github.com/skredvarsel/garmin-web/internal/store"
	"github.com/skredvarsel/garmin-web/internal/subscription"
	"github.com/skredvarsel/garmin-web/internal/varsom"
	"github.com/skredvarsel/garmin-web/internal/vipps"
)

type Server struct {
	db             *sql.DB
	userStore      *store.UserStore
	watchStore     *store.WatchStore
	agreementStore *store.AgreementStore
	sessionStore   *store.SessionStore
	subscriptions  *subscription.Service
	garminAuth     *garmin.Authenticator
	authH          *handler.AuthHandler
	subscriptionH  *handler.SubscriptionHandler
	watchH         *handler.WatchHandler
	warningsH      *handler.WarningsHandler
	rateLimiter    *middleware.RateLimiter
	logger         *slog.Logger
}

type Config struct {
	Vipps       vipps.Config
	BaseURL     string
	EmailClient *email.Client
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	userStore := store.NewUserStore(db)
	watchStore := store.NewWatchStore(db)
	agreementStore := store.NewAgreementStore(db)
	sessionStore := store.NewSessionStore(db)

	vippsClient := vipps.NewClient(cfg.Vipps)

	var notifier subscription.FailureNotifier
	if cfg.EmailClient != nil && cfg.EmailClient.Configured() {
		notifier = cfg.EmailClient
	}

	subscriptions := subscription.NewService(
		agreementStore,
		userStore,
		vippsClient,
		subscription.SystemClock(),
		notifier,
		logger.With("component", "subscription"),
	)

	garminAuth := garmin.NewAuthenticator(watchStore, subscriptions)
	varsomService := varsom.NewService()

	return &Server{
		db:             db,
		userStore:      userStore,
		watchStore:     watchStore,
		agreementStore: agreementStore,
		sessionStore:   sessionStore,
		subscriptions:  subscriptions,
		garminAuth:     garminAuth,
		authH:          handler.NewAuthHandler(userStore, sessionStore, cfg.EmailClient, logger.With("component", "auth")),
		subscriptionH:  handler.NewSubscriptionHandler(subscriptions, userStore, logger.With("component", "subscription")),
		watchH:         handler.NewWatchHandler(watchStore, logger.With("component", "watch")),
		warningsH:      handler.NewWarningsHandler(varsomService, logger.With("component", "warnings")),
		rateLimiter:    middleware.NewRateLimiter(10, time.Minute),
		logger:         logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Auth (public, rate-limited)
	mux.Handle("POST /api/auth/login", s.rateLimited(http.HandlerFunc(s.authH.Login)))
	mux.HandleFunc("GET /auth/verify", s.authH.Verify)
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)

	// Provider redirect / reconciliation trigger (public; Vipps calls it)
	mux.HandleFunc("GET /vipps-subscribe-callback", s.subscriptionH.Callback)

	// Watch-facing API, guarded by the Garmin agreement gate
	mux.Handle("GET /api/garmin/warnings", s.garminAuth.Middleware(http.HandlerFunc(s.warningsH.ByCoordinates)))

	// Subscription API (session required)
	authMw := middleware.RequireAuth(s.sessionStore)
	mux.Handle("GET /createSubscription", authMw(http.HandlerFunc(s.subscriptionH.Create)))
	mux.Handle("GET /api/subscription", authMw(http.HandlerFunc(s.subscriptionH.Status)))
	mux.Handle("DELETE /api/subscription", authMw(http.HandlerFunc(s.subscriptionH.Cancel)))
	mux.Handle("PUT /api/subscription/reactivate", authMw(http.HandlerFunc(s.subscriptionH.Reactivate)))

	// Watch pairing (session required)
	mux.Handle("POST /api/watches", authMw(http.HandlerFunc(s.watchH.Pair)))
	mux.Handle("GET /api/watches", authMw(http.HandlerFunc(s.watchH.List)))
	mux.Handle("DELETE /api/watches/{watchId}", authMw(http.HandlerFunc(s.watchH.Unpair)))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimited(h http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP)(h)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
