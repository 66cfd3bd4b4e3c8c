// Package garmin authorizes watch-facing API calls. A watch authenticates
// with only its unit id; the request is allowed when the watch's owner holds
// an active payment agreement.
package garmin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/skredvarsel/garmin-web/internal/store"
)

// authPrefix is the fixed scheme in the Authorization header:
// "Garmin <watchId>".
const authPrefix = "Garmin "

var (
	ErrMissingCredential   = errors.New("authorization header not found")
	ErrMalformedCredential = errors.New("credential is not a garmin watch token")
	ErrNoActiveAgreement   = errors.New("no active agreement for watch")
)

// AgreementChecker is the read-only capability query the gate depends on.
type AgreementChecker interface {
	HasActiveAgreement(userID int64) (bool, error)
}

type Authenticator struct {
	watches       *store.WatchStore
	subscriptions AgreementChecker
}

func NewAuthenticator(watches *store.WatchStore, subscriptions AgreementChecker) *Authenticator {
	return &Authenticator{watches: watches, subscriptions: subscriptions}
}

// Authenticate checks an Authorization header value and returns nil when the
// watch maps to a user with an active agreement. It never mutates agreement
// state; freshness comes from the reconciliation sweeps elsewhere.
func (a *Authenticator) Authenticate(header string) error {
	if header == "" {
		return ErrMissingCredential
	}

	watchID, ok := strings.CutPrefix(header, authPrefix)
	if !ok || watchID == "" {
		return ErrMalformedCredential
	}

	watch, err := a.watches.GetByID(watchID)
	if err != nil {
		return err
	}
	if watch == nil {
		return ErrNoActiveAgreement
	}

	active, err := a.subscriptions.HasActiveAgreement(watch.UserID)
	if err != nil {
		return err
	}
	if !active {
		return ErrNoActiveAgreement
	}
	return nil
}

// Middleware guards watch-facing endpoints with Authenticate.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := a.Authenticate(r.Header.Get("Authorization"))
		switch {
		case err == nil:
			next.ServeHTTP(w, r)
		case errors.Is(err, ErrMissingCredential),
			errors.Is(err, ErrMalformedCredential),
			errors.Is(err, ErrNoActiveAgreement):
			http.Error(w, err.Error(), http.StatusUnauthorized)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	})
}
