package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/skredvarsel/garmin-web/internal/model"
	"github.com/skredvarsel/garmin-web/internal/store"
	"github.com/skredvarsel/garmin-web/internal/subscription"
	"github.com/skredvarsel/garmin-web/internal/vipps"
)

type SubscriptionHandler struct {
	subscriptions *subscription.Service
	userStore     *store.UserStore
	logger        *slog.Logger
}

func NewSubscriptionHandler(subscriptions *subscription.Service, userStore *store.UserStore, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		userStore:     userStore,
		logger:        logger,
	}
}

type subscriptionResponse struct {
	Status          model.AgreementStatus `json:"status"`
	NextChargeDate  string                `json:"next_charge_date"`
	ConfirmationURL *string               `json:"confirmation_url,omitempty"`
}

// Create starts the checkout flow and redirects the user: to the provider's
// confirmation page for a fresh or still-pending agreement, or to the account
// page when the user already subscribes.
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	baseURL := requestBaseURL(r)
	redirectURL, err := h.subscriptions.CreateSubscription(r.Context(), user, baseURL)
	if err != nil {
		var apiErr *vipps.APIError
		if errors.As(err, &apiErr) && apiErr.ClientError() {
			http.Error(w, apiErr.Body, http.StatusBadRequest)
			return
		}
		h.logger.Error("create subscription", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// Callback is invoked by the provider's redirect after checkout and doubles
// as the reconciliation trigger: refresh pending agreements, renew due
// charges, then send the user on to their account page.
func (h *SubscriptionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := h.subscriptions.ReconcileAndCharge(r.Context()); err != nil {
		// The user still lands on their account page; renewal failures
		// are retried on the next sweep.
		h.logger.Error("callback sweep", "error", err)
	}
	http.Redirect(w, r, "/minSide?subscribed", http.StatusFound)
}

// Status returns the user's current subscription, reconciling a pending
// agreement with the provider on the way. 204 when the user has none.
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	agreement, err := h.subscriptions.GetSubscription(r.Context(), userID)
	if err != nil {
		h.logger.Error("get subscription", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if agreement == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := subscriptionResponse{
		Status:          agreement.Status,
		NextChargeDate:  agreement.NextChargeDate.Format("2006-01-02"),
		ConfirmationURL: agreement.ConfirmationURL,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Cancel unsubscribes the user's active agreement.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	err := h.subscriptions.Deactivate(r.Context(), userID)
	if errors.Is(err, subscription.ErrNoSubscription) {
		http.Error(w, "No subscription found.", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("cancel subscription", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Reactivate resumes billing on the user's unsubscribed agreement.
func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	err := h.subscriptions.Reactivate(r.Context(), userID)
	switch {
	case errors.Is(err, subscription.ErrNoSubscription):
		http.Error(w, "No subscription found.", http.StatusBadRequest)
	case errors.Is(err, subscription.ErrNotResumable):
		http.Error(w, "Subscription can no longer be resumed.", http.StatusBadRequest)
	case err != nil:
		h.logger.Error("reactivate subscription", "user_id", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *SubscriptionHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID := UserIDFromContext(r.Context())
	user, err := h.userStore.GetByID(userID)
	if err != nil || user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return user, true
}

func requestBaseURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}
