package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skredvarsel/garmin-web/internal/model"
	"github.com/skredvarsel/garmin-web/internal/store"
	"github.com/skredvarsel/garmin-web/internal/vipps"
)

const (
	// Prices are in øre. New customers pay a one-month campaign price up
	// front; everyone pays the full yearly price after that.
	fullPrice     = 3000
	campaignPrice = 100

	productName = "Skredvarsel for Garmin"

	// renewalConcurrency bounds the due-sweep fan-out.
	renewalConcurrency = 5
)

// ErrNoSubscription is returned when an operation targets a subscription the
// user does not have.
var ErrNoSubscription = errors.New("no subscription found")

// ErrNotResumable is returned when reactivation finds the provider-side
// agreement no longer active.
var ErrNotResumable = errors.New("agreement is no longer active with the payment provider")

// PaymentClient is the outbound interface to the payment provider.
type PaymentClient interface {
	CreateAgreement(ctx context.Context, req vipps.DraftAgreementRequest, idempotencyKey string) (vipps.CreatedAgreement, error)
	GetAgreement(ctx context.Context, agreementID string) (vipps.Agreement, error)
	CancelAgreement(ctx context.Context, agreementID string) error
	RenewCharge(ctx context.Context, agreementID string, amount int, description string, due time.Time) (vipps.Charge, error)
}

// FailureNotifier is told about charge renewals that failed, so someone can
// follow up with the customer.
type FailureNotifier interface {
	SendChargeFailure(email, agreementID string) error
}

// Service owns the agreement state machine. All agreement mutations go
// through here; handlers only read.
type Service struct {
	agreements *store.AgreementStore
	users      *store.UserStore
	payments   PaymentClient
	clock      Clock
	notifier   FailureNotifier
	logger     *slog.Logger
}

func NewService(
	agreements *store.AgreementStore,
	users *store.UserStore,
	payments PaymentClient,
	clock Clock,
	notifier FailureNotifier,
	logger *slog.Logger,
) *Service {
	return &Service{
		agreements: agreements,
		users:      users,
		payments:   payments,
		clock:      clock,
		notifier:   notifier,
		logger:     logger,
	}
}

// CreateSubscription starts a new agreement for the user and returns the URL
// the user should be redirected to. An existing ACTIVE agreement redirects to
// the account page and an existing PENDING agreement redirects to its
// original confirmation URL, so repeated checkouts never create duplicates.
func (s *Service) CreateSubscription(ctx context.Context, user *model.User, baseURL string) (string, error) {
	existing, err := s.agreements.ListByUserID(user.ID)
	if err != nil {
		return "", err
	}

	for _, a := range existing {
		if a.Status == model.AgreementActive {
			return baseURL + "/minSide", nil
		}
	}
	for _, a := range existing {
		if a.Status == model.AgreementPending && a.ConfirmationURL != nil {
			return *a.ConfirmationURL, nil
		}
	}

	isNewCustomer := len(existing) == 0

	req := vipps.DraftAgreementRequest{
		PhoneNumber: user.PhoneNumber,
		Pricing:     vipps.Pricing{Amount: fullPrice, Currency: "NOK"},
		Interval:    vipps.Period{Unit: "YEAR", Count: 1},
		InitialCharge: &vipps.InitialCharge{
			Amount:      fullPrice,
			Description: productName,
		},
		ProductName:          productName,
		MerchantAgreementURL: "https://skredvarsel.app/minSide",
		MerchantRedirectURL:  baseURL + "/vipps-subscribe-callback",
	}
	if isNewCustomer {
		req.Campaign = &vipps.Campaign{
			Price:  campaignPrice,
			Type:   "PERIOD_CAMPAIGN",
			Period: vipps.Period{Unit: "MONTH", Count: 1},
		}
		req.InitialCharge = &vipps.InitialCharge{
			Amount:      campaignPrice,
			Description: "Første måned",
		}
	}

	created, err := s.payments.CreateAgreement(ctx, req, uuid.NewString())
	if err != nil {
		return "", err
	}

	today := dateOf(s.clock.Now())
	agreement := &model.Agreement{
		ID:              created.AgreementID,
		UserID:          user.ID,
		Status:          model.AgreementPending,
		ConfirmationURL: &created.VippsConfirmationURL,
		Created:         s.clock.Now().UTC(),
		Start:           today,
		NextChargeID:    &created.ChargeID,
		NextChargeDate:  today,
	}
	if err := s.agreements.Create(agreement); err != nil {
		return "", err
	}

	s.logger.Info("agreement created", "agreement_id", agreement.ID, "user_id", user.ID, "new_customer", isNewCustomer)
	return created.VippsConfirmationURL, nil
}

// GetSubscription returns the user's latest agreement, reconciling it with
// the provider first if it is still PENDING. Returns nil when the user has
// no agreement, including when a pending one turns out to have been stopped.
func (s *Service) GetSubscription(ctx context.Context, userID int64) (*model.Agreement, error) {
	agreement, err := s.agreements.GetLatestByUserID(userID)
	if err != nil {
		return nil, err
	}
	if agreement == nil {
		return nil, nil
	}

	if agreement.Status == model.AgreementPending {
		remote, err := s.payments.GetAgreement(ctx, agreement.ID)
		if err != nil {
			return nil, err
		}
		switch remote.Status {
		case vipps.StatusActive:
			if _, err := s.agreements.SetActive(agreement.ID); err != nil {
				return nil, err
			}
			return s.agreements.GetByID(agreement.ID)
		case vipps.StatusStopped:
			// Abandoned checkout: the agreement never existed as far as
			// the product is concerned.
			if err := s.agreements.Delete(agreement.ID); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	return agreement, nil
}

// Reconcile refreshes every locally PENDING agreement from the provider and
// commits all resulting transitions in one transaction. A provider failure on
// one agreement skips it and moves on; it will be retried on the next pass.
func (s *Service) Reconcile(ctx context.Context) error {
	pending, err := s.agreements.ListPending()
	if err != nil {
		return err
	}

	statuses := make(map[string]vipps.AgreementStatus, len(pending))
	for _, a := range pending {
		remote, err := s.payments.GetAgreement(ctx, a.ID)
		if err != nil {
			s.logger.Warn("reconcile: provider lookup failed", "agreement_id", a.ID, "error", err)
			continue
		}
		statuses[a.ID] = remote.Status
	}

	decisions := decide(pending, statuses)
	if len(decisions) == 0 {
		return nil
	}

	if err := s.agreements.ApplyReconciliation(decisions); err != nil {
		return err
	}

	for _, d := range decisions {
		switch d.Action {
		case store.ReconcileActivate:
			s.logger.Info("agreement activated", "agreement_id", d.AgreementID)
		case store.ReconcileDelete:
			s.logger.Info("abandoned agreement removed", "agreement_id", d.AgreementID)
		}
	}
	return nil
}

// decide maps provider statuses onto state-machine transitions. Statuses
// other than active and stopped, including ones this code has never seen,
// produce no transition.
func decide(pending []*model.Agreement, statuses map[string]vipps.AgreementStatus) []store.ReconcileDecision {
	var decisions []store.ReconcileDecision
	for _, a := range pending {
		status, ok := statuses[a.ID]
		if !ok {
			continue
		}
		switch status {
		case vipps.StatusActive:
			decisions = append(decisions, store.ReconcileDecision{AgreementID: a.ID, Action: store.ReconcileActivate})
		case vipps.StatusStopped:
			decisions = append(decisions, store.ReconcileDecision{AgreementID: a.ID, Action: store.ReconcileDelete})
		}
	}
	return decisions
}

// ChargeDueAgreements renews the charge of every ACTIVE agreement whose next
// charge date has arrived. Renewals run concurrently and independently; one
// agreement's failure never blocks another's. The returned error aggregates
// the individual failures.
func (s *Service) ChargeDueAgreements(ctx context.Context) error {
	due, err := s.agreements.ListDue(dateOf(s.clock.Now()))
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var mu sync.Mutex
	var failures []error

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(renewalConcurrency)
	for _, agreement := range due {
		g.Go(func() error {
			if err := s.renewAgreementCharge(ctx, agreement); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("agreement %s: %w", agreement.ID, err))
				mu.Unlock()
			}
			// Errors are captured, not returned, so the group never
			// cancels the remaining renewals.
			return nil
		})
	}
	g.Wait()

	return errors.Join(failures...)
}

func (s *Service) renewAgreementCharge(ctx context.Context, agreement *model.Agreement) error {
	nextDue := agreement.NextChargeDate.AddDate(1, 0, 0)
	charge, err := s.payments.RenewCharge(ctx, agreement.ID, fullPrice, productName, nextDue)
	if err != nil {
		s.logger.Error("charge renewal failed", "agreement_id", agreement.ID, "error", err)
		s.notifyChargeFailure(agreement)
		return err
	}

	if err := s.agreements.UpdateNextCharge(agreement.ID, charge.ID, nextDue); err != nil {
		return err
	}

	s.logger.Info("charge renewed", "agreement_id", agreement.ID, "next_charge_date", nextDue.Format("2006-01-02"))
	return nil
}

func (s *Service) notifyChargeFailure(agreement *model.Agreement) {
	if s.notifier == nil {
		return
	}
	user, err := s.users.GetByID(agreement.UserID)
	if err != nil || user == nil {
		return
	}
	if err := s.notifier.SendChargeFailure(user.Email, agreement.ID); err != nil {
		s.logger.Warn("charge failure notice not sent", "agreement_id", agreement.ID, "error", err)
	}
}

// ReconcileAndCharge is the callback-triggered sweep: refresh pending
// agreements, then renew whatever became due. Reconciliation failures abort
// the sweep; renewal failures are aggregated and reported.
func (s *Service) ReconcileAndCharge(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	return s.ChargeDueAgreements(ctx)
}

// Deactivate cancels the user's ACTIVE agreement with the provider, then
// marks it UNSUBSCRIBED. An already unsubscribed agreement is reported as
// ErrNoSubscription without another provider call.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	agreement, err := s.agreements.GetByUserIDAndStatus(userID, model.AgreementActive)
	if err != nil {
		return err
	}
	if agreement == nil {
		return ErrNoSubscription
	}

	if err := s.payments.CancelAgreement(ctx, agreement.ID); err != nil {
		return err
	}

	if _, err := s.agreements.SetUnsubscribed(agreement.ID); err != nil {
		return err
	}

	s.logger.Info("agreement unsubscribed", "agreement_id", agreement.ID, "user_id", userID)
	return nil
}

// Reactivate resumes billing on the user's UNSUBSCRIBED agreement. The
// provider must still consider the agreement active; if so a fresh charge is
// created and the local status returns to ACTIVE.
func (s *Service) Reactivate(ctx context.Context, userID int64) error {
	agreement, err := s.agreements.GetByUserIDAndStatus(userID, model.AgreementUnsubscribed)
	if err != nil {
		return err
	}
	if agreement == nil {
		return ErrNoSubscription
	}

	remote, err := s.payments.GetAgreement(ctx, agreement.ID)
	if err != nil {
		return err
	}
	if remote.Status != vipps.StatusActive {
		return ErrNotResumable
	}

	// Vipps needs a couple of days of lead time before it can capture a
	// charge, so an overdue next-charge date is pushed forward.
	due := agreement.NextChargeDate
	if earliest := dateOf(s.clock.Now()).AddDate(0, 0, 2); due.Before(earliest) {
		due = earliest
	}

	charge, err := s.payments.RenewCharge(ctx, agreement.ID, fullPrice, productName, due)
	if err != nil {
		return err
	}

	if _, err := s.agreements.SetReactivated(agreement.ID, charge.ID, due); err != nil {
		return err
	}

	s.logger.Info("agreement reactivated", "agreement_id", agreement.ID, "user_id", userID)
	return nil
}

// HasActiveAgreement reports whether the user currently holds an ACTIVE
// agreement. Read-only; used by the watch authentication gate.
func (s *Service) HasActiveAgreement(userID int64) (bool, error) {
	agreement, err := s.agreements.GetByUserIDAndStatus(userID, model.AgreementActive)
	if err != nil {
		return false, err
	}
	return agreement != nil, nil
}
