package vipps

import (
	"encoding/json"
	"strings"
)

// AgreementStatus is the provider-side state of an agreement. Statuses not
// recognized by this client decode to StatusUnknown so an untested provider
// state never triggers a local transition.
type AgreementStatus int

const (
	StatusUnknown AgreementStatus = iota
	StatusPending
	StatusActive
	StatusStopped
	StatusExpired
)

func (s AgreementStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusActive:
		return "ACTIVE"
	case StatusStopped:
		return "STOPPED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

func (s *AgreementStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.ToUpper(raw) {
	case "PENDING":
		*s = StatusPending
	case "ACTIVE":
		*s = StatusActive
	case "STOPPED":
		*s = StatusStopped
	case "EXPIRED":
		*s = StatusExpired
	default:
		*s = StatusUnknown
	}
	return nil
}

type Pricing struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

type Period struct {
	Unit  string `json:"unit"` // "YEAR", "MONTH", "WEEK", "DAY"
	Count int    `json:"count"`
}

type Campaign struct {
	Price  int    `json:"price"`
	Type   string `json:"type"`
	Period Period `json:"period"`
}

type InitialCharge struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

// DraftAgreementRequest is the payload for creating a recurring agreement.
type DraftAgreementRequest struct {
	PhoneNumber          string         `json:"phoneNumber,omitempty"`
	Pricing              Pricing        `json:"pricing"`
	Interval             Period         `json:"interval"`
	Campaign             *Campaign      `json:"campaign,omitempty"`
	InitialCharge        *InitialCharge `json:"initialCharge,omitempty"`
	ProductName          string         `json:"productName"`
	MerchantAgreementURL string         `json:"merchantAgreementUrl"`
	MerchantRedirectURL  string         `json:"merchantRedirectUrl"`
}

// CreatedAgreement is the provider's response to agreement creation. The
// confirmation URL is where the user approves the agreement.
type CreatedAgreement struct {
	AgreementID          string `json:"agreementId"`
	VippsConfirmationURL string `json:"vippsConfirmationUrl"`
	ChargeID             string `json:"chargeId"`
}

// Agreement is the provider's view of an existing agreement.
type Agreement struct {
	ID     string          `json:"id"`
	Status AgreementStatus `json:"status"`
}

type chargeStatus string

const (
	chargePending  chargeStatus = "PENDING"
	chargeDue      chargeStatus = "DUE"
	chargeReserved chargeStatus = "RESERVED"
)

// Charge identifies a single billing event on an agreement.
type Charge struct {
	ID     string       `json:"id"`
	Status chargeStatus `json:"status"`
	Due    string       `json:"due"` // "2006-01-02"
	Amount int          `json:"amount"`
}

// cancellable reports whether the charge has not yet been captured.
func (c Charge) cancellable() bool {
	switch c.Status {
	case chargePending, chargeDue, chargeReserved:
		return true
	}
	return false
}

type createChargeRequest struct {
	Amount          int    `json:"amount"`
	Description     string `json:"description"`
	Due             string `json:"due"`
	RetryDays       int    `json:"retryDays"`
	TransactionType string `json:"transactionType"`
}

type createChargeResponse struct {
	ChargeID string `json:"chargeId"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}
