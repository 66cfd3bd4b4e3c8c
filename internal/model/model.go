package model

import "time"

// AgreementStatus is the locally stored lifecycle state of a payment agreement.
// Provider-side states are mapped onto these by the subscription service;
// agreements stopped before activation are deleted rather than stored.
type AgreementStatus string

const (
	AgreementPending      AgreementStatus = "PENDING"
	AgreementActive       AgreementStatus = "ACTIVE"
	AgreementUnsubscribed AgreementStatus = "UNSUBSCRIBED"
)

type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Watch maps a Garmin unit id to the user who paired it.
type Watch struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Agreement is the local record of a recurring-payment agreement in Vipps.
// The id is assigned by Vipps at creation and is the join key between local
// and provider state.
type Agreement struct {
	ID              string          `json:"id"`
	UserID          int64           `json:"user_id"`
	Status          AgreementStatus `json:"status"`
	ConfirmationURL *string         `json:"confirmation_url,omitempty"`
	Created         time.Time       `json:"created"`
	Start           time.Time       `json:"start"`
	NextChargeID    *string         `json:"next_charge_id,omitempty"`
	NextChargeDate  time.Time       `json:"next_charge_date"`
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
