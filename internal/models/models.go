package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Donation is one confirmed monetary contribution. PaymentID is the
// MercadoPago payment identifier and must be unique when present.
type Donation struct {
	ID         uuid.UUID       `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Anonymous  bool            `json:"anonymous"`
	DonorName  *string         `json:"donor_name,omitempty"`
	DonorEmail *string         `json:"donor_email,omitempty"`
	Phone      *string         `json:"phone,omitempty"`
	Frequency  string          `json:"frequency"`
	PaymentID  *string         `json:"payment_id,omitempty"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// User is one donor account, deduplicated by email (case-insensitive).
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Name      *string   `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials holds the MercadoPago tokens obtained through the OAuth
// connect flow. At most one row exists; the env access token is the
// fallback when it is absent.
type Credentials struct {
	ID           uuid.UUID  `json:"id"`
	AccessToken  string     `json:"-"`
	RefreshToken *string    `json:"-"`
	MPUserID     *string    `json:"mp_user_id,omitempty"`
	PublicKey    *string    `json:"public_key,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NotificationRecord journals a received payment notification so the
// reconciliation sweep can retry resolver failures that MercadoPago will
// not redeliver.
type NotificationRecord struct {
	PaymentID string    `json:"payment_id"`
	Kind      string    `json:"kind"`
	Processed bool      `json:"processed"`
	Attempts  int       `json:"attempts"`
	LastError *string   `json:"last_error,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}
