package models

import (
	"time"
)

// OAuth provider identifiers
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string // NULL for OAuth-only users
	IsVerified   bool

	// OAuth identity triple, set only for OAuth-linked accounts.
	// (OAuthProvider, OAuthSubjectID) is globally unique when present.
	OAuthProvider  string
	OAuthSubjectID string
	OAuthEmail     string

	// One-time token hashes. Raw values are emailed once and never stored.
	VerificationTokenHash   string
	VerificationTokenExpiry *time.Time
	ResetTokenHash          string
	ResetTokenExpiry        *time.Time
	DeletionTokenHash       string
	DeletionTokenExpiry     *time.Time

	// Account deletion workflow
	DeletionRequestedAt  *time.Time
	DeletionConfirmedAt  *time.Time
	DeletionScheduledFor *time.Time
	IsDeleted            bool

	// Optional TOTP second factor
	TOTPSecretEnc   []byte
	TOTPSecretNonce []byte
	TOTPEnabled     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOAuthAccount reports whether the account authenticates through an
// external identity provider. OAuth accounts never accept password
// change or reset operations.
func (u *User) IsOAuthAccount() bool {
	return u.OAuthProvider != ""
}

// DeletionState is the derived sub-state of the account deletion machine:
// NotRequested -> Requested -> Confirmed -> {cancelled | PermanentlyDeleted}
type DeletionState string

const (
	DeletionNotRequested       DeletionState = "not_requested"
	DeletionRequested          DeletionState = "requested"
	DeletionConfirmed          DeletionState = "confirmed"
	DeletionPermanentlyDeleted DeletionState = "permanently_deleted"
)

// DeletionState derives the workflow state from the user's deletion fields.
func (u *User) DeletionState() DeletionState {
	switch {
	case u.IsDeleted:
		return DeletionPermanentlyDeleted
	case u.DeletionConfirmedAt != nil:
		return DeletionConfirmed
	case u.DeletionRequestedAt != nil:
		return DeletionRequested
	default:
		return DeletionNotRequested
	}
}

// DeletionStatus is the read-only projection returned by GetDeletionStatus.
// It carries no information that distinguishes unknown accounts from
// accounts with no pending request.
type DeletionStatus struct {
	Requested       bool       `json:"requested"`
	Confirmed       bool       `json:"confirmed"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	CanCancel       bool       `json:"can_cancel"`
	GracePeriodDays int        `json:"grace_period_days"`
}
