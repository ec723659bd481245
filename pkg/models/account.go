package models

import (
	"database/sql"
	"time"
)

// SessionStatus is the last known state of an account's Telegram session.
type SessionStatus string

const (
	SessionUnknown        SessionStatus = "unknown"
	SessionLoggingIn      SessionStatus = "logging_in"
	SessionCodeSent       SessionStatus = "phone_code_sent"
	SessionPasswordNeeded SessionStatus = "password_needed"
	SessionActive         SessionStatus = "active"
	SessionFailed         SessionStatus = "failed"
	SessionError          SessionStatus = "error"
)

// Account represents a Telegram user account used to read sources and
// deliver to targets. The session manager owns the login fields; everything
// else only reads them.
type Account struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`         // Friendly label
	PhoneNumber string `db:"phone_number"` // International format, unique
	APIID       int    `db:"api_id"`
	APIHash     string `db:"api_hash"`
	IsActive    bool   `db:"is_active"`

	Status    SessionStatus `db:"session_status"`
	LastError string        `db:"last_error"`

	// Login flow fields, set only while status is phone_code_sent or
	// password_needed.
	PendingPhone  string `db:"pending_phone"`
	PhoneCodeHash string `db:"phone_code_hash"`

	// Encrypted MTProto session blob.
	SessionBlob []byte `db:"session_blob"`

	LastCheckAt sql.NullTime `db:"last_check_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// HasCredentials reports whether the account is configured for login.
func (a *Account) HasCredentials() bool {
	return a.APIID != 0 && a.APIHash != ""
}

// DisplayName returns the label with the phone number.
func (a *Account) DisplayName() string {
	return a.Name + " (" + a.PhoneNumber + ")"
}
