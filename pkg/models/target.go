package models

import (
	"database/sql"
	"errors"
	"time"
)

// TargetType distinguishes delivery destinations.
type TargetType string

const (
	TargetTelegram TargetType = "telegram"
	TargetEmail    TargetType = "email"
)

// ErrInvalidTarget is returned when a target's fields do not match its type.
var ErrInvalidTarget = errors.New("invalid target")

// Target is a delivery destination: a Telegram channel reached through one
// of the managed accounts, or a plain email address.
type Target struct {
	ID   int64      `db:"id"`
	Name string     `db:"name"`
	Type TargetType `db:"target_type"`

	// Telegram target fields.
	AccountID         sql.NullInt64 `db:"account_id"`
	ChannelIdentifier string        `db:"channel_identifier"`

	// Email target fields.
	EmailAddress string `db:"email_address"`

	IsActive bool `db:"is_active"`

	// Channel metadata, populated after successful validation of a
	// Telegram target. Unused for email targets.
	ChannelID  int64  `db:"channel_id"`
	AccessHash int64  `db:"access_hash"`
	Username   string `db:"username"`
	Title      string `db:"title"`

	LastValidatedAt  sql.NullTime     `db:"last_validated_at"`
	ValidationStatus ValidationStatus `db:"validation_status"`
	ValidationError  string           `db:"validation_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Validate enforces the mutually exclusive field sets per target type.
func (t *Target) Validate() error {
	switch t.Type {
	case TargetTelegram:
		if !t.AccountID.Valid {
			return errors.Join(ErrInvalidTarget, errors.New("account is required for telegram targets"))
		}
		if t.ChannelIdentifier == "" {
			return errors.Join(ErrInvalidTarget, errors.New("channel identifier is required for telegram targets"))
		}
		if t.EmailAddress != "" {
			return errors.Join(ErrInvalidTarget, errors.New("email address must be empty for telegram targets"))
		}
	case TargetEmail:
		if t.EmailAddress == "" {
			return errors.Join(ErrInvalidTarget, errors.New("email address is required for email targets"))
		}
		if t.AccountID.Valid || t.ChannelIdentifier != "" {
			return errors.Join(ErrInvalidTarget, errors.New("telegram fields must be empty for email targets"))
		}
	default:
		return errors.Join(ErrInvalidTarget, errors.New("unknown target type"))
	}
	return nil
}

// IsValid reports whether the target validated successfully.
func (t *Target) IsValid() bool {
	return t.ValidationStatus == ValidationOK
}
