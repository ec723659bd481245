package models

import (
	"database/sql"
	"time"
)

// ValidationStatus is the outcome of the last source/target validation.
type ValidationStatus string

const (
	ValidationUnknown ValidationStatus = "unknown"
	ValidationPending ValidationStatus = "pending"
	ValidationOK      ValidationStatus = "ok"
	ValidationFailed  ValidationStatus = "failed"
)

// SourceMode controls how messages leave a source.
type SourceMode string

const (
	ModeCopy    SourceMode = "copy"    // Re-send content as a new message
	ModeForward SourceMode = "forward" // Relay with origin attribution
)

// Source is a monitored Telegram channel or group.
type Source struct {
	ID              int64      `db:"id"`
	AccountID       int64      `db:"account_id"`
	InputIdentifier string     `db:"input_identifier"` // username, id or invite link
	IsActive        bool       `db:"is_active"`
	ShowSource      bool       `db:"show_source"` // Prefix copies with the source title
	Mode            SourceMode `db:"mode"`

	// Channel metadata, populated after successful validation.
	ChannelID  int64  `db:"channel_id"`
	AccessHash int64  `db:"access_hash"`
	Username   string `db:"username"`
	Title      string `db:"title"`
	InviteLink string `db:"invite_link"`
	IsPrivate  bool   `db:"is_private"`

	// High-water mark of the last fully processed message id.
	Cursor int64 `db:"last_message_id"`

	LastValidatedAt  sql.NullTime     `db:"last_validated_at"`
	ValidationStatus ValidationStatus `db:"validation_status"`
	ValidationError  string           `db:"validation_error"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsValid reports whether the source resolved successfully.
func (s *Source) IsValid() bool {
	return s.ValidationStatus == ValidationOK
}

// DisplayIdentifier returns the best human-readable identifier.
func (s *Source) DisplayIdentifier() string {
	switch {
	case s.Username != "":
		return "@" + s.Username
	case s.Title != "":
		return s.Title
	default:
		return s.InputIdentifier
	}
}
