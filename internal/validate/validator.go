// Package validate resolves raw source/target identifiers into canonical
// channel metadata through an account's active session. Email targets are
// validated offline.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/session"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/pkg/models"
)

// ErrResolutionFailed marks a permanent resolution failure (not found,
// access denied, malformed address). Transient network failures keep their
// telegram.TransientError wrapper so the scheduler can retry them sooner.
var ErrResolutionFailed = errors.New("resolution failed")

// SourceValidator resolves source identifiers.
type SourceValidator struct {
	db      *database.DB
	pool    *telegram.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewSourceValidator creates a source validator.
func NewSourceValidator(db *database.DB, pool *telegram.Pool, timeout time.Duration, logger *slog.Logger) *SourceValidator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SourceValidator{
		db:      db,
		pool:    pool,
		logger:  logger.With("component", "source_validator"),
		timeout: timeout,
	}
}

// Validate resolves the source's identifier and persists the outcome. The
// owning account must have an active session.
func (v *SourceValidator) Validate(ctx context.Context, sourceID int64) error {
	source, err := v.db.GetSourceByID(ctx, sourceID)
	if err != nil {
		return err
	}
	account, err := v.db.GetAccountByID(ctx, source.AccountID)
	if err != nil {
		return err
	}
	if account.Status != models.SessionActive {
		return fmt.Errorf("%w: account %s status is %q", session.ErrAccountNotReady, account.PhoneNumber, account.Status)
	}

	resolved, err := resolve(ctx, v.pool, account, source.InputIdentifier, v.timeout)
	if err != nil {
		if dbErr := v.db.SetSourceValidationFailed(ctx, sourceID, err.Error()); dbErr != nil {
			return dbErr
		}
		return err
	}

	meta := database.ChannelMeta{
		ChannelID:  resolved.ID,
		AccessHash: resolved.AccessHash,
		Username:   resolved.Username,
		Title:      resolved.Title,
		InviteLink: resolved.InviteLink,
		IsPrivate:  resolved.Private,
	}
	if err := v.db.SetSourceValidated(ctx, sourceID, meta); err != nil {
		return err
	}
	v.logger.Info("source validated", "source_id", sourceID, "title", resolved.Title)
	return nil
}

// TargetValidator resolves telegram targets and checks email targets for
// well-formedness.
type TargetValidator struct {
	db      *database.DB
	pool    *telegram.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewTargetValidator creates a target validator.
func NewTargetValidator(db *database.DB, pool *telegram.Pool, timeout time.Duration, logger *slog.Logger) *TargetValidator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &TargetValidator{
		db:      db,
		pool:    pool,
		logger:  logger.With("component", "target_validator"),
		timeout: timeout,
	}
}

// Validate validates one target and persists the outcome. Email targets
// never touch the platform client.
func (v *TargetValidator) Validate(ctx context.Context, targetID int64) error {
	target, err := v.db.GetTargetByID(ctx, targetID)
	if err != nil {
		return err
	}

	switch target.Type {
	case models.TargetEmail:
		return v.validateEmail(ctx, target)
	case models.TargetTelegram:
		return v.validateTelegram(ctx, target)
	default:
		return fmt.Errorf("%w: unknown target type %q", models.ErrInvalidTarget, target.Type)
	}
}

func (v *TargetValidator) validateEmail(ctx context.Context, target *models.Target) error {
	if _, err := mail.ParseAddress(target.EmailAddress); err != nil {
		msg := fmt.Sprintf("malformed email address %q: %v", target.EmailAddress, err)
		if dbErr := v.db.SetTargetValidationFailed(ctx, target.ID, msg); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("%w: %s", ErrResolutionFailed, msg)
	}
	if err := v.db.SetTargetValidated(ctx, target.ID, database.ChannelMeta{}); err != nil {
		return err
	}
	v.logger.Info("email target validated", "target_id", target.ID, "address", target.EmailAddress)
	return nil
}

func (v *TargetValidator) validateTelegram(ctx context.Context, target *models.Target) error {
	account, err := v.db.GetAccountByID(ctx, target.AccountID.Int64)
	if err != nil {
		return err
	}
	if account.Status != models.SessionActive {
		return fmt.Errorf("%w: account %s status is %q", session.ErrAccountNotReady, account.PhoneNumber, account.Status)
	}

	resolved, err := resolve(ctx, v.pool, account, target.ChannelIdentifier, v.timeout)
	if err != nil {
		if dbErr := v.db.SetTargetValidationFailed(ctx, target.ID, err.Error()); dbErr != nil {
			return dbErr
		}
		return err
	}

	meta := database.ChannelMeta{
		ChannelID:  resolved.ID,
		AccessHash: resolved.AccessHash,
		Username:   resolved.Username,
		Title:      resolved.Title,
	}
	if err := v.db.SetTargetValidated(ctx, target.ID, meta); err != nil {
		return err
	}
	v.logger.Info("telegram target validated", "target_id", target.ID, "title", resolved.Title)
	return nil
}

// resolve acquires a connection for the account and resolves the
// identifier. Permanent resolution failures are wrapped in
// ErrResolutionFailed; transient failures pass through unchanged.
func resolve(ctx context.Context, pool *telegram.Pool, account *models.Account, identifier string, timeout time.Duration) (*telegram.Resolved, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, release, err := pool.Acquire(opCtx, account)
	if err != nil {
		return nil, err
	}
	defer release()

	resolved, err := conn.Resolve(opCtx, identifier)
	if err != nil {
		if errors.Is(err, telegram.ErrNotFound) || errors.Is(err, telegram.ErrAccessDenied) {
			return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
		}
		return nil, err
	}
	return resolved, nil
}
