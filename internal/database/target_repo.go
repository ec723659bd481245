package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telebridge/telebridge/pkg/models"
)

// CreateTarget creates a new target. The target's field set is validated
// against its type before insertion.
func (db *DB) CreateTarget(ctx context.Context, target *models.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO targets (name, target_type, account_id, channel_identifier, email_address, is_active, validation_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if target.ValidationStatus == "" {
		target.ValidationStatus = models.ValidationUnknown
	}
	result, err := db.ExecContext(ctx, query,
		target.Name,
		target.Type,
		target.AccountID,
		target.ChannelIdentifier,
		target.EmailAddress,
		target.IsActive,
		target.ValidationStatus,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	target.ID = id
	target.CreatedAt = now
	target.UpdatedAt = now
	return nil
}

// GetTargetByID returns a target by ID
func (db *DB) GetTargetByID(ctx context.Context, id int64) (*models.Target, error) {
	var target models.Target
	query := `SELECT * FROM targets WHERE id = ?`
	err := db.GetContext(ctx, &target, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}
	return &target, nil
}

// ListTargets returns all targets
func (db *DB) ListTargets(ctx context.Context) ([]*models.Target, error) {
	var targets []*models.Target
	query := `SELECT * FROM targets ORDER BY name`
	if err := db.SelectContext(ctx, &targets, query); err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return targets, nil
}

// ListTargetsDueValidation returns active targets whose validation is
// stale, failed or never ran.
func (db *DB) ListTargetsDueValidation(ctx context.Context, staleBefore time.Time) ([]*models.Target, error) {
	var targets []*models.Target
	query := `
		SELECT * FROM targets
		WHERE is_active = true
		  AND (validation_status IN ('unknown', 'pending', 'failed')
		       OR last_validated_at IS NULL
		       OR last_validated_at < ?)
	`
	if err := db.SelectContext(ctx, &targets, query, staleBefore); err != nil {
		return nil, fmt.Errorf("failed to list targets due validation: %w", err)
	}
	return targets, nil
}

// SetTargetValidated records a successful validation. For Telegram targets
// the resolved channel metadata is written in the same statement; email
// targets pass a zero ChannelMeta.
func (db *DB) SetTargetValidated(ctx context.Context, id int64, meta ChannelMeta) error {
	query := `
		UPDATE targets
		SET validation_status = ?, validation_error = '', last_validated_at = ?,
		    channel_id = ?, access_hash = ?, username = ?, title = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		models.ValidationOK, now,
		meta.ChannelID, meta.AccessHash, meta.Username, meta.Title,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set target validated: %w", err)
	}
	return nil
}

// SetTargetValidationFailed records a failed validation
func (db *DB) SetTargetValidationFailed(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE targets
		SET validation_status = ?, validation_error = ?, last_validated_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, models.ValidationFailed, message, now, now, id); err != nil {
		return fmt.Errorf("failed to set target validation failed: %w", err)
	}
	return nil
}

// SetTargetActive sets the active flag of a target
func (db *DB) SetTargetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE targets SET is_active = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, active, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set target active: %w", err)
	}
	return nil
}
