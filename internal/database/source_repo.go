package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telebridge/telebridge/pkg/models"
)

// ChannelMeta is the resolved channel metadata written by validation.
type ChannelMeta struct {
	ChannelID  int64
	AccessHash int64
	Username   string
	Title      string
	InviteLink string
	IsPrivate  bool
}

// CreateSource creates a new source
func (db *DB) CreateSource(ctx context.Context, source *models.Source) error {
	query := `
		INSERT INTO sources (account_id, input_identifier, is_active, show_source, mode, validation_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if source.Mode == "" {
		source.Mode = models.ModeCopy
	}
	if source.ValidationStatus == "" {
		source.ValidationStatus = models.ValidationUnknown
	}
	result, err := db.ExecContext(ctx, query,
		source.AccountID,
		source.InputIdentifier,
		source.IsActive,
		source.ShowSource,
		source.Mode,
		source.ValidationStatus,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	source.ID = id
	source.CreatedAt = now
	source.UpdatedAt = now
	return nil
}

// GetSourceByID returns a source by ID
func (db *DB) GetSourceByID(ctx context.Context, id int64) (*models.Source, error) {
	var source models.Source
	query := `SELECT * FROM sources WHERE id = ?`
	err := db.GetContext(ctx, &source, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

// ListSources returns all sources
func (db *DB) ListSources(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	query := `SELECT * FROM sources ORDER BY created_at DESC`
	if err := db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// ListProcessableSources returns active, validated sources that have at
// least one active mapping. These are the sources the scheduler polls.
func (db *DB) ListProcessableSources(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	query := `
		SELECT DISTINCT s.* FROM sources s
		JOIN mappings m ON m.source_id = s.id AND m.is_active = true
		WHERE s.is_active = true AND s.validation_status = 'ok'
	`
	if err := db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list processable sources: %w", err)
	}
	return sources, nil
}

// ListSourcesDueValidation returns active sources whose validation is
// stale, failed or never ran.
func (db *DB) ListSourcesDueValidation(ctx context.Context, staleBefore time.Time) ([]*models.Source, error) {
	var sources []*models.Source
	query := `
		SELECT * FROM sources
		WHERE is_active = true
		  AND (validation_status IN ('unknown', 'pending', 'failed')
		       OR last_validated_at IS NULL
		       OR last_validated_at < ?)
	`
	if err := db.SelectContext(ctx, &sources, query, staleBefore); err != nil {
		return nil, fmt.Errorf("failed to list sources due validation: %w", err)
	}
	return sources, nil
}

// SetSourceValidated records a successful validation together with the
// resolved channel metadata, atomically.
func (db *DB) SetSourceValidated(ctx context.Context, id int64, meta ChannelMeta) error {
	query := `
		UPDATE sources
		SET validation_status = ?, validation_error = '', last_validated_at = ?,
		    channel_id = ?, access_hash = ?, username = ?, title = ?, invite_link = ?, is_private = ?,
		    updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		models.ValidationOK, now,
		meta.ChannelID, meta.AccessHash, meta.Username, meta.Title, meta.InviteLink, meta.IsPrivate,
		now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set source validated: %w", err)
	}
	return nil
}

// SetSourceValidationFailed records a failed validation
func (db *DB) SetSourceValidationFailed(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE sources
		SET validation_status = ?, validation_error = ?, last_validated_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, models.ValidationFailed, message, now, now, id); err != nil {
		return fmt.Errorf("failed to set source validation failed: %w", err)
	}
	return nil
}

// AdvanceSourceCursor moves the per-source high-water mark forward. The
// guard keeps the cursor monotonic even under concurrent writers.
func (db *DB) AdvanceSourceCursor(ctx context.Context, id int64, messageID int64) error {
	query := `
		UPDATE sources
		SET last_message_id = ?, updated_at = ?
		WHERE id = ? AND last_message_id < ?
	`
	if _, err := db.ExecContext(ctx, query, messageID, time.Now(), id, messageID); err != nil {
		return fmt.Errorf("failed to advance source cursor: %w", err)
	}
	return nil
}

// SetSourceActive sets the active flag of a source
func (db *DB) SetSourceActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE sources SET is_active = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, active, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set source active: %w", err)
	}
	return nil
}
