package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telebridge/telebridge/pkg/models"
)

// CreateMapping creates a new source-target mapping
func (db *DB) CreateMapping(ctx context.Context, mapping *models.Mapping) error {
	query := `
		INSERT OR IGNORE INTO mappings (source_id, target_id, is_active, delay_seconds, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		mapping.SourceID,
		mapping.TargetID,
		mapping.IsActive,
		mapping.DelaySeconds,
		mapping.MaxRetries,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	mapping.ID = id
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	return nil
}

// GetMappingByID returns a mapping by ID
func (db *DB) GetMappingByID(ctx context.Context, id int64) (*models.Mapping, error) {
	var mapping models.Mapping
	query := `SELECT * FROM mappings WHERE id = ?`
	err := db.GetContext(ctx, &mapping, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return &mapping, nil
}

// ListMappings returns all mappings
func (db *DB) ListMappings(ctx context.Context) ([]*models.Mapping, error) {
	var mappings []*models.Mapping
	query := `SELECT * FROM mappings ORDER BY source_id, target_id`
	if err := db.SelectContext(ctx, &mappings, query); err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return mappings, nil
}

// ListDeliverableMappings returns the active mappings of a source whose
// targets are active and validated. These are the mappings the forwarding
// engine delivers to.
func (db *DB) ListDeliverableMappings(ctx context.Context, sourceID int64) ([]*models.Mapping, error) {
	var mappings []*models.Mapping
	query := `
		SELECT m.* FROM mappings m
		JOIN targets t ON t.id = m.target_id
		WHERE m.source_id = ? AND m.is_active = true
		  AND t.is_active = true AND t.validation_status = 'ok'
		ORDER BY m.id
	`
	if err := db.SelectContext(ctx, &mappings, query, sourceID); err != nil {
		return nil, fmt.Errorf("failed to list deliverable mappings: %w", err)
	}
	return mappings, nil
}

// SetMappingActive sets the active flag of a mapping
func (db *DB) SetMappingActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE mappings SET is_active = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, active, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set mapping active: %w", err)
	}
	return nil
}
