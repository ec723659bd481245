package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telebridge/telebridge/pkg/models"
)

// RecordDelivery records the terminal outcome of delivering one message to
// one mapping. The UNIQUE(mapping_id, message_id) constraint makes this the
// duplicate-suppression point: a second record for the same pair is ignored
// and reported as ErrAlreadyExists, so a retry after partial success can
// never produce a second send or a second failure record.
func (db *DB) RecordDelivery(ctx context.Context, d *models.Delivery) error {
	query := `
		INSERT OR IGNORE INTO deliveries (mapping_id, message_id, status, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		d.MappingID,
		d.MessageID,
		d.Status,
		d.Attempts,
		d.LastError,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
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

	d.ID = id
	d.CreatedAt = now
	return nil
}

// GetDelivery returns the delivery record for (mapping, message), or
// ErrNotFound when the pair is still unresolved.
func (db *DB) GetDelivery(ctx context.Context, mappingID, messageID int64) (*models.Delivery, error) {
	var d models.Delivery
	query := `SELECT * FROM deliveries WHERE mapping_id = ? AND message_id = ?`
	err := db.GetContext(ctx, &d, query, mappingID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &d, nil
}

// ListFailedDeliveries returns permanent failures for operator review,
// newest first.
func (db *DB) ListFailedDeliveries(ctx context.Context, limit int) ([]*models.Delivery, error) {
	var ds []*models.Delivery
	query := `SELECT * FROM deliveries WHERE status = ? ORDER BY created_at DESC LIMIT ?`
	if err := db.SelectContext(ctx, &ds, query, models.DeliveryFailed, limit); err != nil {
		return nil, fmt.Errorf("failed to list failed deliveries: %w", err)
	}
	return ds, nil
}
