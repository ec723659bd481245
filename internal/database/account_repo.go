package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/telebridge/telebridge/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// CreateAccount creates a new Telegram account record
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (name, phone_number, api_id, api_hash, is_active, session_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if account.Status == "" {
		account.Status = models.SessionUnknown
	}
	result, err := db.ExecContext(ctx, query,
		account.Name,
		account.PhoneNumber,
		account.APIID,
		account.APIHash,
		account.IsActive,
		account.Status,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetAccountByPhone returns an account by phone number
func (db *DB) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE phone_number = ?`
	err := db.GetContext(ctx, &account, query, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccounts returns all accounts
func (db *DB) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts ORDER BY name`
	if err := db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// ListActiveAccounts returns all active accounts
func (db *DB) ListActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE is_active = true ORDER BY name`
	if err := db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	return accounts, nil
}

// ListAccountsDueCheck returns active accounts whose session status has not
// been checked since the given time.
func (db *DB) ListAccountsDueCheck(ctx context.Context, before time.Time) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `
		SELECT * FROM accounts
		WHERE is_active = true AND (last_check_at IS NULL OR last_check_at < ?)
	`
	if err := db.SelectContext(ctx, &accounts, query, before); err != nil {
		return nil, fmt.Errorf("failed to list accounts due check: %w", err)
	}
	return accounts, nil
}

// SetAccountStatus updates the session status and last error in one write.
func (db *DB) SetAccountStatus(ctx context.Context, id int64, status models.SessionStatus, lastError string) error {
	query := `
		UPDATE accounts
		SET session_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	if _, err := db.ExecContext(ctx, query, status, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	return nil
}

// SetAccountChecked records the outcome of a session health check: status,
// error text and the check timestamp, atomically.
func (db *DB) SetAccountChecked(ctx context.Context, id int64, status models.SessionStatus, lastError string) error {
	query := `
		UPDATE accounts
		SET session_status = ?, last_error = ?, last_check_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, status, lastError, now, now, id); err != nil {
		return fmt.Errorf("failed to set account checked: %w", err)
	}
	return nil
}

// SetAccountCodeSent records the phone_code_sent transition together with
// the pending login fields, atomically.
func (db *DB) SetAccountCodeSent(ctx context.Context, id int64, pendingPhone, codeHash string) error {
	query := `
		UPDATE accounts
		SET session_status = ?, pending_phone = ?, phone_code_hash = ?, last_error = '', updated_at = ?
		WHERE id = ?
	`
	if _, err := db.ExecContext(ctx, query, models.SessionCodeSent, pendingPhone, codeHash, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set account code sent: %w", err)
	}
	return nil
}

// SetAccountLoggedIn records a successful login: status active, pending
// login fields cleared, error cleared, check time stamped. One write.
func (db *DB) SetAccountLoggedIn(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET session_status = ?, pending_phone = '', phone_code_hash = '', last_error = '', last_check_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, models.SessionActive, now, now, id); err != nil {
		return fmt.Errorf("failed to set account logged in: %w", err)
	}
	return nil
}

// ResetAccountSession clears the session blob and pending login fields and
// resets the status to unknown. Used by logout.
func (db *DB) ResetAccountSession(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET session_status = ?, pending_phone = '', phone_code_hash = '', session_blob = NULL, last_error = '', updated_at = ?
		WHERE id = ?
	`
	if _, err := db.ExecContext(ctx, query, models.SessionUnknown, time.Now(), id); err != nil {
		return fmt.Errorf("failed to reset account session: %w", err)
	}
	return nil
}

// SetAccountLastError updates only the error text, leaving status untouched.
// Used when an operation fails without changing the state machine.
func (db *DB) SetAccountLastError(ctx context.Context, id int64, lastError string) error {
	query := `UPDATE accounts SET last_error = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, lastError, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set account last error: %w", err)
	}
	return nil
}

// SaveAccountSession stores the encrypted session blob
func (db *DB) SaveAccountSession(ctx context.Context, id int64, blob []byte) error {
	query := `UPDATE accounts SET session_blob = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, blob, time.Now(), id); err != nil {
		return fmt.Errorf("failed to save account session: %w", err)
	}
	return nil
}

// GetAccountSession loads the encrypted session blob
func (db *DB) GetAccountSession(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	query := `SELECT session_blob FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &blob, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account session: %w", err)
	}
	return blob, nil
}

// SetAccountActive sets the active flag of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, active, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}
