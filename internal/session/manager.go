// Package session drives the per-account login/logout/health-check state
// machine. Each operation acquires a platform connection from the pool,
// performs one step and releases it; the pool serializes concurrent
// operations on the same account.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/pkg/models"
)

// ErrMissingCredentials is returned when an account has no api_id/api_hash.
var ErrMissingCredentials = errors.New("api credentials not configured")

// ErrAccountNotReady is returned when an operation is attempted from a
// state the machine does not allow. The account is left untouched.
var ErrAccountNotReady = errors.New("account is not in the required state")

// Manager is the account session lifecycle manager.
type Manager struct {
	db      *database.DB
	pool    *telegram.Pool
	logger  *slog.Logger
	timeout time.Duration
}

// NewManager creates a session manager. timeout bounds every platform call.
func NewManager(db *database.DB, pool *telegram.Pool, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		db:      db,
		pool:    pool,
		logger:  logger.With("component", "session_manager"),
		timeout: timeout,
	}
}

// canStartLogin lists the states a fresh login may begin from. logging_in
// means another login is in flight; password_needed must finish via
// ConfirmPassword or be reset via Logout.
func canStartLogin(status models.SessionStatus) bool {
	switch status {
	case models.SessionUnknown, models.SessionActive, models.SessionError,
		models.SessionFailed, models.SessionCodeSent:
		return true
	}
	return false
}

// StartLogin requests a verification code for the account's phone number.
// On success the account moves to phone_code_sent with the pending phone
// and the opaque verification token persisted together.
func (m *Manager) StartLogin(ctx context.Context, accountID int64) error {
	account, err := m.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.HasCredentials() {
		return fmt.Errorf("%w: api_id and api_hash must be set", ErrMissingCredentials)
	}
	if !canStartLogin(account.Status) {
		return fmt.Errorf("%w: cannot start login from status %q", ErrAccountNotReady, account.Status)
	}

	prev := account.Status
	if err := m.db.SetAccountStatus(ctx, accountID, models.SessionLoggingIn, ""); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, release, err := m.pool.Acquire(opCtx, account)
	if err != nil {
		m.fail(ctx, accountID, err)
		return fmt.Errorf("failed to start login: %w", err)
	}
	defer release()

	codeHash, err := conn.RequestCode(opCtx, account.PhoneNumber)
	if errors.Is(err, telegram.ErrInvalidPhone) {
		// Status unchanged per the state machine; the mistake is in the
		// account record, not the session.
		if dbErr := m.db.SetAccountStatus(ctx, accountID, prev, err.Error()); dbErr != nil {
			return dbErr
		}
		return err
	}
	if err != nil {
		m.fail(ctx, accountID, err)
		return fmt.Errorf("failed to start login: %w", err)
	}

	if err := m.db.SetAccountCodeSent(ctx, accountID, account.PhoneNumber, codeHash); err != nil {
		return err
	}
	m.logger.Info("verification code sent", "account_id", accountID, "phone", account.PhoneNumber)
	return nil
}

// ConfirmCode completes login with the code the operator received. When the
// platform demands a second factor the account moves to password_needed and
// ErrPasswordRequired is returned; that is a state-machine branch, not a
// hard failure.
func (m *Manager) ConfirmCode(ctx context.Context, accountID int64, code string) error {
	account, err := m.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Status != models.SessionCodeSent {
		return fmt.Errorf("%w: expected status %q, have %q", ErrAccountNotReady, models.SessionCodeSent, account.Status)
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, release, err := m.pool.Acquire(opCtx, account)
	if err != nil {
		if dbErr := m.db.SetAccountLastError(ctx, accountID, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to confirm code: %w", err)
	}
	defer release()

	err = conn.SignIn(opCtx, account.PendingPhone, code, account.PhoneCodeHash)
	switch {
	case err == nil:
		if err := m.db.SetAccountLoggedIn(ctx, accountID); err != nil {
			return err
		}
		m.logger.Info("login successful", "account_id", accountID)
		return nil

	case errors.Is(err, telegram.ErrPasswordRequired):
		if dbErr := m.db.SetAccountStatus(ctx, accountID, models.SessionPasswordNeeded, ""); dbErr != nil {
			return dbErr
		}
		m.logger.Info("two-factor password required", "account_id", accountID)
		return telegram.ErrPasswordRequired

	case errors.Is(err, telegram.ErrCodeInvalid), errors.Is(err, telegram.ErrCodeExpired):
		// Status unchanged: the operator may retry ConfirmCode or restart
		// the login.
		if dbErr := m.db.SetAccountLastError(ctx, accountID, err.Error()); dbErr != nil {
			return dbErr
		}
		return err

	default:
		if dbErr := m.db.SetAccountLastError(ctx, accountID, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to confirm code: %w", err)
	}
}

// ConfirmPassword completes the two-factor branch of login.
func (m *Manager) ConfirmPassword(ctx context.Context, accountID int64, password string) error {
	account, err := m.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.Status != models.SessionPasswordNeeded {
		return fmt.Errorf("%w: expected status %q, have %q", ErrAccountNotReady, models.SessionPasswordNeeded, account.Status)
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, release, err := m.pool.Acquire(opCtx, account)
	if err != nil {
		if dbErr := m.db.SetAccountLastError(ctx, accountID, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to confirm password: %w", err)
	}
	defer release()

	if err := conn.SignInPassword(opCtx, password); err != nil {
		// Status unchanged; the operator retries.
		if dbErr := m.db.SetAccountLastError(ctx, accountID, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to confirm password: %w", err)
	}

	if err := m.db.SetAccountLoggedIn(ctx, accountID); err != nil {
		return err
	}
	m.logger.Info("two-factor login successful", "account_id", accountID)
	return nil
}

// CheckStatus asks the platform whether the stored session is still
// authorized and persists the outcome with the check timestamp.
func (m *Manager) CheckStatus(ctx context.Context, accountID int64) error {
	account, err := m.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, release, err := m.pool.Acquire(opCtx, account)
	if err != nil {
		if dbErr := m.db.SetAccountChecked(ctx, accountID, models.SessionError, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to check status: %w", err)
	}
	defer release()

	authorized, err := conn.IsAuthorized(opCtx)
	if err != nil {
		if dbErr := m.db.SetAccountChecked(ctx, accountID, models.SessionError, err.Error()); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("failed to check status: %w", err)
	}

	if !authorized {
		if err := m.db.SetAccountChecked(ctx, accountID, models.SessionUnknown, ""); err != nil {
			return err
		}
		return fmt.Errorf("account %s: %w", account.PhoneNumber, telegram.ErrUnauthorized)
	}

	if err := m.db.SetAccountChecked(ctx, accountID, models.SessionActive, ""); err != nil {
		return err
	}
	m.logger.Debug("session healthy", "account_id", accountID)
	return nil
}

// Logout revokes the platform session if one exists, wipes the local
// session blob and resets the account to unknown. Revocation is
// best-effort: a corrupted or revoked session makes the connection
// unusable, and the local state must still be clearable so a fresh
// StartLogin can follow. Safe to call on an already-logged-out account.
func (m *Manager) Logout(ctx context.Context, accountID int64) error {
	account, err := m.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, release, err := m.pool.Acquire(opCtx, account)
	if err != nil {
		m.logger.Warn("skipping session revocation", "account_id", accountID, "error", err)
	} else {
		defer release()
		authorized, err := conn.IsAuthorized(opCtx)
		if err != nil {
			m.logger.Warn("skipping session revocation", "account_id", accountID, "error", err)
		} else if authorized {
			if err := conn.LogOut(opCtx); err != nil && !errors.Is(err, telegram.ErrUnauthorized) {
				m.logger.Warn("session revocation failed", "account_id", accountID, "error", err)
			}
		}
	}

	if err := m.db.ResetAccountSession(ctx, accountID); err != nil {
		return err
	}
	m.logger.Info("logged out", "account_id", accountID)
	return nil
}

// fail moves the account to error with the message preserved for the
// operator.
func (m *Manager) fail(ctx context.Context, accountID int64, cause error) {
	if err := m.db.SetAccountStatus(ctx, accountID, models.SessionError, cause.Error()); err != nil {
		m.logger.Error("failed to persist error status", "account_id", accountID, "error", err)
	}
}
