// ABOUTME: Database operations for per-user calendar credentials
// ABOUTME: Manages token storage, sync status transitions, and disconnect cascade
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthapp/calsync/models"
)

// CredentialStore persists per-user OAuth credentials. Tokens are encrypted
// with the store's cipher before insert and decrypted on read.
type CredentialStore struct {
	db     *sql.DB
	cipher *TokenCipher
}

// NewCredentialStore creates a credential store backed by db.
func NewCredentialStore(db *sql.DB, cipher *TokenCipher) *CredentialStore {
	return &CredentialStore{db: db, cipher: cipher}
}

// Get retrieves a user's credential. Returns (nil, nil) when none exists.
func (s *CredentialStore) Get(ctx context.Context, userID uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	var userIDStr, accessToken, refreshToken string
	var calendarName, accountEmail, lastError sql.NullString
	var lastSyncAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, refresh_token, token_expires_at,
		       calendar_id, calendar_name, account_email,
		       sync_status, last_sync_at, last_error, created_at, updated_at
		FROM calendar_credentials
		WHERE user_id = ?
	`, userID.String()).Scan(
		&userIDStr,
		&accessToken,
		&refreshToken,
		&cred.TokenExpiresAt,
		&cred.CalendarID,
		&calendarName,
		&accountEmail,
		&cred.SyncStatus,
		&lastSyncAt,
		&lastError,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential user ID: %w", err)
	}

	cred.AccessToken, err = s.cipher.Decrypt(accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	cred.RefreshToken, err = s.cipher.Decrypt(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	if calendarName.Valid {
		cred.CalendarName = calendarName.String
	}
	if accountEmail.Valid {
		cred.AccountEmail = accountEmail.String
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		cred.LastSyncAt = &t
	}
	if lastError.Valid {
		cred.LastError = lastError.String
	}

	return &cred, nil
}

// Create inserts a credential created by the connect flow. The caller must
// supply tokens, expiry, and the selected calendar.
func (s *CredentialStore) Create(ctx context.Context, cred *models.Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}

	accessToken, err := s.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := s.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	if cred.SyncStatus == "" {
		cred.SyncStatus = models.SyncStatusActive
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_credentials
			(user_id, access_token, refresh_token, token_expires_at,
			 calendar_id, calendar_name, account_email, sync_status,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, cred.UserID.String(), accessToken, refreshToken, cred.TokenExpiresAt,
		cred.CalendarID, cred.CalendarName, cred.AccountEmail, cred.SyncStatus)

	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}

// UpdateTokens persists a refreshed token set. Subsequent token use must go
// through the stored values, so callers update the model first and then
// persist here.
func (s *CredentialStore) UpdateTokens(ctx context.Context, cred *models.Credential) error {
	if err := validateCredential(cred); err != nil {
		return err
	}

	accessToken, err := s.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshToken, err := s.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE calendar_credentials
		SET access_token = ?, refresh_token = ?, token_expires_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?
	`, accessToken, refreshToken, cred.TokenExpiresAt, cred.UserID.String())

	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	return nil
}

// MarkError records a sync failure on the credential.
func (s *CredentialStore) MarkError(ctx context.Context, cred *models.Credential, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_credentials
		SET sync_status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?
	`, models.SyncStatusError, message, cred.UserID.String())

	if err != nil {
		return fmt.Errorf("failed to mark credential error: %w", err)
	}

	cred.SyncStatus = models.SyncStatusError
	cred.LastError = message
	return nil
}

// MarkSynced records a successful sync: clears last_error, bumps last_sync_at.
func (s *CredentialStore) MarkSynced(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_credentials
		SET last_sync_at = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?
	`, now, cred.UserID.String())

	if err != nil {
		return fmt.Errorf("failed to mark credential synced: %w", err)
	}

	cred.LastSyncAt = &now
	cred.LastError = ""
	return nil
}

// SetStatus transitions sync_status, used by pause/resume. Resuming clears
// any recorded error.
func (s *CredentialStore) SetStatus(ctx context.Context, userID uuid.UUID, status string) error {
	var err error
	if status == models.SyncStatusActive {
		_, err = s.db.ExecContext(ctx, `
			UPDATE calendar_credentials
			SET sync_status = ?, last_error = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ?
		`, status, userID.String())
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE calendar_credentials
			SET sync_status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE user_id = ?
		`, status, userID.String())
	}

	if err != nil {
		return fmt.Errorf("failed to set credential status: %w", err)
	}

	return nil
}

// ListUsers returns the user IDs of every stored credential, used by the
// daemon to enumerate sync targets.
func (s *CredentialStore) ListUsers(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM calendar_credentials ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credential users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var userIDs []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan credential user: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credential user ID: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credential users: %w", err)
	}

	return userIDs, nil
}

// Delete removes the credential and all of the user's mappings in one
// transaction. Mappings are meaningless without a calendar target.
func (s *CredentialStore) Delete(ctx context.Context, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin disconnect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_mappings WHERE user_id = ?`, userID.String()); err != nil {
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_credentials WHERE user_id = ?`, userID.String()); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit disconnect: %w", err)
	}

	return nil
}

// validateCredential enforces the non-empty invariants on stored rows.
func validateCredential(cred *models.Credential) error {
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return fmt.Errorf("credential tokens must not be empty")
	}
	if cred.CalendarID == "" {
		return fmt.Errorf("credential calendar_id must not be empty")
	}
	if cred.TokenExpiresAt.IsZero() {
		return fmt.Errorf("credential token_expires_at must be set")
	}
	return nil
}
