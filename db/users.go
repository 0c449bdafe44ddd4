// ABOUTME: Minimal user and family rows backing foreign keys
// ABOUTME: The product owns these records; only identity fields live here
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// EnsureUser inserts a user row if one does not exist.
func EnsureUser(ctx context.Context, db *sql.DB, id uuid.UUID, name, email string) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, name, email) VALUES (?, ?, ?)
	`, id.String(), name, email)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// EnsureFamily inserts a family row if one does not exist.
func EnsureFamily(ctx context.Context, db *sql.DB, id uuid.UUID, name string) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO families (id, name) VALUES (?, ?)
	`, id.String(), name)
	if err != nil {
		return fmt.Errorf("failed to ensure family: %w", err)
	}
	return nil
}
