// ABOUTME: Database operations for event mapping rows
// ABOUTME: Correlates local syncable entities with remote calendar events
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hearthapp/calsync/models"
)

// MappingStore persists correlations between syncable entities and remote
// calendar events. Uniqueness on (user, syncable) and (user, event) is
// enforced by the schema.
type MappingStore struct {
	db *sql.DB
}

// NewMappingStore creates a mapping store backed by db.
func NewMappingStore(db *sql.DB) *MappingStore {
	return &MappingStore{db: db}
}

// NewMappingID generates a new ULID for a mapping row.
func NewMappingID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// GetBySyncable retrieves the mapping for one (user, entity) pair.
// Returns (nil, nil) when none exists.
func (s *MappingStore) GetBySyncable(ctx context.Context, userID uuid.UUID, ref models.SyncableRef) (*models.EventMapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, syncable_type, syncable_id,
		       google_event_id, google_calendar_id, etag, last_synced_at
		FROM event_mappings
		WHERE user_id = ? AND syncable_type = ? AND syncable_id = ?
	`, userID.String(), string(ref.Kind), ref.ID.String())

	mapping, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	return mapping, nil
}

// ListForUser retrieves mappings for a user, optionally filtered by kind.
func (s *MappingStore) ListForUser(ctx context.Context, userID uuid.UUID, kind models.SyncableKind) ([]*models.EventMapping, error) {
	query := `
		SELECT id, user_id, syncable_type, syncable_id,
		       google_event_id, google_calendar_id, etag, last_synced_at
		FROM event_mappings
		WHERE user_id = ?`
	args := []interface{}{userID.String()}

	if kind != "" {
		query += ` AND syncable_type = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY last_synced_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*models.EventMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	return mappings, nil
}

// Create inserts a mapping after a successful remote create. A missing ID is
// filled with a fresh ULID.
func (s *MappingStore) Create(ctx context.Context, mapping *models.EventMapping) error {
	if mapping.ID == "" {
		mapping.ID = NewMappingID()
	}
	if mapping.LastSyncedAt.IsZero() {
		mapping.LastSyncedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_mappings
			(id, user_id, syncable_type, syncable_id,
			 google_event_id, google_calendar_id, etag, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, mapping.ID, mapping.UserID.String(), string(mapping.Syncable.Kind), mapping.Syncable.ID.String(),
		mapping.GoogleEventID, mapping.GoogleCalendarID, mapping.Etag, mapping.LastSyncedAt)

	if err != nil {
		return fmt.Errorf("failed to create mapping: %w", err)
	}

	return nil
}

// Touch refreshes etag and last_synced_at after a successful remote update.
func (s *MappingStore) Touch(ctx context.Context, mapping *models.EventMapping, etag string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE event_mappings
		SET etag = ?, last_synced_at = ?
		WHERE id = ?
	`, etag, now, mapping.ID)

	if err != nil {
		return fmt.Errorf("failed to touch mapping: %w", err)
	}

	mapping.Etag = etag
	mapping.LastSyncedAt = now
	return nil
}

// Delete removes a mapping row.
func (s *MappingStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM event_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanMapping.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row scanner) (*models.EventMapping, error) {
	var mapping models.EventMapping
	var userIDStr, syncableType, syncableIDStr string
	var etag sql.NullString

	err := row.Scan(
		&mapping.ID,
		&userIDStr,
		&syncableType,
		&syncableIDStr,
		&mapping.GoogleEventID,
		&mapping.GoogleCalendarID,
		&etag,
		&mapping.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	mapping.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mapping user ID: %w", err)
	}
	syncableID, err := uuid.Parse(syncableIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse syncable ID: %w", err)
	}
	mapping.Syncable = models.SyncableRef{Kind: models.SyncableKind(syncableType), ID: syncableID}

	if etag.Valid {
		mapping.Etag = etag.String
	}

	return &mapping, nil
}
