// ABOUTME: Database operations for periodic review records
// ABOUTME: Read side for the sync engine plus the writes seeding needs
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthapp/calsync/models"
)

// ReviewStore reads the review records the sync engine needs.
type ReviewStore struct {
	db *sql.DB
}

// NewReviewStore creates a review store backed by db.
func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// Get retrieves one review of the given kind.
// Returns (nil, nil) when it does not exist.
func (s *ReviewStore) Get(ctx context.Context, kind models.SyncableKind, id uuid.UUID) (*models.Review, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.kind, r.family_id, f.name, r.user_id, r.period_start, r.completed
		FROM reviews r
		LEFT JOIN families f ON f.id = r.family_id
		WHERE r.id = ? AND r.kind = ?
	`, id.String(), string(kind))

	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	return review, nil
}

// ListIncompleteForUser retrieves the user's incomplete reviews of one kind,
// oldest period first.
func (s *ReviewStore) ListIncompleteForUser(ctx context.Context, userID uuid.UUID, kind models.SyncableKind) ([]*models.Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.kind, r.family_id, f.name, r.user_id, r.period_start, r.completed
		FROM reviews r
		LEFT JOIN families f ON f.id = r.family_id
		WHERE r.user_id = ? AND r.kind = ? AND r.completed = 0
		ORDER BY r.period_start
	`, userID.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.Review
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}

	return reviews, nil
}

// Create inserts a review.
func (s *ReviewStore) Create(ctx context.Context, review *models.Review) error {
	completed := 0
	if review.Completed {
		completed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, kind, family_id, user_id, period_start, completed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, review.ID.String(), string(review.Kind), review.FamilyID.String(),
		review.UserID.String(), review.PeriodStart, completed)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}

	return nil
}

// SetCompleted flips a review's completion state.
func (s *ReviewStore) SetCompleted(ctx context.Context, id uuid.UUID, completed bool) error {
	val := 0
	if completed {
		val = 1
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET completed = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, val, id.String())
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}

	return nil
}

func scanReview(row scanner) (*models.Review, error) {
	var review models.Review
	var idStr, kindStr, familyIDStr, userIDStr string
	var familyName sql.NullString
	var completed int

	err := row.Scan(&idStr, &kindStr, &familyIDStr, &familyName, &userIDStr, &review.PeriodStart, &completed)
	if err != nil {
		return nil, err
	}

	review.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse review ID: %w", err)
	}
	review.FamilyID, err = uuid.Parse(familyIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse family ID: %w", err)
	}
	review.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user ID: %w", err)
	}

	review.Kind = models.SyncableKind(kindStr)
	if familyName.Valid {
		review.FamilyName = familyName.String
	}
	review.Completed = completed != 0

	return &review, nil
}
