// ABOUTME: Database operations for goals and their assignees
// ABOUTME: Read side for the sync engine plus the writes seeding needs
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthapp/calsync/models"
)

// GoalStore reads the goal records the sync engine needs. The engine never
// mutates goals; the write methods exist for seeding and tests.
type GoalStore struct {
	db *sql.DB
}

// NewGoalStore creates a goal store backed by db.
func NewGoalStore(db *sql.DB) *GoalStore {
	return &GoalStore{db: db}
}

// Get retrieves one goal with family name and assignees.
// Returns (nil, nil) when the goal does not exist.
func (s *GoalStore) Get(ctx context.Context, id uuid.UUID) (*models.Goal, error) {
	var goal models.Goal
	var goalIDStr, familyIDStr string
	var familyName sql.NullString
	var dueDate sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.family_id, f.name, g.title, g.status, g.due_date
		FROM goals g
		LEFT JOIN families f ON f.id = g.family_id
		WHERE g.id = ?
	`, id.String()).Scan(&goalIDStr, &familyIDStr, &familyName, &goal.Title, &goal.Status, &dueDate)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get goal: %w", err)
	}

	goal.ID, err = uuid.Parse(goalIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse goal ID: %w", err)
	}
	goal.FamilyID, err = uuid.Parse(familyIDStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse family ID: %w", err)
	}
	if familyName.Valid {
		goal.FamilyName = familyName.String
	}
	if dueDate.Valid {
		t := dueDate.Time
		goal.DueDate = &t
	}

	if err := s.loadAssignees(ctx, &goal); err != nil {
		return nil, err
	}

	return &goal, nil
}

// ListAssignedTo retrieves all goals the user is assigned to.
func (s *GoalStore) ListAssignedTo(ctx context.Context, userID uuid.UUID) ([]*models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id
		FROM goals g
		JOIN goal_assignees a ON a.goal_id = g.id
		WHERE a.user_id = ?
		ORDER BY g.created_at
	`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query assigned goals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan goal ID: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse goal ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}

	var goals []*models.Goal
	for _, id := range ids {
		goal, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if goal != nil {
			goals = append(goals, goal)
		}
	}

	return goals, nil
}

// Create inserts a goal and its assignee rows.
func (s *GoalStore) Create(ctx context.Context, goal *models.Goal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, family_id, title, status, due_date)
		VALUES (?, ?, ?, ?, ?)
	`, goal.ID.String(), goal.FamilyID.String(), goal.Title, goal.Status, goal.DueDate)
	if err != nil {
		return fmt.Errorf("failed to create goal: %w", err)
	}

	for _, userID := range goal.AssigneeIDs {
		if err := s.Assign(ctx, goal.ID, userID); err != nil {
			return err
		}
	}

	return nil
}

// Update rewrites a goal's mutable fields.
func (s *GoalStore) Update(ctx context.Context, goal *models.Goal) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET title = ?, status = ?, due_date = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, goal.Title, goal.Status, goal.DueDate, goal.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	return nil
}

// Assign adds a user to the goal's assignee list.
func (s *GoalStore) Assign(ctx context.Context, goalID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO goal_assignees (goal_id, user_id) VALUES (?, ?)
	`, goalID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("failed to assign goal: %w", err)
	}
	return nil
}

// Unassign removes a user from the goal's assignee list.
func (s *GoalStore) Unassign(ctx context.Context, goalID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM goal_assignees WHERE goal_id = ? AND user_id = ?
	`, goalID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("failed to unassign goal: %w", err)
	}
	return nil
}

// Delete removes a goal; assignee rows cascade.
func (s *GoalStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

func (s *GoalStore) loadAssignees(ctx context.Context, goal *models.Goal) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM goal_assignees WHERE goal_id = ? ORDER BY user_id
	`, goal.ID.String())
	if err != nil {
		return fmt.Errorf("failed to query assignees: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return fmt.Errorf("failed to scan assignee: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("failed to parse assignee ID: %w", err)
		}
		goal.AssigneeIDs = append(goal.AssigneeIDs, id)
	}

	return rows.Err()
}
