// ABOUTME: Data models for calendar sync entities
// ABOUTME: Defines Credential, EventMapping, SyncableRef, Goal, and Review structs
package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync status constants for a credential.
const (
	SyncStatusActive = "active"
	SyncStatusPaused = "paused"
	SyncStatusError  = "error"
)

// Goal status constants.
const (
	GoalStatusInProgress = "in_progress"
	GoalStatusCompleted  = "completed"
	GoalStatusAbandoned  = "abandoned"
)

// SyncableKind identifies which local entity a mapping points at.
type SyncableKind string

const (
	SyncableGoal            SyncableKind = "goal"
	SyncableWeeklyReview    SyncableKind = "weekly_review"
	SyncableMonthlyReview   SyncableKind = "monthly_review"
	SyncableQuarterlyReview SyncableKind = "quarterly_review"
	SyncableYearlyReview    SyncableKind = "yearly_review"
)

// ReviewKinds lists the four periodic review kinds in sweep order.
var ReviewKinds = []SyncableKind{
	SyncableWeeklyReview,
	SyncableMonthlyReview,
	SyncableQuarterlyReview,
	SyncableYearlyReview,
}

// IsReview reports whether the kind is one of the periodic review kinds.
func (k SyncableKind) IsReview() bool {
	switch k {
	case SyncableWeeklyReview, SyncableMonthlyReview, SyncableQuarterlyReview, SyncableYearlyReview:
		return true
	}
	return false
}

// SyncableRef is a tagged reference to one syncable entity.
type SyncableRef struct {
	Kind SyncableKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

// Credential stores a user's Google OAuth token set and target calendar.
// Access and refresh tokens are encrypted before they reach the database.
type Credential struct {
	UserID         uuid.UUID  `json:"user_id"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt time.Time  `json:"token_expires_at"`
	CalendarID     string     `json:"calendar_id"`
	CalendarName   string     `json:"calendar_name,omitempty"`
	AccountEmail   string     `json:"account_email,omitempty"`
	SyncStatus     string     `json:"sync_status"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsActive reports whether sync is enabled for this credential.
func (c *Credential) IsActive() bool {
	return c.SyncStatus == SyncStatusActive
}

// IsExpired reports whether the access token has already expired.
func (c *Credential) IsExpired() bool {
	return !c.TokenExpiresAt.After(time.Now())
}

// ExpiresWithin reports whether the access token expires inside the window.
func (c *Credential) ExpiresWithin(window time.Duration) bool {
	return !c.TokenExpiresAt.After(time.Now().Add(window))
}

// EventMapping correlates one local entity with one remote calendar event.
type EventMapping struct {
	ID               string      `json:"id"`
	UserID           uuid.UUID   `json:"user_id"`
	Syncable         SyncableRef `json:"syncable"`
	GoogleEventID    string      `json:"google_event_id"`
	GoogleCalendarID string      `json:"google_calendar_id"`
	Etag             string      `json:"etag,omitempty"`
	LastSyncedAt     time.Time   `json:"last_synced_at"`
}

// Goal is the slice of the product's goal record the sync engine reads.
// The engine never mutates goals.
type Goal struct {
	ID          uuid.UUID   `json:"id"`
	FamilyID    uuid.UUID   `json:"family_id"`
	FamilyName  string      `json:"family_name,omitempty"`
	Title       string      `json:"title"`
	Status      string      `json:"status"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	AssigneeIDs []uuid.UUID `json:"assignee_ids,omitempty"`
}

// ShouldHaveEvent reports whether the goal warrants a calendar event:
// a due date is set and the goal is neither completed nor abandoned.
func (g *Goal) ShouldHaveEvent() bool {
	if g.DueDate == nil {
		return false
	}
	return g.Status != GoalStatusCompleted && g.Status != GoalStatusAbandoned
}

// AssignedTo reports whether the user is among the goal's assignees.
func (g *Goal) AssignedTo(userID uuid.UUID) bool {
	for _, id := range g.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Ref returns the goal's syncable reference.
func (g *Goal) Ref() SyncableRef {
	return SyncableRef{Kind: SyncableGoal, ID: g.ID}
}

// Review is the slice of a periodic review record the sync engine reads.
type Review struct {
	ID          uuid.UUID    `json:"id"`
	Kind        SyncableKind `json:"kind"`
	FamilyID    uuid.UUID    `json:"family_id"`
	FamilyName  string       `json:"family_name,omitempty"`
	UserID      uuid.UUID    `json:"user_id"`
	PeriodStart time.Time    `json:"period_start"`
	Completed   bool         `json:"completed"`
}

// Ref returns the review's syncable reference.
func (r *Review) Ref() SyncableRef {
	return SyncableRef{Kind: r.Kind, ID: r.ID}
}
