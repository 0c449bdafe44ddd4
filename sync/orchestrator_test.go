// ABOUTME: Tests for the sync orchestrator using a fake calendar layer
// ABOUTME: Covers reconciliation, idempotence, self-healing, failure isolation
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/models"
)

// fakeEventAPI is an in-memory calendar. Events live in a map keyed by ID so
// tests can delete them out from under the orchestrator.
type fakeEventAPI struct {
	mu     stdsync.Mutex
	nextID int
	events map[string]EventData

	creates int
	updates int
	deletes int

	// failAll makes every call fail; failSummaries fails calls for specific
	// event summaries only.
	failAll       error
	failSummaries map[string]error
}

func newFakeEventAPI() *fakeEventAPI {
	return &fakeEventAPI{events: map[string]EventData{}, failSummaries: map[string]error{}}
}

func (f *fakeEventAPI) fail(summary string) error {
	if f.failAll != nil {
		return f.failAll
	}
	return f.failSummaries[summary]
}

func (f *fakeEventAPI) CreateEvent(ctx context.Context, data EventData) (*EventHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(data.Summary); err != nil {
		return nil, err
	}

	f.creates++
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = data
	return &EventHandle{EventID: id, Etag: `"v1"`}, nil
}

func (f *fakeEventAPI) UpdateEvent(ctx context.Context, eventID, etag string, data EventData) (*EventHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail(data.Summary); err != nil {
		return nil, err
	}
	if _, ok := f.events[eventID]; !ok {
		return nil, &EventNotFoundError{EventID: eventID}
	}

	f.updates++
	f.events[eventID] = data
	return &EventHandle{EventID: eventID, Etag: `"v2"`}, nil
}

func (f *fakeEventAPI) DeleteEvent(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll != nil {
		return f.failAll
	}

	f.deletes++
	delete(f.events, eventID)
	return nil
}

func (f *fakeEventAPI) event(t *testing.T, eventID string) EventData {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.events[eventID]
	require.True(t, ok, "event %s not found in fake calendar", eventID)
	return data
}

// syncFixture wires a Syncer over a throwaway database and the fake calendar.
type syncFixture struct {
	syncer   *Syncer
	api      *fakeEventAPI
	database *sql.DB
	creds    *db.CredentialStore
	mappings *db.MappingStore
	goals    *db.GoalStore
	reviews  *db.ReviewStore
	userID   uuid.UUID
	familyID uuid.UUID
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := db.NewTokenCipher(key)
	require.NoError(t, err)

	userID := uuid.New()
	familyID := uuid.New()
	require.NoError(t, db.EnsureUser(ctx, database, userID, "Test User", "user@example.com"))
	require.NoError(t, db.EnsureFamily(ctx, database, familyID, "The Smiths"))

	f := &syncFixture{
		api:      newFakeEventAPI(),
		database: database,
		creds:    db.NewCredentialStore(database, cipher),
		mappings: db.NewMappingStore(database),
		goals:    db.NewGoalStore(database),
		reviews:  db.NewReviewStore(database),
		userID:   userID,
		familyID: familyID,
	}

	require.NoError(t, f.creds.Create(ctx, &models.Credential{
		UserID:         userID,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		CalendarID:     "primary",
		CalendarName:   "Personal",
		SyncStatus:     models.SyncStatusActive,
	}))

	tokens := NewTokenManager(OAuthConfig{ClientID: "client-id", ClientSecret: "client-secret"})
	f.syncer = NewSyncer(database, cipher, tokens)
	f.syncer.NewEventAPI = func(cred *models.Credential) EventAPI { return f.api }
	f.syncer.logger = log.New(io.Discard, "", 0)

	return f
}

func (f *syncFixture) seedGoal(t *testing.T, due *time.Time, assignees ...uuid.UUID) *models.Goal {
	t.Helper()
	goal := &models.Goal{
		ID:          uuid.New(),
		FamilyID:    f.familyID,
		Title:       "Learn piano",
		Status:      models.GoalStatusInProgress,
		DueDate:     due,
		AssigneeIDs: assignees,
	}
	require.NoError(t, f.goals.Create(context.Background(), goal))
	return goal
}

func (f *syncFixture) seedReview(t *testing.T, kind models.SyncableKind, periodStart time.Time) *models.Review {
	t.Helper()
	review := &models.Review{
		ID:          uuid.New(),
		Kind:        kind,
		FamilyID:    f.familyID,
		UserID:      f.userID,
		PeriodStart: periodStart,
	}
	require.NoError(t, f.reviews.Create(context.Background(), review))
	return review
}

func (f *syncFixture) mapping(t *testing.T, ref models.SyncableRef) *models.EventMapping {
	t.Helper()
	mapping, err := f.mappings.GetBySyncable(context.Background(), f.userID, ref)
	require.NoError(t, err)
	return mapping
}

func dueOn(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestSyncGoalCreatesEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	mapping := f.mapping(t, goal.Ref())
	require.NotNil(t, mapping)
	assert.Equal(t, "primary", mapping.GoogleCalendarID)

	data := f.api.event(t, mapping.GoogleEventID)
	assert.Equal(t, "[Goal] Learn piano", data.Summary)
	assert.Contains(t, data.Description, "The Smiths")
	assert.True(t, data.Date.Equal(*goal.DueDate))

	cred, err := f.creds.Get(ctx, f.userID)
	require.NoError(t, err)
	assert.NotNil(t, cred.LastSyncAt, "successful sync records last_sync_at")
}

func TestSyncGoalIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	assert.Equal(t, 1, f.api.creates, "second sync must update, not create")
	assert.Equal(t, 1, f.api.updates)
	assert.Len(t, f.api.events, 1)

	mapping := f.mapping(t, goal.Ref())
	assert.Equal(t, `"v2"`, mapping.Etag, "update refreshes the stored etag")
}

func TestSyncGoalCompletedRemovesEvent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	require.NotNil(t, f.mapping(t, goal.Ref()))

	goal.Status = models.GoalStatusCompleted
	require.NoError(t, f.goals.Update(ctx, goal))
	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	assert.Nil(t, f.mapping(t, goal.Ref()), "completed goal loses its mapping")
	assert.Empty(t, f.api.events, "completed goal loses its event")
}

func TestSyncGoalDeletedGoal(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	require.NoError(t, f.goals.Delete(ctx, goal.ID))

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	assert.Nil(t, f.mapping(t, goal.Ref()))
	assert.Empty(t, f.api.events)
}

func TestSyncGoalUnassignedIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	goal := f.seedGoal(t, dueOn(2025, time.June, 1))

	require.NoError(t, f.syncer.SyncGoal(context.Background(), f.userID, goal.ID))

	assert.Zero(t, f.api.creates)
	assert.Nil(t, f.mapping(t, goal.Ref()))
}

func TestSyncGoalNoDueDateIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	goal := f.seedGoal(t, nil, f.userID)

	require.NoError(t, f.syncer.SyncGoal(context.Background(), f.userID, goal.ID))

	assert.Zero(t, f.api.creates)
	assert.Nil(t, f.mapping(t, goal.Ref()))
}

func TestSyncGoalPausedCredentialIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.creds.SetStatus(ctx, f.userID, models.SyncStatusPaused))
	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	assert.Zero(t, f.api.creates, "paused credential suspends syncing")
}

func TestSyncGoalSelfHealsStaleMapping(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	first := f.mapping(t, goal.Ref())

	// The user deletes the event from their calendar directly.
	f.api.mu.Lock()
	delete(f.api.events, first.GoogleEventID)
	f.api.mu.Unlock()

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))

	second := f.mapping(t, goal.Ref())
	require.NotNil(t, second)
	assert.NotEqual(t, first.GoogleEventID, second.GoogleEventID, "stale mapping is replaced")
	assert.Equal(t, 2, f.api.creates)
	f.api.event(t, second.GoogleEventID)
}

func TestSyncReviewCreatesReminder(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	review := f.seedReview(t, models.SyncableWeeklyReview, time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC))

	require.NoError(t, f.syncer.SyncReview(ctx, f.userID, review.Kind, review.ID))

	mapping := f.mapping(t, review.Ref())
	require.NotNil(t, mapping)

	data := f.api.event(t, mapping.GoogleEventID)
	assert.Equal(t, "[Weekly Review] The Smiths", data.Summary)
	assert.True(t, data.Date.Equal(time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC)),
		"reminder lands on the period's last day, got %s", data.Date.Format("2006-01-02"))
}

func TestSyncReviewCompletedRemovesReminder(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	review := f.seedReview(t, models.SyncableMonthlyReview, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, f.syncer.SyncReview(ctx, f.userID, review.Kind, review.ID))
	require.NotNil(t, f.mapping(t, review.Ref()))

	require.NoError(t, f.reviews.SetCompleted(ctx, review.ID, true))
	require.NoError(t, f.syncer.SyncReview(ctx, f.userID, review.Kind, review.ID))

	assert.Nil(t, f.mapping(t, review.Ref()))
	assert.Empty(t, f.api.events)
}

func TestSyncReviewOtherUsersReviewIsNoop(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	other := uuid.New()
	require.NoError(t, db.EnsureUser(ctx, f.database, other, "Other", "other@example.com"))
	review := &models.Review{
		ID:          uuid.New(),
		Kind:        models.SyncableWeeklyReview,
		FamilyID:    f.familyID,
		UserID:      other,
		PeriodStart: time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.reviews.Create(ctx, review))

	require.NoError(t, f.syncer.SyncReview(ctx, f.userID, review.Kind, review.ID))
	assert.Zero(t, f.api.creates)
}

func TestFullSyncSweepsEverything(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)
	f.seedGoal(t, dueOn(2025, time.July, 1), f.userID)
	f.seedReview(t, models.SyncableWeeklyReview, time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC))
	f.seedReview(t, models.SyncableYearlyReview, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))

	report, err := f.syncer.FullSync(ctx, f.userID)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Synced)
	assert.Empty(t, report.Failures)
	assert.Zero(t, report.OrphansRemoved)
	assert.Len(t, f.api.events, 4)
}

func TestFullSyncIsolatesEntityFailures(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)
	broken := f.seedGoal(t, dueOn(2025, time.July, 1), f.userID)
	broken.Title = "Broken goal"
	require.NoError(t, f.goals.Update(ctx, broken))
	f.api.failSummaries["[Goal] Broken goal"] = fmt.Errorf("transient backend error")

	report, err := f.syncer.FullSync(ctx, f.userID)
	require.NoError(t, err, "one entity's failure must not fail the sweep")

	assert.Equal(t, 1, report.Synced)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, broken.ID, report.Failures[0].Syncable.ID)

	cred, getErr := f.creds.Get(ctx, f.userID)
	require.NoError(t, getErr)
	assert.NotNil(t, cred.LastSyncAt, "sweep with isolated failures still counts as a sync")
}

func TestFullSyncAbortsOnQuota(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)
	f.api.failAll = &QuotaExceededError{Err: fmt.Errorf("rate limited")}

	_, err := f.syncer.FullSync(ctx, f.userID)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	cred, getErr := f.creds.Get(ctx, f.userID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SyncStatusActive, cred.SyncStatus, "rate limits never flip the credential to error")
}

func TestFullSyncRemovesOrphanedMappings(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	require.NoError(t, f.goals.Unassign(ctx, goal.ID, f.userID))

	report, err := f.syncer.FullSync(ctx, f.userID)
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrphansRemoved)
	assert.Nil(t, f.mapping(t, goal.Ref()))
	assert.Empty(t, f.api.events, "orphaned event is deleted remotely")
}

func TestRemoveSyncable(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	goal := f.seedGoal(t, dueOn(2025, time.June, 1), f.userID)

	require.NoError(t, f.syncer.SyncGoal(ctx, f.userID, goal.ID))
	require.NoError(t, f.syncer.RemoveSyncable(ctx, f.userID, goal.Ref()))

	assert.Nil(t, f.mapping(t, goal.Ref()))
	assert.Empty(t, f.api.events)

	// Removing again is a no-op.
	require.NoError(t, f.syncer.RemoveSyncable(ctx, f.userID, goal.Ref()))
}
