// ABOUTME: Sync orchestrator reconciling local goals and reviews with calendar events
// ABOUTME: Drives single-entity syncs, full sweeps with failure isolation, and orphan cleanup
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/models"
)

// Failure attributes one entity's sync error inside a full sweep.
type Failure struct {
	Syncable models.SyncableRef
	Err      error
}

// Report summarizes one full sync sweep.
type Report struct {
	Synced         int
	OrphansRemoved int
	Failures       []Failure
}

// Syncer reconciles local entities against remote calendar events per user.
// Operations for the same user are serialized; token refreshes and status
// writes on one credential must not race.
type Syncer struct {
	creds    *db.CredentialStore
	mappings *db.MappingStore
	goals    *db.GoalStore
	reviews  *db.ReviewStore

	// NewEventAPI builds the calendar layer for one credential. Tests swap
	// in a fake.
	NewEventAPI func(cred *models.Credential) EventAPI

	logger    *log.Logger
	userLocks stdsync.Map // uuid.UUID -> *stdsync.Mutex
}

// NewSyncer wires an orchestrator over the database. Client options are
// passed through to the calendar service, letting tests point it at a local
// endpoint.
func NewSyncer(database *sql.DB, cipher *db.TokenCipher, tokens *TokenManager, clientOpts ...option.ClientOption) *Syncer {
	creds := db.NewCredentialStore(database, cipher)

	s := &Syncer{
		creds:    creds,
		mappings: db.NewMappingStore(database),
		goals:    db.NewGoalStore(database),
		reviews:  db.NewReviewStore(database),
		logger:   log.Default(),
	}
	s.NewEventAPI = func(cred *models.Credential) EventAPI {
		return NewCalendarClient(tokens, creds, cred, clientOpts...)
	}

	return s
}

// lockUser serializes operations for one user. Returns the unlock func.
func (s *Syncer) lockUser(userID uuid.UUID) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &stdsync.Mutex{})
	mu := v.(*stdsync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SyncGoal reconciles one goal for one user. No-op unless the credential is
// active and the user is among the goal's assignees; a deleted goal tears
// down its mapping.
func (s *Syncer) SyncGoal(ctx context.Context, userID, goalID uuid.UUID) error {
	defer s.lockUser(userID)()

	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil || !cred.IsActive() {
		return nil
	}

	goal, err := s.goals.Get(ctx, goalID)
	if err != nil {
		return err
	}

	api := s.NewEventAPI(cred)

	if goal == nil {
		err = s.removeForRef(ctx, api, userID, models.SyncableRef{Kind: models.SyncableGoal, ID: goalID})
		s.recordOutcome(ctx, cred, err)
		return err
	}

	if !goal.AssignedTo(userID) {
		// Stale mappings from unassignment are collected by the next full
		// sync's orphan pass.
		return nil
	}

	err = s.reconcileGoal(ctx, api, cred, userID, goal)
	s.recordOutcome(ctx, cred, err)
	return err
}

// SyncReview reconciles one periodic review for one user. No-op unless the
// credential is active.
func (s *Syncer) SyncReview(ctx context.Context, userID uuid.UUID, kind models.SyncableKind, reviewID uuid.UUID) error {
	defer s.lockUser(userID)()

	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil || !cred.IsActive() {
		return nil
	}

	review, err := s.reviews.Get(ctx, kind, reviewID)
	if err != nil {
		return err
	}

	api := s.NewEventAPI(cred)

	if review == nil {
		err = s.removeForRef(ctx, api, userID, models.SyncableRef{Kind: kind, ID: reviewID})
		s.recordOutcome(ctx, cred, err)
		return err
	}

	if review.UserID != userID {
		return nil
	}

	err = s.reconcileReview(ctx, api, cred, userID, review)
	s.recordOutcome(ctx, cred, err)
	return err
}

// FullSync reconciles every syncable entity for one user: goals first, then
// the four review kinds' incomplete rows, then orphan cleanup. Per-entity
// failures are collected into the report without stopping the sweep;
// credential-level failures and rate limits abort it.
func (s *Syncer) FullSync(ctx context.Context, userID uuid.UUID) (*Report, error) {
	defer s.lockUser(userID)()

	report := &Report{}

	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return report, err
	}
	if cred == nil || !cred.IsActive() {
		return report, nil
	}

	api := s.NewEventAPI(cred)

	goals, err := s.goals.ListAssignedTo(ctx, userID)
	if err != nil {
		return report, err
	}
	for _, goal := range goals {
		err := s.reconcileGoal(ctx, api, cred, userID, goal)
		if abort := s.collect(report, goal.Ref(), err); abort != nil {
			return report, abort
		}
	}

	for _, kind := range models.ReviewKinds {
		reviews, err := s.reviews.ListIncompleteForUser(ctx, userID, kind)
		if err != nil {
			return report, err
		}
		for _, review := range reviews {
			err := s.reconcileReview(ctx, api, cred, userID, review)
			if abort := s.collect(report, review.Ref(), err); abort != nil {
				return report, abort
			}
		}
	}

	// Orphan cleanup runs after the goal sweep so it observes post-sync
	// mapping state.
	if err := s.cleanupOrphans(ctx, api, userID, report); err != nil {
		return report, err
	}

	s.recordOutcome(ctx, cred, nil)
	return report, nil
}

// RemoveSyncable tears down the mapping for a deleted entity, deleting the
// remote event when a credential is still present.
func (s *Syncer) RemoveSyncable(ctx context.Context, userID uuid.UUID, ref models.SyncableRef) error {
	defer s.lockUser(userID)()

	mapping, err := s.mappings.GetBySyncable(ctx, userID, ref)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}

	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		// No calendar target left; drop the row.
		return s.mappings.Delete(ctx, mapping.ID)
	}

	return s.removeMapped(ctx, s.NewEventAPI(cred), mapping)
}

// collect files a per-entity failure into the report, or returns the error
// when it must abort the sweep (broken credential or rate limit).
func (s *Syncer) collect(report *Report, ref models.SyncableRef, err error) error {
	if err == nil {
		report.Synced++
		return nil
	}
	if IsCredentialFailure(err) || IsQuotaExceeded(err) {
		return err
	}

	s.logger.Printf("sync: skipping %s %s: %v", ref.Kind, ref.ID, err)
	report.Failures = append(report.Failures, Failure{Syncable: ref, Err: err})
	return nil
}

// cleanupOrphans removes goal mappings whose goal is gone or no longer lists
// the user as an assignee. Credential and quota failures abort; anything else
// is filed into the report.
func (s *Syncer) cleanupOrphans(ctx context.Context, api EventAPI, userID uuid.UUID, report *Report) error {
	mappings, err := s.mappings.ListForUser(ctx, userID, models.SyncableGoal)
	if err != nil {
		return err
	}

	for _, mapping := range mappings {
		goal, err := s.goals.Get(ctx, mapping.Syncable.ID)
		if err != nil {
			return err
		}
		if goal != nil && goal.AssignedTo(userID) {
			continue
		}

		if err := s.removeMapped(ctx, api, mapping); err != nil {
			if IsCredentialFailure(err) || IsQuotaExceeded(err) {
				return err
			}
			s.logger.Printf("sync: orphan cleanup failed for %s %s: %v", mapping.Syncable.Kind, mapping.Syncable.ID, err)
			report.Failures = append(report.Failures, Failure{Syncable: mapping.Syncable, Err: err})
			continue
		}
		report.OrphansRemoved++
	}

	return nil
}

// reconcileGoal decides whether the goal's event should exist and converges
// the mapping toward that decision.
func (s *Syncer) reconcileGoal(ctx context.Context, api EventAPI, cred *models.Credential, userID uuid.UUID, goal *models.Goal) error {
	if goal.ShouldHaveEvent() {
		return s.createOrUpdate(ctx, api, cred, userID, goal.Ref(), goalEventData(goal))
	}
	return s.removeForRef(ctx, api, userID, goal.Ref())
}

// reconcileReview converges the review's mapping against its reminder date.
func (s *Syncer) reconcileReview(ctx context.Context, api EventAPI, cred *models.Credential, userID uuid.UUID, review *models.Review) error {
	date := review.ReminderDate()
	if date == nil {
		return s.removeForRef(ctx, api, userID, review.Ref())
	}
	return s.createOrUpdate(ctx, api, cred, userID, review.Ref(), reviewEventData(review, *date))
}

// createOrUpdate is the create-or-update half of reconciliation. A stale
// mapping (remote event deleted out from under us) self-heals: the mapping
// is dropped and the event recreated.
func (s *Syncer) createOrUpdate(ctx context.Context, api EventAPI, cred *models.Credential, userID uuid.UUID, ref models.SyncableRef, data EventData) error {
	mapping, err := s.mappings.GetBySyncable(ctx, userID, ref)
	if err != nil {
		return err
	}

	if mapping == nil {
		return s.createEvent(ctx, api, cred, userID, ref, data)
	}

	handle, err := api.UpdateEvent(ctx, mapping.GoogleEventID, mapping.Etag, data)
	if err != nil {
		if IsEventNotFound(err) {
			if err := s.mappings.Delete(ctx, mapping.ID); err != nil {
				return err
			}
			return s.createEvent(ctx, api, cred, userID, ref, data)
		}
		return err
	}

	return s.mappings.Touch(ctx, mapping, handle.Etag)
}

func (s *Syncer) createEvent(ctx context.Context, api EventAPI, cred *models.Credential, userID uuid.UUID, ref models.SyncableRef, data EventData) error {
	handle, err := api.CreateEvent(ctx, data)
	if err != nil {
		return err
	}

	return s.mappings.Create(ctx, &models.EventMapping{
		UserID:           userID,
		Syncable:         ref,
		GoogleEventID:    handle.EventID,
		GoogleCalendarID: cred.CalendarID,
		Etag:             handle.Etag,
	})
}

// removeForRef deletes the remote event and mapping for a ref, if mapped.
func (s *Syncer) removeForRef(ctx context.Context, api EventAPI, userID uuid.UUID, ref models.SyncableRef) error {
	mapping, err := s.mappings.GetBySyncable(ctx, userID, ref)
	if err != nil {
		return err
	}
	if mapping == nil {
		return nil
	}
	return s.removeMapped(ctx, api, mapping)
}

// removeMapped deletes the remote event (not-found is success) then the row.
func (s *Syncer) removeMapped(ctx context.Context, api EventAPI, mapping *models.EventMapping) error {
	if err := api.DeleteEvent(ctx, mapping.GoogleEventID); err != nil {
		return err
	}
	return s.mappings.Delete(ctx, mapping.ID)
}

// recordOutcome updates credential bookkeeping after a sync operation.
// Success clears last_error and bumps last_sync_at. Credential failures are
// already marked by the client layer, and rate limits never touch status.
func (s *Syncer) recordOutcome(ctx context.Context, cred *models.Credential, err error) {
	if err == nil {
		if markErr := s.creds.MarkSynced(ctx, cred); markErr != nil {
			s.logger.Printf("sync: failed to record success for user %s: %v", cred.UserID, markErr)
		}
		return
	}
	if IsQuotaExceeded(err) || IsCredentialFailure(err) {
		return
	}
	if markErr := s.creds.MarkError(ctx, cred, err.Error()); markErr != nil {
		s.logger.Printf("sync: failed to record error for user %s: %v", cred.UserID, markErr)
	}
}

// goalEventData builds the event text for a goal due-date marker.
func goalEventData(goal *models.Goal) EventData {
	description := fmt.Sprintf("Due date for the %s goal %q.", goal.FamilyName, goal.Title)
	if goal.FamilyName == "" {
		description = fmt.Sprintf("Due date for the goal %q.", goal.Title)
	}

	return EventData{
		Summary:     "[Goal] " + goal.Title,
		Description: description,
		Date:        *goal.DueDate,
	}
}

// reviewEventData builds the event text for a review period-end reminder.
func reviewEventData(review *models.Review, date time.Time) EventData {
	label := review.Kind.KindLabel()
	summary := fmt.Sprintf("[%s Review] %s", label, review.FamilyName)
	if review.FamilyName == "" {
		summary = fmt.Sprintf("[%s Review]", label)
	}

	return EventData{
		Summary:     summary,
		Description: fmt.Sprintf("%s review reminder for %s.", label, review.PeriodLabel()),
		Date:        date,
	}
}
