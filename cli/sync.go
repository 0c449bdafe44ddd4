// ABOUTME: Sync CLI commands for single entities, full sweeps, and the daemon
// ABOUTME: Surfaces the batch report so partial failures are visible
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthapp/calsync/models"
	"github.com/hearthapp/calsync/sync"
)

// SyncCommand reconciles calendar events for one user: a single goal or
// review when flagged, otherwise a full sweep.
func SyncCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	goalFlag := fs.String("goal", "", "Sync a single goal by ID")
	reviewFlag := fs.String("review", "", "Sync a single review as <kind>:<id>")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	ctx := context.Background()

	switch {
	case *goalFlag != "":
		goalID, err := uuid.Parse(*goalFlag)
		if err != nil {
			return fmt.Errorf("--goal must be a valid goal ID: %w", err)
		}
		if err := env.Syncer.SyncGoal(ctx, userID, goalID); err != nil {
			return fmt.Errorf("goal sync failed: %w", err)
		}
		fmt.Println("✓ Goal synced")
		return nil

	case *reviewFlag != "":
		kind, reviewID, err := parseReviewArg(*reviewFlag)
		if err != nil {
			return err
		}
		if err := env.Syncer.SyncReview(ctx, userID, kind, reviewID); err != nil {
			return fmt.Errorf("review sync failed: %w", err)
		}
		fmt.Println("✓ Review synced")
		return nil

	default:
		report, err := env.Syncer.FullSync(ctx, userID)
		printReport(report)
		if err != nil {
			return fmt.Errorf("full sync failed: %w", err)
		}
		return nil
	}
}

// DaemonCommand runs full syncs for every connected user on an interval.
// Per-user syncs run concurrently; the syncer serializes same-user work.
func DaemonCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	intervalFlag := fs.Duration("interval", 15*time.Minute, "Time between full sync sweeps")
	onceFlag := fs.Bool("once", false, "Run a single sweep and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()

	runSweep := func() {
		userIDs, err := env.Creds.ListUsers(ctx)
		if err != nil {
			log.Printf("daemon: failed to list users: %v", err)
			return
		}

		var wg stdsync.WaitGroup
		for _, userID := range userIDs {
			wg.Add(1)
			go func(userID uuid.UUID) {
				defer wg.Done()
				report, err := env.Syncer.FullSync(ctx, userID)
				if err != nil {
					log.Printf("daemon: full sync failed for user %s: %v", userID, err)
					return
				}
				log.Printf("daemon: user %s synced %d, removed %d orphans, %d failures",
					userID, report.Synced, report.OrphansRemoved, len(report.Failures))
			}(userID)
		}
		wg.Wait()
	}

	runSweep()
	if *onceFlag {
		return nil
	}

	ticker := time.NewTicker(*intervalFlag)
	defer ticker.Stop()

	log.Printf("daemon: sweeping every %s", *intervalFlag)
	for range ticker.C {
		runSweep()
	}

	return nil
}

// RemoveCommand tears down the mapping and remote event for a deleted entity.
func RemoveCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	kindFlag := fs.String("kind", "", "Syncable kind (goal or a review kind)")
	idFlag := fs.String("id", "", "Syncable entity ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	kind := models.SyncableKind(*kindFlag)
	if kind != models.SyncableGoal && !kind.IsReview() {
		return fmt.Errorf("unknown syncable kind %q", *kindFlag)
	}

	entityID, err := uuid.Parse(*idFlag)
	if err != nil {
		return fmt.Errorf("--id must be a valid entity ID: %w", err)
	}

	ref := models.SyncableRef{Kind: kind, ID: entityID}
	if err := env.Syncer.RemoveSyncable(context.Background(), userID, ref); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}

	fmt.Println("✓ Mapping removed")
	return nil
}

// parseReviewArg splits "<kind>:<id>" and validates the kind.
func parseReviewArg(arg string) (models.SyncableKind, uuid.UUID, error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return "", uuid.Nil, fmt.Errorf("--review must be <kind>:<id>")
	}

	kind := models.SyncableKind(parts[0])
	if !kind.IsReview() {
		return "", uuid.Nil, fmt.Errorf("unknown review kind %q", parts[0])
	}

	reviewID, err := uuid.Parse(parts[1])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid review ID: %w", err)
	}

	return kind, reviewID, nil
}

func printReport(report *sync.Report) {
	fmt.Printf("✓ Synced %d entities\n", report.Synced)
	if report.OrphansRemoved > 0 {
		fmt.Printf("✓ Removed %d orphaned events\n", report.OrphansRemoved)
	}
	for _, failure := range report.Failures {
		fmt.Printf("  ✗ %s %s: %v\n", failure.Syncable.Kind, failure.Syncable.ID, failure.Err)
	}
}
