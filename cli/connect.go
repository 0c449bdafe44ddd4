// ABOUTME: Calendar connect flow CLI commands
// ABOUTME: Handles OAuth consent, calendar selection, and credential lifecycle
package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/models"
	"github.com/hearthapp/calsync/sync"
)

// ConnectCommand runs the Google consent flow for one user, lets them pick a
// target calendar, and stores the credential.
func ConnectCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	nameFlag := fs.String("name", "", "User display name")
	calendarFlag := fs.String("calendar", "", "Target calendar ID (default: primary)")
	listenFlag := fs.String("listen", ":8080", "Local address for the OAuth callback")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	ctx := context.Background()
	redirectURI := fmt.Sprintf("http://localhost%s/oauth/callback", *listenFlag)
	state := uuid.NewString()

	authURL, err := env.Tokens.AuthorizationURL(state, redirectURI)
	if err != nil {
		return fmt.Errorf("failed to build authorization URL: %w", err)
	}

	// Start local server for OAuth callback
	tokenChan := make(chan *sync.TokenSet)
	errChan := make(chan error)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errChan <- fmt.Errorf("state mismatch in OAuth callback")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			return
		}

		set, err := env.Tokens.ExchangeCode(ctx, code, redirectURI)
		if err != nil {
			errChan <- err
			return
		}

		tokenChan <- set
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	server := &http.Server{Addr: *listenFlag, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	fmt.Println("Opening browser for Google OAuth...")
	fmt.Printf("\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)
	_ = openBrowser(authURL)

	var set *sync.TokenSet
	select {
	case set = <-tokenChan:
		_ = server.Shutdown(ctx)
	case err := <-errChan:
		_ = server.Shutdown(ctx)
		return fmt.Errorf("OAuth flow failed: %w", err)
	}

	// List calendars with the fresh token, before any credential row exists
	calendars, err := sync.ListCalendarsWithToken(ctx, set.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to list calendars: %w", err)
	}
	if len(calendars) == 0 {
		return fmt.Errorf("no calendars available on this account")
	}

	selected, err := pickCalendar(calendars, *calendarFlag)
	if err != nil {
		return err
	}

	if err := db.EnsureUser(ctx, env.DB, userID, *nameFlag, ""); err != nil {
		return err
	}

	cred := &models.Credential{
		UserID:         userID,
		AccessToken:    set.AccessToken,
		RefreshToken:   set.RefreshToken,
		TokenExpiresAt: set.ExpiresAt,
		CalendarID:     selected.ID,
		CalendarName:   selected.Summary,
		AccountEmail:   accountEmail(calendars),
		SyncStatus:     models.SyncStatusActive,
	}
	if err := env.Creds.Create(ctx, cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	fmt.Printf("\n✓ Connected calendar %q for user %s\n", selected.Summary, userID)
	fmt.Println("Run 'calsync sync --user <id>' to sync goals and reviews.")

	return nil
}

// DisconnectCommand deletes the credential and all of the user's mappings.
func DisconnectCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("disconnect", flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	if err := env.Creds.Delete(context.Background(), userID); err != nil {
		return err
	}

	fmt.Printf("✓ Disconnected calendar for user %s\n", userID)
	return nil
}

// PauseCommand pauses syncing without discarding the credential.
func PauseCommand(env *Env, args []string) error {
	return setStatusCommand(env, args, "pause", models.SyncStatusPaused)
}

// ResumeCommand reactivates a paused or errored credential.
func ResumeCommand(env *Env, args []string) error {
	return setStatusCommand(env, args, "resume", models.SyncStatusActive)
}

func setStatusCommand(env *Env, args []string, name, status string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	ctx := context.Background()
	cred, err := env.Creds.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return fmt.Errorf("no calendar connected for user %s", userID)
	}

	if err := env.Creds.SetStatus(ctx, userID, status); err != nil {
		return err
	}

	fmt.Printf("✓ Sync %sd for user %s\n", name, userID)
	return nil
}

// StatusCommand prints the credential's sync state.
func StatusCommand(env *Env, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	userFlag := fs.String("user", "", "User ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("--user must be a valid user ID: %w", err)
	}

	cred, err := env.Creds.Get(context.Background(), userID)
	if err != nil {
		return err
	}
	if cred == nil {
		fmt.Println("No calendar connected.")
		return nil
	}

	fmt.Printf("Calendar:   %s (%s)\n", cred.CalendarName, cred.CalendarID)
	fmt.Printf("Status:     %s\n", cred.SyncStatus)
	if cred.LastSyncAt != nil {
		fmt.Printf("Last sync:  %s\n", cred.LastSyncAt.Format(time.RFC1123))
	} else {
		fmt.Println("Last sync:  never")
	}
	if cred.LastError != "" {
		fmt.Printf("Last error: %s\n", cred.LastError)
	}
	fmt.Printf("Token:      expires %s\n", cred.TokenExpiresAt.Format(time.RFC1123))

	return nil
}

// pickCalendar resolves the --calendar flag against the listed calendars,
// defaulting to the primary calendar.
func pickCalendar(calendars []sync.CalendarInfo, calendarID string) (*sync.CalendarInfo, error) {
	if calendarID != "" {
		for i := range calendars {
			if calendars[i].ID == calendarID {
				return &calendars[i], nil
			}
		}
		return nil, fmt.Errorf("calendar %q not found on this account", calendarID)
	}

	for i := range calendars {
		if calendars[i].Primary {
			return &calendars[i], nil
		}
	}
	return &calendars[0], nil
}

// accountEmail returns the primary calendar's ID, which Google sets to the
// account email.
func accountEmail(calendars []sync.CalendarInfo) string {
	for _, c := range calendars {
		if c.Primary {
			return c.ID
		}
	}
	return ""
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
