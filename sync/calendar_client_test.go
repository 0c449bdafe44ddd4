// ABOUTME: Tests for the calendar client against a stub Calendar API server
// ABOUTME: Covers event payloads, etag handling, error mapping, token refresh
package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/models"
)

// testStores opens a throwaway database with one connected user.
func testStores(t *testing.T) (*db.CredentialStore, *models.Credential) {
	t.Helper()

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
	require.NoError(t, db.EnsureUser(context.Background(), database, userID, "Test User", "user@example.com"))

	creds := db.NewCredentialStore(database, cipher)
	cred := &models.Credential{
		UserID:         userID,
		AccessToken:    "access-token",
		RefreshToken:   "refresh-token",
		TokenExpiresAt: time.Now().Add(time.Hour),
		CalendarID:     "primary",
		CalendarName:   "Personal",
		SyncStatus:     models.SyncStatusActive,
	}
	require.NoError(t, creds.Create(context.Background(), cred))

	return creds, cred
}

// stubTokenServer counts refresh requests and always issues the same token.
func stubTokenServer(t *testing.T, refreshes *int) *TokenManager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*refreshes++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "refreshed-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)

	manager := NewTokenManager(OAuthConfig{ClientID: "client-id", ClientSecret: "client-secret"})
	manager.SetEndpoint(oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams})
	return manager
}

// stubCalendarServer serves the subset of the Calendar API the client touches.
func stubCalendarServer(t *testing.T, handler http.HandlerFunc) option.ClientOption {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return option.WithEndpoint(srv.URL)
}

func writeEvent(w http.ResponseWriter, id, etag string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "etag": etag})
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]any{{"reason": reason}},
		},
	})
}

func TestCreateEventPayload(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	var body map[string]any
	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/calendars/primary/events")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEvent(w, "evt-1", `"v1"`)
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	handle, err := client.CreateEvent(context.Background(), EventData{
		Summary:     "[Goal] Learn piano",
		Description: "Family: The Smiths",
		Date:        time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", handle.EventID)
	assert.Equal(t, `"v1"`, handle.Etag)
	assert.Zero(t, refreshes, "fresh token should not be refreshed")

	assert.Equal(t, "[Goal] Learn piano", body["summary"])
	start := body["start"].(map[string]any)
	end := body["end"].(map[string]any)
	assert.Equal(t, "2025-06-01", start["date"], "all-day events carry a date, not a dateTime")
	assert.Equal(t, "2025-06-02", end["date"], "end date is exclusive")
	reminders := body["reminders"].(map[string]any)
	assert.Equal(t, false, reminders["useDefault"], "default reminders are suppressed")
}

func TestUpdateEventSendsIfMatch(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	var ifMatch string
	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/events/evt-1"))
		ifMatch = r.Header.Get("If-Match")
		writeEvent(w, "evt-1", `"v2"`)
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	handle, err := client.UpdateEvent(context.Background(), "evt-1", `"v1"`, EventData{
		Summary: "[Goal] Learn piano",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, `"v1"`, ifMatch)
	assert.Equal(t, `"v2"`, handle.Etag)
}

func TestDeleteEventIdempotent(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		writeAPIError(w, http.StatusNotFound, "notFound")
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	err := client.DeleteEvent(context.Background(), "evt-gone")
	assert.NoError(t, err, "deleting an already-deleted event succeeds")
}

func TestUpdateEventNotFound(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusGone, "deleted")
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	_, err := client.UpdateEvent(context.Background(), "evt-gone", "", EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, IsEventNotFound(err))
}

func TestQuotaErrorsDoNotMarkCredential(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusForbidden, "rateLimitExceeded")
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	_, err := client.CreateEvent(context.Background(), EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsCredentialFailure(err))

	got, getErr := creds.Get(context.Background(), cred.UserID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SyncStatusActive, got.SyncStatus, "rate limits leave the credential alone")
}

func TestAuthErrorMarksCredential(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "authError")
	})

	client := NewCalendarClient(tokens, creds, cred, endpoint)
	_, err := client.CreateEvent(context.Background(), EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, IsCredentialFailure(err))

	got, getErr := creds.Get(context.Background(), cred.UserID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	assert.NotEmpty(t, got.LastError)
}

func TestTokenRefreshedInsideWindow(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	var authHeader string
	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		writeEvent(w, "evt-1", `"v1"`)
	})

	cred.TokenExpiresAt = time.Now().Add(4 * time.Minute)
	client := NewCalendarClient(tokens, creds, cred, endpoint)
	_, err := client.CreateEvent(context.Background(), EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, refreshes, "a token inside the refresh window triggers exactly one refresh")
	assert.Equal(t, "Bearer refreshed-access", authHeader)

	got, err := creds.Get(context.Background(), cred.UserID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", got.AccessToken, "refreshed token is persisted")
	assert.Equal(t, "refresh-token", got.RefreshToken, "refresh token carries forward")
}

func TestTokenNotRefreshedOutsideWindow(t *testing.T) {
	creds, cred := testStores(t)
	var refreshes int
	tokens := stubTokenServer(t, &refreshes)

	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, "evt-1", `"v1"`)
	})

	cred.TokenExpiresAt = time.Now().Add(10 * time.Minute)
	client := NewCalendarClient(tokens, creds, cred, endpoint)
	_, err := client.CreateEvent(context.Background(), EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Zero(t, refreshes, "a token outside the refresh window is used as is")
}

func TestRefreshFailureMarksCredential(t *testing.T) {
	creds, cred := testStores(t)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	}))
	t.Cleanup(tokenSrv.Close)

	tokens := NewTokenManager(OAuthConfig{ClientID: "client-id", ClientSecret: "client-secret"})
	tokens.SetEndpoint(oauth2.Endpoint{TokenURL: tokenSrv.URL, AuthStyle: oauth2.AuthStyleInParams})

	cred.TokenExpiresAt = time.Now().Add(-time.Minute)
	client := NewCalendarClient(tokens, creds, cred)
	_, err := client.CreateEvent(context.Background(), EventData{
		Summary: "x",
		Date:    time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	})

	var expiredErr *TokenExpiredError
	require.ErrorAs(t, err, &expiredErr)
	assert.True(t, IsCredentialFailure(err))

	got, getErr := creds.Get(context.Background(), cred.UserID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SyncStatusError, got.SyncStatus)
	assert.Contains(t, got.LastError, "token refresh failed")
}

func TestListCalendarsWithToken(t *testing.T) {
	endpoint := stubCalendarServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/users/me/calendarList")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "primary", "summary": "Personal", "primary": true},
				{"id": "family@group.calendar.google.com", "summary": "Family"},
			},
		})
	})

	infos, err := ListCalendarsWithToken(context.Background(), "access-token", endpoint)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Primary)
	assert.Equal(t, "Family", infos[1].Summary)
}
