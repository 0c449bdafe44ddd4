// ABOUTME: Calendar API client for Google Calendar event CRUD
// ABOUTME: Refreshes tokens before every call and maps provider errors
package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/models"
)

// Access tokens within this window of expiry are refreshed before use.
const tokenRefreshWindow = 5 * time.Minute

// EventData is the local triple a calendar event is built from. Events are
// due-date markers, not meetings, so only a date is carried.
type EventData struct {
	Summary     string
	Description string
	Date        time.Time
}

// EventHandle is the remote identity returned by create and update calls.
type EventHandle struct {
	EventID string
	Etag    string
}

// CalendarInfo describes one entry from the user's calendar list.
type CalendarInfo struct {
	ID      string
	Summary string
	Primary bool
}

// EventAPI is the slice of the calendar layer the orchestrator drives.
type EventAPI interface {
	CreateEvent(ctx context.Context, data EventData) (*EventHandle, error)
	UpdateEvent(ctx context.Context, eventID, etag string, data EventData) (*EventHandle, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// CalendarClient wraps event CRUD against one user's selected calendar.
// Every call guarantees a valid access token first, persisting refreshed
// tokens through the credential store.
type CalendarClient struct {
	tokens *TokenManager
	creds  *db.CredentialStore
	cred   *models.Credential
	opts   []option.ClientOption
}

// NewCalendarClient creates a client bound to one credential. Extra client
// options are appended after the token source; tests use them to point the
// service at a local endpoint.
func NewCalendarClient(tokens *TokenManager, creds *db.CredentialStore, cred *models.Credential, opts ...option.ClientOption) *CalendarClient {
	return &CalendarClient{tokens: tokens, creds: creds, cred: cred, opts: opts}
}

// ensureFreshToken refreshes the access token when it is near expiry and
// persists the result. Refresh failure marks the credential and surfaces as
// TokenExpiredError.
func (c *CalendarClient) ensureFreshToken(ctx context.Context) error {
	if c.cred.ExpiresWithin(tokenRefreshWindow) {
		set, err := c.tokens.RefreshAccessToken(ctx, c.cred.RefreshToken)
		if err != nil {
			_ = c.creds.MarkError(ctx, c.cred, fmt.Sprintf("token refresh failed: %v", err))
			return &TokenExpiredError{Err: err}
		}

		c.cred.AccessToken = set.AccessToken
		c.cred.RefreshToken = set.RefreshToken
		c.cred.TokenExpiresAt = set.ExpiresAt
		if err := c.creds.UpdateTokens(ctx, c.cred); err != nil {
			return fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
	}

	if c.cred.IsExpired() {
		return &TokenExpiredError{}
	}

	return nil
}

// service builds a calendar service carrying the current access token.
func (c *CalendarClient) service(ctx context.Context) (*calendar.Service, error) {
	if err := c.ensureFreshToken(ctx); err != nil {
		return nil, err
	}

	return newCalendarService(ctx, c.cred.AccessToken, c.opts...)
}

// CreateEvent inserts an all-day event on the credential's calendar.
func (c *CalendarClient) CreateEvent(ctx context.Context, data EventData) (*EventHandle, error) {
	service, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	event, err := service.Events.Insert(c.cred.CalendarID, buildEvent(data)).Context(ctx).Do()
	if err != nil {
		return nil, c.translate(ctx, "", err)
	}

	return &EventHandle{EventID: event.Id, Etag: event.Etag}, nil
}

// UpdateEvent rewrites an event, conditional on the mapping's etag so a
// concurrent remote edit is not silently overwritten.
func (c *CalendarClient) UpdateEvent(ctx context.Context, eventID, etag string, data EventData) (*EventHandle, error) {
	service, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	call := service.Events.Update(c.cred.CalendarID, eventID, buildEvent(data)).Context(ctx)
	if etag != "" {
		call.Header().Set("If-Match", etag)
	}

	event, err := call.Do()
	if err != nil {
		return nil, c.translate(ctx, eventID, err)
	}

	return &EventHandle{EventID: event.Id, Etag: event.Etag}, nil
}

// DeleteEvent removes an event. A remote "not found" counts as success so
// repeated deletes are idempotent.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	service, err := c.service(ctx)
	if err != nil {
		return err
	}

	if err := service.Events.Delete(c.cred.CalendarID, eventID).Context(ctx).Do(); err != nil {
		translated := c.translate(ctx, eventID, err)
		if IsEventNotFound(translated) {
			return nil
		}
		return translated
	}

	return nil
}

// ListCalendars returns the user's calendar list.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	service, err := c.service(ctx)
	if err != nil {
		return nil, err
	}

	list, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, c.translate(ctx, "", err)
	}

	return calendarInfos(list), nil
}

// ListCalendarsWithToken lists calendars using a bare access token, for the
// connect flow before a credential row exists.
func ListCalendarsWithToken(ctx context.Context, accessToken string, opts ...option.ClientOption) ([]CalendarInfo, error) {
	service, err := newCalendarService(ctx, accessToken, opts...)
	if err != nil {
		return nil, err
	}

	list, err := service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, translateAPIError("", err)
	}

	return calendarInfos(list), nil
}

func newCalendarService(ctx context.Context, accessToken string, opts ...option.ClientOption) (*calendar.Service, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	allOpts := append([]option.ClientOption{option.WithTokenSource(source)}, opts...)

	service, err := calendar.NewService(ctx, allOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return service, nil
}

func calendarInfos(list *calendar.CalendarList) []CalendarInfo {
	infos := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		infos = append(infos, CalendarInfo{ID: item.Id, Summary: item.Summary, Primary: item.Primary})
	}
	return infos
}

// buildEvent maps the local triple to an all-day event. The end date is
// exclusive per the Calendar API, so a one-day marker ends the next day.
// Default reminders are suppressed; these are due-date markers, not meetings.
func buildEvent(data EventData) *calendar.Event {
	start := data.Date.Format("2006-01-02")
	end := data.Date.AddDate(0, 0, 1).Format("2006-01-02")

	return &calendar.Event{
		Summary:     data.Summary,
		Description: data.Description,
		Start:       &calendar.EventDateTime{Date: start},
		End:         &calendar.EventDateTime{Date: end},
		Reminders: &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// translate maps a provider error into the local taxonomy and records
// authentication rejections on the credential.
func (c *CalendarClient) translate(ctx context.Context, eventID string, err error) error {
	translated := translateAPIError(eventID, err)

	var authErr *AuthenticationError
	if errors.As(translated, &authErr) {
		_ = c.creds.MarkError(ctx, c.cred, translated.Error())
	}

	return translated
}

// translateAPIError maps googleapi status codes onto the error taxonomy.
func translateAPIError(eventID string, err error) error {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return fmt.Errorf("calendar request failed: %w", err)
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return &AuthenticationError{Err: apiErr}
	case http.StatusForbidden:
		if isRateLimitReason(apiErr) {
			return &QuotaExceededError{Err: apiErr}
		}
		return &AuthenticationError{Err: apiErr}
	case http.StatusNotFound, http.StatusGone:
		return &EventNotFoundError{EventID: eventID}
	case http.StatusTooManyRequests:
		return &QuotaExceededError{Err: apiErr}
	default:
		return fmt.Errorf("calendar request failed: %w", apiErr)
	}
}

// isRateLimitReason reports whether a 403 carries a rate-limit reason rather
// than an authorization failure.
func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}
