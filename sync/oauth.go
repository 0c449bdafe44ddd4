// ABOUTME: OAuth configuration and token lifecycle management for Google APIs
// ABOUTME: Builds consent URLs, exchanges authorization codes, refreshes tokens
package sync

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested from Google: event read/write on the selected calendar
// plus read-only calendar listing for the connect flow.
var calendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/calendar.calendarlist.readonly",
}

// OAuthConfig holds the Google OAuth client credentials. Built once at
// process start and passed to NewTokenManager; never read from globals.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// LoadOAuthConfig reads client credentials from the environment.
func LoadOAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
	}
}

// TokenSet is the result of a code exchange or token refresh. Persisting it
// is the caller's job.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenManager performs the OAuth operations against Google's authorization
// server. It is stateless; every call is a one-shot network request.
type TokenManager struct {
	config   OAuthConfig
	endpoint oauth2.Endpoint
}

// NewTokenManager creates a token manager for the given client credentials.
func NewTokenManager(config OAuthConfig) *TokenManager {
	return &TokenManager{config: config, endpoint: google.Endpoint}
}

// SetEndpoint overrides the authorization server endpoint, used by tests.
func (m *TokenManager) SetEndpoint(endpoint oauth2.Endpoint) {
	m.endpoint = endpoint
}

// oauthConfig builds the oauth2 config for one redirect URI.
func (m *TokenManager) oauthConfig(redirectURI string) (*oauth2.Config, error) {
	if m.config.ClientID == "" || m.config.ClientSecret == "" {
		return nil, &ConfigurationError{Reason: "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set"}
	}

	return &oauth2.Config{
		ClientID:     m.config.ClientID,
		ClientSecret: m.config.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       calendarScopes,
		Endpoint:     m.endpoint,
	}, nil
}

// AuthorizationURL builds the consent URL for the caller-supplied anti-forgery
// state. Offline access is requested so a refresh token is issued.
func (m *TokenManager) AuthorizationURL(state, redirectURI string) (string, error) {
	config, err := m.oauthConfig(redirectURI)
	if err != nil {
		return "", err
	}

	return config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ExchangeCode swaps an authorization code for a token set.
func (m *TokenManager) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	config, err := m.oauthConfig(redirectURI)
	if err != nil {
		return nil, err
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, &TokenExchangeError{Description: retrieveErrorDescription(err), Err: err}
	}

	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// RefreshAccessToken obtains a fresh access token. When the provider omits
// the refresh token from the response, the previous value is carried forward.
func (m *TokenManager) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	config, err := m.oauthConfig("")
	if err != nil {
		return nil, err
	}

	source := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, &TokenExchangeError{Description: retrieveErrorDescription(err), Err: err}
	}

	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}

	return set, nil
}

// retrieveErrorDescription pulls the provider's error description out of an
// oauth2 retrieval failure, when present.
func retrieveErrorDescription(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorDescription != "" {
			return retrieveErr.ErrorDescription
		}
		if retrieveErr.ErrorCode != "" {
			return retrieveErr.ErrorCode
		}
	}
	return ""
}
