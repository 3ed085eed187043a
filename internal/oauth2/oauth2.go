// Package oauth2 keeps a valid bearer token available for each source during
// one run. Refreshed tokens are handed to the caller only; they are never
// written back to the database, so the next run simply refreshes again.
package oauth2

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
)

// Manager performs the refresh exchange against the identity provider.
type Manager struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	logger       *slog.Logger
	now          func() time.Time
}

// NewManager creates a token manager for one provider's client credentials.
func NewManager(provider, clientID, clientSecret string, logger *slog.Logger) (*Manager, error) {
	endpoint, err := ProviderEndpoint(provider)
	if err != nil {
		return nil, err
	}
	return &Manager{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     endpoint,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// NewManagerWithEndpoint is like NewManager with an explicit token endpoint,
// used by tests.
func NewManagerWithEndpoint(clientID, clientSecret string, endpoint oauth2.Endpoint, logger *slog.Logger) *Manager {
	return &Manager{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     endpoint,
		logger:       logger,
		now:          time.Now,
	}
}

// EnsureValid returns a usable access token for the given stored credential
// triple. If the stored expiry is strictly in the future the stored token is
// returned unchanged; otherwise a refresh-grant exchange is performed and the
// fresh token returned. The result is caller-scoped only.
func (m *Manager) EnsureValid(ctx context.Context, accessToken, refreshToken string, expiresAt *time.Time) (string, error) {
	if expiresAt != nil && expiresAt.After(m.now()) {
		return accessToken, nil
	}

	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token available")
	}

	cfg := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint:     m.endpoint,
	}

	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	m.logger.Debug("access token refreshed", "expires_at", token.Expiry.Format(time.RFC3339))
	return token.AccessToken, nil
}
