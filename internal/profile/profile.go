// Package profile resolves user ids to display profiles through the internal
// profile service. Lookup failures degrade to a placeholder profile so a
// profile outage never fails a friends or feed request.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/setup/config"
)

// ErrUserNotFound indicates the profile service knows no such user.
var ErrUserNotFound = errors.New("user not found")

// placeholderName is shown when a profile cannot be resolved.
const placeholderName = "Unknown User"

// Profile is the public display information of a user.
type Profile struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Provider resolves user profiles.
type Provider interface {
	// Lookup returns the profile for a user id, ErrUserNotFound when the
	// user does not exist, or another error on infrastructure failure.
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

// Resolve looks up a profile and degrades any failure other than a missing
// user to a placeholder rather than failing the request.
func Resolve(ctx context.Context, provider Provider, userID string, logger *zap.Logger) *Profile {
	p, err := provider.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			logger.Warn("Profile lookup failed, using placeholder",
				zap.String("userID", userID), zap.Error(err))
		}
		return Placeholder(userID)
	}
	return p
}

// Placeholder builds the stand-in profile for an unresolvable user.
func Placeholder(userID string) *Profile {
	return &Profile{
		UserID:      userID,
		DisplayName: placeholderName,
	}
}

// HTTPProvider looks up profiles over the internal profile service API.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPProvider creates a provider against the configured profile service.
func NewHTTPProvider(cfg *config.Profile, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		logger: logger.Named("profile"),
	}
}

// Lookup fetches a profile by user id.
func (p *HTTPProvider) Lookup(ctx context.Context, userID string) (*Profile, error) {
	endpoint := fmt.Sprintf("%s/v1/profiles/%s", p.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrUserNotFound
	default:
		return nil, fmt.Errorf("profile service returned status %d", resp.StatusCode)
	}

	var profile Profile
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return &profile, nil
}

// PlaceholderProvider serves a placeholder for every user id. Used when no
// profile service is configured, where every user is presumed to exist.
type PlaceholderProvider struct{}

// Lookup returns a placeholder profile.
func (PlaceholderProvider) Lookup(_ context.Context, userID string) (*Profile, error) {
	return Placeholder(userID), nil
}

// StaticProvider serves profiles from a fixed map. Used by tests and local
// development runs without a profile service.
type StaticProvider struct {
	profiles map[string]*Profile
}

// NewStaticProvider creates a provider over the given profiles.
func NewStaticProvider(profiles ...*Profile) *StaticProvider {
	m := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		m[p.UserID] = p
	}
	return &StaticProvider{profiles: m}
}

// Lookup returns the profile for a user id, or ErrUserNotFound.
func (p *StaticProvider) Lookup(_ context.Context, userID string) (*Profile, error) {
	profile, ok := p.profiles[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return profile, nil
}
