// Package provider implements the adapters for external OAuth 2.0 identity
// services. Each adapter normalizes one provider's wire protocol (JSON,
// form-urlencoded or JSONP-wrapped bodies) onto the same capability set.
package provider

import (
	"context"
	"errors"
)

// Profile holds normalized user information fetched from any provider.
type Profile struct {
	OpenID      string // Provider-scoped unique identifier
	Nickname    string // Display name
	AvatarURL   string // Avatar URL (may be empty)
	Email       string // Email, if the provider returned one; unverified by default
	AccessToken string // Token used for the profile fetch
	Raw         string // Raw response body, kept for audit/debug re-extraction
}

// Token holds the result of a code-for-token exchange.
type Token struct {
	AccessToken string
	OpenID      string // Provider user hint, when the token response carries one
}

// Config holds the configuration for one provider adapter. The endpoint
// fields default per adapter and exist so tests can point adapters at mock
// servers, mirroring how operators override them for private deployments.
type Config struct {
	Type         string   // Provider type tag (e.g. "weibo", "qq")
	ClientID     string   // OAuth client ID
	ClientSecret string   // OAuth client secret
	CallbackURL  string   // OAuth callback URL, includes the ?type=<tag> query
	AuthURL      string   // Authorization endpoint (optional, default if empty)
	TokenURL     string   // Token endpoint (optional, default if empty)
	UserURL      string   // Profile endpoint (optional, default if empty)
	OpenIDURL    string   // Identifier-resolution endpoint (qq only)
	Scopes       []string // OAuth scopes (optional, default if empty)
}

// Adapter is the uniform contract every identity provider implements.
type Adapter interface {
	// Type returns the provider type tag (e.g. "weibo", "github").
	Type() string

	// AuthorizationURL builds the provider's authorization endpoint URL.
	// nextURL is the post-login return path; providers that support it embed
	// it inside redirect_uri as a composite query parameter. Pure
	// construction, no network call.
	AuthorizationURL(nextURL string) string

	// ExchangeCode exchanges an authorization code for an access token.
	// Failures wrap ErrTokenExchange and never touch stored state.
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// FetchProfile fetches and normalizes the user profile for tok. For
	// providers whose token response carries no user identifier, this may
	// involve an extra identifier-resolution round trip first.
	FetchProfile(ctx context.Context, tok *Token) (*Profile, error)

	// AvatarFromRaw re-extracts the avatar URL from a previously stored raw
	// profile without a network call.
	AvatarFromRaw(raw string) (string, error)

	// RetainsToken reports whether the access token should be persisted on
	// the linked identity. False for providers whose tokens are oversized.
	RetainsToken() bool
}

// Clients bundles the outbound HTTP clients an adapter chooses from.
// Proxied equals Direct when no forward proxy is configured.
type Clients struct {
	Direct  *HTTPClient
	Proxied *HTTPClient
}

// Factory creates an Adapter from a Config.
type Factory func(cfg Config, c Clients) (Adapter, error)

// Sentinel errors. Adapters wrap these so callers can classify failures
// without inspecting provider-specific detail.
var (
	ErrTokenExchange = errors.New("provider: token exchange failed")
	ErrProfileFetch  = errors.New("provider: profile fetch failed")
)
