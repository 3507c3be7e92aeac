package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// GitHubDefaultAuthURL is GitHub's OAuth 2.0 authorization endpoint.
	GitHubDefaultAuthURL = "https://github.com/login/oauth/authorize"
	// GitHubDefaultTokenURL is GitHub's OAuth 2.0 token endpoint.
	GitHubDefaultTokenURL = "https://github.com/login/oauth/access_token"
	// GitHubDefaultUserURL is GitHub's user info endpoint.
	GitHubDefaultUserURL = "https://api.github.com/user"
)

// GitHubAdapter implements the Adapter interface for GitHub OAuth 2.0.
// GitHub's token endpoint answers with a form-urlencoded body. Outbound
// calls go through the proxied client when one is configured.
type GitHubAdapter struct {
	cfg  Config
	http *HTTPClient
}

// NewGitHubAdapter creates a new GitHub adapter.
func NewGitHubAdapter(cfg Config, c Clients) (*GitHubAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("github: client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("github: client_secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("github: callback_url is required")
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = GitHubDefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GitHubDefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = GitHubDefaultUserURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"user"}
	}

	return &GitHubAdapter{cfg: cfg, http: c.Proxied}, nil
}

// GitHubFactory creates a GitHub adapter from config.
func GitHubFactory(cfg Config, c Clients) (Adapter, error) {
	return NewGitHubAdapter(cfg, c)
}

// Type returns the provider type tag.
func (p *GitHubAdapter) Type() string {
	return "github"
}

// AuthorizationURL builds the authorization URL with the return path
// embedded inside redirect_uri.
func (p *GitHubAdapter) AuthorizationURL(nextURL string) string {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.cfg.CallbackURL + "&next_url=" + nextURL},
		"scope":         {strings.Join(p.cfg.Scopes, " ")},
	}
	return p.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token. The
// response body is form-urlencoded (key=value&...), not JSON.
func (p *GitHubAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.cfg.CallbackURL},
	}

	body, err := p.http.PostForm(ctx, p.cfg.TokenURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: github: %v", ErrTokenExchange, err)
	}

	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, fmt.Errorf("%w: github: parsing token response: %v", ErrTokenExchange, err)
	}
	accessToken := values.Get("access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("%w: github: no access_token in response: %s", ErrTokenExchange, body)
	}

	return &Token{AccessToken: accessToken}, nil
}

// githubUserResponse represents GitHub's user info response structure.
type githubUserResponse struct {
	ID        json.Number `json:"id"`
	Name      string      `json:"name"`
	AvatarURL string      `json:"avatar_url"`
	Email     string      `json:"email"`
}

// FetchProfile fetches user information from GitHub.
func (p *GitHubAdapter) FetchProfile(ctx context.Context, tok *Token) (*Profile, error) {
	body, err := p.http.Get(ctx, p.cfg.UserURL, nil, map[string]string{
		"Authorization": "token " + tok.AccessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: github: %v", ErrProfileFetch, err)
	}

	var resp githubUserResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: github: parsing profile: %v", ErrProfileFetch, err)
	}
	if resp.ID.String() == "" {
		return nil, fmt.Errorf("%w: github: no id in profile: %s", ErrProfileFetch, body)
	}

	return &Profile{
		OpenID:      resp.ID.String(),
		Nickname:    resp.Name,
		AvatarURL:   resp.AvatarURL,
		Email:       resp.Email,
		AccessToken: tok.AccessToken,
		Raw:         body,
	}, nil
}

// AvatarFromRaw re-extracts the avatar URL from a stored raw profile.
func (p *GitHubAdapter) AvatarFromRaw(raw string) (string, error) {
	var resp githubUserResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("github: parsing raw profile: %w", err)
	}
	return resp.AvatarURL, nil
}

// RetainsToken reports that GitHub access tokens are persisted.
func (p *GitHubAdapter) RetainsToken() bool {
	return true
}
