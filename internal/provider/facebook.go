package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// FacebookDefaultAuthURL is Facebook's OAuth 2.0 authorization endpoint.
	FacebookDefaultAuthURL = "https://www.facebook.com/v16.0/dialog/oauth"
	// FacebookDefaultTokenURL is Facebook's OAuth 2.0 token endpoint.
	FacebookDefaultTokenURL = "https://graph.facebook.com/v16.0/oauth/access_token"
	// FacebookDefaultUserURL is Facebook's user info endpoint.
	FacebookDefaultUserURL = "https://graph.facebook.com/me"
)

// FacebookAdapter implements the Adapter interface for Facebook OAuth 2.0.
// Facebook access tokens exceed the token column size, so they are not
// persisted (RetainsToken is false). Outbound calls go through the proxied
// client when one is configured.
type FacebookAdapter struct {
	cfg  Config
	http *HTTPClient
}

// NewFacebookAdapter creates a new Facebook adapter.
func NewFacebookAdapter(cfg Config, c Clients) (*FacebookAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("facebook: client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("facebook: client_secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("facebook: callback_url is required")
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = FacebookDefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = FacebookDefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = FacebookDefaultUserURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"email", "public_profile"}
	}

	return &FacebookAdapter{cfg: cfg, http: c.Proxied}, nil
}

// FacebookFactory creates a Facebook adapter from config.
func FacebookFactory(cfg Config, c Clients) (Adapter, error) {
	return NewFacebookAdapter(cfg, c)
}

// Type returns the provider type tag.
func (p *FacebookAdapter) Type() string {
	return "facebook"
}

// AuthorizationURL builds the authorization URL.
func (p *FacebookAdapter) AuthorizationURL(nextURL string) string {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.cfg.CallbackURL},
		"scope":         {strings.Join(p.cfg.Scopes, ",")},
	}
	return p.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token.
func (p *FacebookAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {p.cfg.CallbackURL},
	}

	body, err := p.http.PostForm(ctx, p.cfg.TokenURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook: %v", ErrTokenExchange, err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: facebook: parsing token response: %v", ErrTokenExchange, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: facebook: no access_token in response: %s", ErrTokenExchange, body)
	}

	return &Token{AccessToken: resp.AccessToken}, nil
}

// facebookUserResponse represents Facebook's user info response structure.
type facebookUserResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FetchProfile fetches user information from Facebook.
func (p *FacebookAdapter) FetchProfile(ctx context.Context, tok *Token) (*Profile, error) {
	params := url.Values{
		"access_token": {tok.AccessToken},
		"fields":       {"id,name,picture,email"},
	}

	body, err := p.http.Get(ctx, p.cfg.UserURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: facebook: %v", ErrProfileFetch, err)
	}

	var resp facebookUserResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: facebook: parsing profile: %v", ErrProfileFetch, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: facebook: no id in profile: %s", ErrProfileFetch, body)
	}

	return &Profile{
		OpenID:      resp.ID,
		Nickname:    resp.Name,
		AvatarURL:   resp.Picture.Data.URL,
		Email:       resp.Email,
		AccessToken: tok.AccessToken,
		Raw:         body,
	}, nil
}

// AvatarFromRaw re-extracts the avatar URL from a stored raw profile.
func (p *FacebookAdapter) AvatarFromRaw(raw string) (string, error) {
	var resp facebookUserResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("facebook: parsing raw profile: %w", err)
	}
	return resp.Picture.Data.URL, nil
}

// RetainsToken reports that Facebook access tokens are withheld from storage.
func (p *FacebookAdapter) RetainsToken() bool {
	return false
}
