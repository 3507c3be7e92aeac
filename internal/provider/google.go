package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// GoogleDefaultAuthURL is Google's OAuth 2.0 authorization endpoint.
	GoogleDefaultAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	// GoogleDefaultTokenURL is Google's OAuth 2.0 token endpoint.
	GoogleDefaultTokenURL = "https://www.googleapis.com/oauth2/v4/token"
	// GoogleDefaultUserURL is Google's user info endpoint.
	GoogleDefaultUserURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleAdapter implements the Adapter interface for Google OAuth 2.0.
// Outbound calls go through the proxied client when one is configured.
type GoogleAdapter struct {
	cfg  Config
	http *HTTPClient
}

// NewGoogleAdapter creates a new Google adapter.
func NewGoogleAdapter(cfg Config, c Clients) (*GoogleAdapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google: client_id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google: client_secret is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("google: callback_url is required")
	}

	if cfg.AuthURL == "" {
		cfg.AuthURL = GoogleDefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleDefaultTokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = GoogleDefaultUserURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email"}
	}

	return &GoogleAdapter{cfg: cfg, http: c.Proxied}, nil
}

// GoogleFactory creates a Google adapter from config.
func GoogleFactory(cfg Config, c Clients) (Adapter, error) {
	return NewGoogleAdapter(cfg, c)
}

// Type returns the provider type tag.
func (p *GoogleAdapter) Type() string {
	return "google"
}

// AuthorizationURL builds the authorization URL. Google does not accept a
// composite redirect_uri, so the return path is not embedded.
func (p *GoogleAdapter) AuthorizationURL(nextURL string) string {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {p.cfg.CallbackURL},
		"scope":         {strings.Join(p.cfg.Scopes, " ")},
	}
	return p.cfg.AuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token. The
// token response also carries an id_token; its subject claim is extracted
// (claims only, no verification) as the provider user hint.
func (p *GoogleAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {p.cfg.CallbackURL},
	}

	body, err := p.http.PostForm(ctx, p.cfg.TokenURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrTokenExchange, err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: google: parsing token response: %v", ErrTokenExchange, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: google: no access_token in response: %s", ErrTokenExchange, body)
	}

	tok := &Token{AccessToken: resp.AccessToken}
	if resp.IDToken != "" {
		// The userinfo call is the authoritative source for the subject;
		// this is only a hint, so a malformed id_token is not fatal.
		if parsed, err := jwt.ParseInsecure([]byte(resp.IDToken)); err == nil {
			tok.OpenID = parsed.Subject()
		}
	}

	return tok, nil
}

// googleUserResponse represents Google's userinfo response structure.
type googleUserResponse struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Email   string `json:"email"`
}

// FetchProfile fetches user information from Google.
func (p *GoogleAdapter) FetchProfile(ctx context.Context, tok *Token) (*Profile, error) {
	params := url.Values{
		"access_token": {tok.AccessToken},
	}

	body, err := p.http.Get(ctx, p.cfg.UserURL, params, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %v", ErrProfileFetch, err)
	}

	var resp googleUserResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("%w: google: parsing profile: %v", ErrProfileFetch, err)
	}
	if resp.Sub == "" {
		return nil, fmt.Errorf("%w: google: no sub in profile: %s", ErrProfileFetch, body)
	}

	return &Profile{
		OpenID:      resp.Sub,
		Nickname:    resp.Name,
		AvatarURL:   resp.Picture,
		Email:       resp.Email,
		AccessToken: tok.AccessToken,
		Raw:         body,
	}, nil
}

// AvatarFromRaw re-extracts the avatar URL from a stored raw profile.
func (p *GoogleAdapter) AvatarFromRaw(raw string) (string, error) {
	var resp googleUserResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("google: parsing raw profile: %w", err)
	}
	return resp.Picture, nil
}

// RetainsToken reports that Google access tokens are persisted.
func (p *GoogleAdapter) RetainsToken() bool {
	return true
}
